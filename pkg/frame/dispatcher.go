package frame

import (
	"context"
	"fmt"
)

// Handler processes one system frame from a peer.
type Handler interface {
	Handle(ctx context.Context, peerID string, f *Frame) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, peerID string, f *Frame) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, peerID string, f *Frame) error {
	return fn(ctx, peerID, f)
}

// Dispatcher routes system frames to handlers by action.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds a handler for an action, replacing any existing one.
func (d *Dispatcher) Register(action string, h Handler) {
	d.handlers[action] = h
}

// RegisterFunc adds a function handler for an action.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.Register(action, fn)
}

// HasHandler reports whether an action is registered.
func (d *Dispatcher) HasHandler(action string) bool {
	_, ok := d.handlers[action]
	return ok
}

// Dispatch routes a frame to its handler. Unknown actions are an error so
// callers can log and drop them.
func (d *Dispatcher) Dispatch(ctx context.Context, peerID string, f *Frame) error {
	h, ok := d.handlers[f.Action]
	if !ok {
		return fmt.Errorf("unknown system action: %s", f.Action)
	}
	return h.Handle(ctx, peerID, f)
}
