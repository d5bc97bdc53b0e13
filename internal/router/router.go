package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/windows"
	"github.com/tabhub/tabhub/pkg/frame"
)

// Targets resolves which window a call lands on.
type Targets interface {
	Resolve(explicitWindowID, sessionToken string) (windows.Window, error)
	BindAffinity(sessionToken, windowID string)
}

// PeerWriter is the slice of the hub the router writes through.
type PeerWriter interface {
	SendToPeer(peerID string, data []byte) bool
	PublishToObservers(data []byte)
}

// Router turns one agent call into one frame on one page connection and one
// correlated reply back.
type Router struct {
	targets        Targets
	writer         PeerWriter
	correlator     *Correlator
	defaultTimeout time.Duration
	logger         *logger.Logger
}

// NewRouter creates a router. defaultTimeout bounds calls that do not carry
// their own.
func NewRouter(targets Targets, writer PeerWriter, defaultTimeout time.Duration, log *logger.Logger) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 5000 * time.Millisecond
	}
	return &Router{
		targets:        targets,
		writer:         writer,
		correlator:     NewCorrelator(),
		defaultTimeout: defaultTimeout,
		logger:         log.WithComponent("router"),
	}
}

// Correlator exposes the pending map for wiring and tests.
func (r *Router) Correlator() *Correlator {
	return r.correlator
}

// Call resolves a target window, writes the frame, and blocks until the
// reply, the timeout, a transport failure, or ctx cancellation. The outcome
// is always a Reply value; resolution and transport problems surface as
// error strings inside it, never as panics. Cancellation only unparks the
// caller: the frame is already on the wire and the browser-side effect is
// not undone.
func (r *Router) Call(ctx context.Context, channel, action string, payload map[string]interface{}, timeout time.Duration, explicitWindowID, sessionToken string) frame.Reply {
	target, err := r.targets.Resolve(explicitWindowID, sessionToken)
	if err != nil {
		return *frame.NewErrorReply("", err.Error())
	}

	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	if payload == nil {
		payload = make(map[string]interface{})
	}
	// The page self-verifies the target; tell it which window we resolved.
	if _, ok := payload["windowId"]; !ok {
		payload["windowId"] = target.WindowID
	}

	id, waiter := r.correlator.Issue(target.PeerID, timeout)

	f, err := frame.New(id, channel, action, frame.SourceAgent, payload)
	if err != nil {
		r.correlator.Fail(id, err.Error())
		return <-waiter
	}
	data, err := json.Marshal(f)
	if err != nil {
		r.correlator.Fail(id, err.Error())
		return <-waiter
	}

	r.logger.Debug("Routing call",
		zap.String("channel", channel),
		zap.String("action", action),
		zap.String("window_id", target.WindowID),
		zap.String("correlation_id", id))

	// Observers see the outbound frame before the page can reply to it.
	r.writer.PublishToObservers(data)

	if !r.writer.SendToPeer(target.PeerID, data) {
		r.correlator.Fail(id, "Window disconnected")
		return <-waiter
	}

	var reply frame.Reply
	select {
	case reply = <-waiter:
	case <-ctx.Done():
		// Fail is a no-op if the real reply raced in; either way the waiter
		// holds exactly one resolution by now.
		r.correlator.Fail(id, "Request cancelled")
		reply = <-waiter
	}

	if reply.Success && explicitWindowID != "" && sessionToken != "" {
		r.targets.BindAffinity(sessionToken, target.WindowID)
	}
	return reply
}

// HandleReply is the hub's reply callback.
func (r *Router) HandleReply(peerID string, reply *frame.Reply) {
	r.correlator.Deliver(reply.ID, *reply)
}

// HandlePeerDisconnect fails every waiter parked on a dropped page.
func (r *Router) HandlePeerDisconnect(peerID, role string) {
	r.correlator.FailPeer(peerID, "Window disconnected")
}
