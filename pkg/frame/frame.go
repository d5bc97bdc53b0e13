// Package frame defines the wire envelope exchanged over tabhub WebSocket
// connections: routed frames, correlated replies, and the closed set of
// system payloads the broker itself understands.
package frame

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies who put a frame on the wire.
const (
	SourceAgent    = "agent"
	SourcePage     = "page"
	SourceTerminal = "terminal"
	SourceBroker   = "broker"
)

// ChannelSystem is the reserved channel for broker control traffic. Every
// other channel is opaque and routed verbatim.
const ChannelSystem = "system"

// System actions. Frames on any other channel/action pass through untouched.
const (
	ActionIdentity      = "identity"
	ActionWindowUpdated = "window-updated"
	ActionWindowState   = "window-state"
	ActionReload        = "reload"
	ActionFocus         = "focus"
	ActionActivate      = "activate"
	ActionDeactivate    = "deactivate"
	ActionStatus        = "status"
	ActionNotice        = "notice"
)

// Frame is a routed message. Replies to a frame carry the same ID.
type Frame struct {
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// Reply resolves a frame by ID with either data or an error string.
type Reply struct {
	ID        string          `json:"id"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New creates a frame with the given correlation ID and marshals the payload.
func New(id, channel, action, source string, payload interface{}) (*Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Frame{
		ID:        id,
		Channel:   channel,
		Action:    action,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}, nil
}

// NewSystem creates an uncorrelated system frame originating from the broker.
func NewSystem(action string, payload interface{}) (*Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Frame{
		Channel:   ChannelSystem,
		Action:    action,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    SourceBroker,
	}, nil
}

// NewReply creates a successful reply carrying data.
func NewReply(id string, data interface{}) (*Reply, error) {
	raw, err := marshalPayload(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reply data: %w", err)
	}
	return &Reply{
		ID:        id,
		Success:   true,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorReply creates a failed reply with an error string.
func NewErrorReply(id, errMsg string) *Reply {
	return &Reply{
		ID:        id,
		Success:   false,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// IsSystem reports whether the frame is on the reserved system channel.
func (f *Frame) IsSystem() bool {
	return f.Channel == ChannelSystem
}

// ParsePayload unmarshals the payload into v. A nil payload is a no-op.
func (f *Frame) ParsePayload(v interface{}) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// ParseData unmarshals the reply data into v. Nil data is a no-op.
func (r *Reply) ParseData(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// envelope is the union of Frame and Reply used to classify raw messages.
// A message is a reply iff it carries a success field.
type envelope struct {
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Action    string          `json:"action,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
}

// Decode classifies a raw wire message as either a frame or a reply.
// Exactly one of the two results is non-nil on success.
func Decode(data []byte) (*Frame, *Reply, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to decode wire message: %w", err)
	}
	if env.Success != nil {
		return nil, &Reply{
			ID:        env.ID,
			Success:   *env.Success,
			Data:      env.Data,
			Error:     env.Error,
			Timestamp: env.Timestamp,
		}, nil
	}
	if env.Channel == "" || env.Action == "" {
		return nil, nil, fmt.Errorf("wire message missing channel or action")
	}
	return &Frame{
		ID:        env.ID,
		Channel:   env.Channel,
		Action:    env.Action,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
		Source:    env.Source,
	}, nil, nil
}
