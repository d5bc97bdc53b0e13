// Package status maintains the one-line status shared by every terminal:
// a map of tool → short string rendered as a single line, plus a bounded
// queue of push notices drained over REST.
package status

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events"
	"github.com/tabhub/tabhub/internal/events/bus"
	"github.com/tabhub/tabhub/pkg/frame"
)

// maxMessages bounds the push-notice queue; the oldest notice drops first.
const maxMessages = 100

// Broadcaster delivers a marshaled frame to every terminal peer.
type Broadcaster interface {
	BroadcastToTerminals(data []byte)
}

// Message is one push notice awaiting pickup.
type Message struct {
	Tool      string    `json:"tool"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Aggregator holds the tool → value map. Tools keep the slot their first
// update claimed, so the rendered line is stable as values change.
type Aggregator struct {
	mu       sync.Mutex
	items    map[string]string
	order    []string
	messages []Message

	broadcaster Broadcaster
	eventBus    bus.EventBus
	logger      *logger.Logger
}

// NewAggregator creates the aggregator. broadcaster and eventBus may be nil
// in tests.
func NewAggregator(broadcaster Broadcaster, eventBus bus.EventBus, log *logger.Logger) *Aggregator {
	return &Aggregator{
		items:       make(map[string]string),
		broadcaster: broadcaster,
		eventBus:    eventBus,
		logger:      log.WithComponent("status"),
	}
}

// Update sets a tool's value; an empty value clears the tool. Terminals are
// rebroadcast the line on every effective change.
func (a *Aggregator) Update(tool, value string) {
	if tool == "" {
		return
	}

	a.mu.Lock()
	prev, existed := a.items[tool]
	if value == "" {
		if !existed {
			a.mu.Unlock()
			return
		}
		delete(a.items, tool)
		for i, t := range a.order {
			if t == tool {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
	} else {
		if existed && prev == value {
			a.mu.Unlock()
			return
		}
		if !existed {
			a.order = append(a.order, tool)
		}
		a.items[tool] = value
	}
	line, items := a.lineLocked(), a.itemsLocked()
	a.mu.Unlock()

	a.announce(line, items)
}

// Push appends a notice to the bounded queue and nudges terminals.
func (a *Aggregator) Push(tool, text string) {
	a.mu.Lock()
	a.messages = append(a.messages, Message{
		Tool:      tool,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if len(a.messages) > maxMessages {
		a.messages = a.messages[len(a.messages)-maxMessages:]
	}
	line, items := a.lineLocked(), a.itemsLocked()
	a.mu.Unlock()

	a.announce(line, items)
	a.notifyTerminals(tool, text)
}

// Line renders the compact single line: "tool: value | tool: value".
func (a *Aggregator) Line() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lineLocked()
}

// Items returns a copy of the current tool map.
func (a *Aggregator) Items() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.itemsLocked()
}

// Drain empties and returns the pending push notices, oldest first.
func (a *Aggregator) Drain() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.messages
	a.messages = nil
	if out == nil {
		out = []Message{}
	}
	return out
}

// Pending reports the queued notice count without draining.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

func (a *Aggregator) lineLocked() string {
	parts := make([]string, 0, len(a.order))
	for _, tool := range a.order {
		if value := a.items[tool]; value != "" {
			parts = append(parts, tool+": "+value)
		}
	}
	return strings.Join(parts, " | ")
}

func (a *Aggregator) itemsLocked() map[string]string {
	out := make(map[string]string, len(a.items))
	for k, v := range a.items {
		out[k] = v
	}
	return out
}

// announce broadcasts the status frame to terminals and mirrors the change
// onto the event bus. Both are fire-and-forget.
func (a *Aggregator) announce(line string, items map[string]string) {
	if a.broadcaster != nil {
		f, err := frame.NewSystem(frame.ActionStatus, frame.StatusPayload{Line: line, Items: items})
		if err == nil {
			if data, err := json.Marshal(f); err == nil {
				a.broadcaster.BroadcastToTerminals(data)
			}
		}
	}

	if a.eventBus != nil {
		event := bus.NewEvent(events.StatusChanged, "status", map[string]interface{}{
			"line": line,
		})
		if err := a.eventBus.Publish(context.Background(), events.StatusChanged, event); err != nil {
			a.logger.Warn("Failed to publish status change", zap.Error(err))
		}
	}
}

// notifyTerminals sends the push notice itself as a notice frame so idle
// terminals surface it without polling.
func (a *Aggregator) notifyTerminals(tool, text string) {
	if a.broadcaster == nil {
		return
	}
	f, err := frame.NewSystem(frame.ActionNotice, frame.NoticePayload{
		Kind:      frame.NoticeKindPush,
		From:      tool,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if data, err := json.Marshal(f); err == nil {
		a.broadcaster.BroadcastToTerminals(data)
	}
}
