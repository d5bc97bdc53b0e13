package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tabhub/tabhub/internal/common/logger"
)

// MemoryEventBus is the in-process EventBus and the default backend. The
// broker is a single process, so fanout is a walk over a subscription map.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*memorySub
	nextID uint64
	closed bool
	logger *logger.Logger
}

type memorySub struct {
	bus     *MemoryEventBus
	id      uint64
	pattern string
	match   func(string) bool
	handler EventHandler
}

// NewMemoryEventBus creates an empty in-memory bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subs:   make(map[uint64]*memorySub),
		logger: log.WithComponent("event-bus"),
	}
}

// Publish delivers the event to every matching subscription. Each handler
// runs on its own goroutine, so a slow consumer cannot stall the publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subs {
		if !sub.match(subject) {
			continue
		}
		go func(s *memorySub) {
			if err := s.handler(ctx, event); err != nil {
				b.logger.Error("Event handler error",
					zap.String("subject", subject),
					zap.String("pattern", s.pattern),
					zap.Error(err))
			}
		}(sub)
	}
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	match := matcherFor(subject)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	b.nextID++
	sub := &memorySub{
		bus:     b,
		id:      b.nextID,
		pattern: subject,
		match:   match,
		handler: handler,
	}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe drops the registration. Handlers already dispatched may still
// run; nothing new is delivered after return.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// Close drops every subscription and rejects further publishes.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[uint64]*memorySub)
}

// matcherFor compiles a subject pattern into a predicate. Plain subjects
// compare for equality; * matches one dot-separated token and > matches the
// rest of the subject.
func matcherFor(pattern string) func(string) bool {
	if !strings.ContainsAny(pattern, "*>") {
		return func(subject string) bool { return subject == pattern }
	}
	// QuoteMeta escapes * but leaves > alone; > is not a regex
	// metacharacter.
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	return regexp.MustCompile("^" + escaped + "$").MatchString
}
