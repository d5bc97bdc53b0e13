package events

import (
	"fmt"
	"strings"

	"github.com/tabhub/tabhub/internal/common/config"
	"github.com/tabhub/tabhub/internal/common/logger"
	"github.com/tabhub/tabhub/internal/events/bus"
)

// Provide selects the event bus backend: NATS when a URL is configured,
// otherwise the in-memory bus. The returned cleanup flushes the backend.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return natsBus, func() error { natsBus.Close(); return nil }, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return memBus, func() error { memBus.Close(); return nil }, nil
}
