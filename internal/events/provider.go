package events

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/config"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events/bus"
)

// Provide builds the event bus: NATS when a URL is configured, the
// in-process bus otherwise. The cleanup function closes the bus.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
		return natsBus, natsBus.Close, nil
	}

	log.Info("Using in-memory event bus")
	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
