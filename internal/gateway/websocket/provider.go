package websocket

import (
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events/bus"
)

// Provide creates the WebSocket gateway and starts its event-bus
// bridge.
func Provide(svcs Services, b bus.EventBus, log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(svcs, b, log)
	if err := gateway.Broadcaster.Start(); err != nil {
		return nil, err
	}
	return gateway, nil
}
