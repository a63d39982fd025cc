package approval

import (
	"context"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
)

// BusPublisher mirrors approval lifecycle notifications onto the event
// bus so transports outside the process (websocket, CLI pollers) can
// render the pending set. Register it as a gateway observer.
type BusPublisher struct {
	bus bus.EventBus
	log *logger.Logger
}

// NewBusPublisher creates a publisher for the given bus.
func NewBusPublisher(b bus.EventBus, log *logger.Logger) *BusPublisher {
	return &BusPublisher{bus: b, log: log}
}

// ApprovalRequested implements Observer.
func (p *BusPublisher) ApprovalRequested(req Request) {
	p.publish(events.ApprovalRequested, map[string]interface{}{
		"id":              req.ID,
		"conversation_id": req.ConversationID,
		"description":     req.Description,
		"is_sandboxed":    req.Sandboxed,
		"created_at":      req.CreatedAt,
	})
}

// ApprovalResolved implements Observer.
func (p *BusPublisher) ApprovalResolved(d Decision) {
	p.publish(events.ApprovalResolved, map[string]interface{}{
		"id":              d.ID,
		"conversation_id": d.ConversationID,
		"approved":        d.Approved,
		"reason":          string(d.Reason),
	})
}

func (p *BusPublisher) publish(subject string, data map[string]interface{}) {
	ev := bus.NewEvent(subject, "approval-gateway", data)
	if err := p.bus.Publish(context.Background(), subject, ev); err != nil {
		p.log.Warn("failed to publish approval event",
			zap.String("subject", subject), zap.Error(err))
	}
}
