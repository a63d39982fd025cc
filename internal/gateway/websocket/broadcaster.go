package websocket

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
	ws "github.com/stewardhq/steward/pkg/websocket"
)

// Broadcaster bridges the event bus to connected clients. Chunk-level
// stream traffic fans out only to clients subscribed to that
// conversation; lifecycle, approval, and terminal events go to
// everyone.
type Broadcaster struct {
	hub *Hub
	bus bus.EventBus
	log *logger.Logger

	subs []bus.Subscription
}

// NewBroadcaster creates a broadcaster for the given hub and bus.
func NewBroadcaster(hub *Hub, b bus.EventBus, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		hub: hub,
		bus: b,
		log: log.WithFields(zap.String("component", "ws_broadcaster")),
	}
}

// Start subscribes to every forwarded subject.
func (b *Broadcaster) Start() error {
	global := map[string]string{
		events.StreamStarted:     ws.ActionStreamStarted,
		events.StreamPromoted:    ws.ActionStreamPromoted,
		events.ApprovalRequested: ws.ActionApprovalRequested,
		events.ApprovalResolved:  ws.ActionApprovalResolved,
		events.ConversationCreated: ws.ActionConversationCreated,
		events.TurnRecorded:        ws.ActionTurnRecorded,
		events.BuildTerminalOutputWildcardSubject(): ws.ActionTerminalOutput,
		events.BuildTerminalExitWildcardSubject():   ws.ActionTerminalExited,
	}
	for subject, action := range global {
		if err := b.subscribe(subject, b.broadcastHandler(action)); err != nil {
			return err
		}
	}

	scoped := map[string]string{
		events.BuildStreamChunkWildcardSubject(): ws.ActionStreamChunk,
		events.BuildStreamEndedWildcardSubject(): ws.ActionStreamEnded,
	}
	for subject, action := range scoped {
		if err := b.subscribe(subject, b.conversationHandler(action)); err != nil {
			return err
		}
	}
	return nil
}

// Close drops every subscription.
func (b *Broadcaster) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *Broadcaster) subscribe(subject string, handler bus.EventHandler) error {
	sub, err := b.bus.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// broadcastHandler forwards an event to every client.
func (b *Broadcaster) broadcastHandler(action string) bus.EventHandler {
	return func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.log.Error("failed to build notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	}
}

// conversationHandler forwards an event only to clients subscribed to
// its conversation.
func (b *Broadcaster) conversationHandler(action string) bus.EventHandler {
	return func(ctx context.Context, event *bus.Event) error {
		convID, _ := event.Data["conversation_id"].(string)
		if convID == "" {
			b.log.Warn("dropping event without conversation id",
				zap.String("type", event.Type))
			return nil
		}
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.log.Error("failed to build notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToConversation(convID, msg)
		return nil
	}
}
