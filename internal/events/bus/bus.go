// Package bus abstracts the event transport: the same publish/subscribe
// surface backed by NATS in deployments and by an in-process bus for
// single-binary runs and tests.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the unit carried on the bus. Data is a free-form payload;
// subscribers pick out the keys they know.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh event with a UUID and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event. A returned error is logged
// by the bus; it does not trigger redelivery.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a handle on an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the transport-independent pub/sub surface. Subjects are
// dot-separated and support NATS-style trailing wildcards.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error

	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe delivers each event to one member of the named
	// queue group instead of every subscriber.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	Close()

	IsConnected() bool
}
