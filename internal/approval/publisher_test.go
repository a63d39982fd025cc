package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
)

func TestBusPublisherMirrorsLifecycle(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.NewNop())
	defer b.Close()

	var mu sync.Mutex
	var got []*bus.Event
	collect := func(_ context.Context, ev *bus.Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	}
	_, err := b.Subscribe(events.ApprovalRequested, collect)
	require.NoError(t, err)
	_, err = b.Subscribe(events.ApprovalResolved, collect)
	require.NoError(t, err)

	g := NewGateway(ModeAlwaysAsk, time.Minute, logger.NewNop())
	g.AddObserver(NewBusPublisher(b, logger.NewNop()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		approved, err := g.Request(context.Background(), "conv-1", "Run: ls", true)
		assert.NoError(t, err)
		assert.True(t, approved)
	}()

	var reqID string
	require.Eventually(t, func() bool {
		pending := g.ListPending()
		if len(pending) != 1 {
			return false
		}
		reqID = pending[0].ID
		return true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Resolve(reqID, true))
	<-done

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, events.ApprovalRequested, got[0].Type)
	assert.Equal(t, reqID, got[0].Data["id"])
	assert.Equal(t, "conv-1", got[0].Data["conversation_id"])
	assert.Equal(t, true, got[0].Data["is_sandboxed"])

	assert.Equal(t, events.ApprovalResolved, got[1].Type)
	assert.Equal(t, true, got[1].Data["approved"])
	assert.Equal(t, string(ReasonApproved), got[1].Data["reason"])
}
