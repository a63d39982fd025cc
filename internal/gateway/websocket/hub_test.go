package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
	ws "github.com/stewardhq/steward/pkg/websocket"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(ws.NewDispatcher(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

// recv drains one message from a client's send buffer.
func recv(t *testing.T, c *Client) *ws.Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message arrived")
		return nil
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	a := NewClient("a", nil, hub, logger.NewNop())
	b := NewClient("b", nil, hub, logger.NewNop())
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 },
		time.Second, 5*time.Millisecond)

	msg, err := ws.NewNotification(ws.ActionApprovalRequested, map[string]interface{}{"id": "apr-1"})
	require.NoError(t, err)
	hub.Broadcast(msg)

	assert.Equal(t, ws.ActionApprovalRequested, recv(t, a).Action)
	assert.Equal(t, ws.ActionApprovalRequested, recv(t, b).Action)
}

func TestHubConversationScopedDelivery(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	subscribed := NewClient("sub", nil, hub, logger.NewNop())
	bystander := NewClient("other", nil, hub, logger.NewNop())
	hub.Register(subscribed)
	hub.Register(bystander)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 },
		time.Second, 5*time.Millisecond)

	hub.SubscribeToConversation(subscribed, "conv-1")

	msg, err := ws.NewNotification(ws.ActionStreamChunk, map[string]interface{}{
		"conversation_id": "conv-1",
	})
	require.NoError(t, err)
	hub.BroadcastToConversation("conv-1", msg)

	assert.Equal(t, ws.ActionStreamChunk, recv(t, subscribed).Action)
	select {
	case <-bystander.send:
		t.Fatal("unsubscribed client received conversation traffic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	c := NewClient("c", nil, hub, logger.NewNop())
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.SubscribeToConversation(c, "conv-1")
	hub.UnsubscribeFromConversation(c, "conv-1")

	msg, err := ws.NewNotification(ws.ActionStreamChunk, map[string]interface{}{
		"conversation_id": "conv-1",
	})
	require.NoError(t, err)
	hub.BroadcastToConversation("conv-1", msg)

	select {
	case <-c.send:
		t.Fatal("unsubscribed client received conversation traffic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterCleansSubscriptions(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	c := NewClient("c", nil, hub, logger.NewNop())
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.SubscribeToConversation(c, "conv-1")
	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 },
		time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	_, lingering := hub.conversationSubscribers["conv-1"]
	hub.mu.RUnlock()
	assert.False(t, lingering)
}

func TestBroadcasterForwardsBusEvents(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	b := bus.NewMemoryEventBus(logger.NewNop())
	defer b.Close()

	br := NewBroadcaster(hub, b, logger.NewNop())
	require.NoError(t, br.Start())
	defer br.Close()

	subscribed := NewClient("sub", nil, hub, logger.NewNop())
	bystander := NewClient("other", nil, hub, logger.NewNop())
	hub.Register(subscribed)
	hub.Register(bystander)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 },
		time.Second, 5*time.Millisecond)
	hub.SubscribeToConversation(subscribed, "conv-1")

	t.Run("approval events broadcast to everyone", func(t *testing.T) {
		ev := bus.NewEvent(events.ApprovalRequested, "test", map[string]interface{}{"id": "apr-1"})
		require.NoError(t, b.Publish(context.Background(), events.ApprovalRequested, ev))

		assert.Equal(t, ws.ActionApprovalRequested, recv(t, subscribed).Action)
		assert.Equal(t, ws.ActionApprovalRequested, recv(t, bystander).Action)
	})

	t.Run("chunk events reach only subscribers", func(t *testing.T) {
		subject := events.BuildStreamChunkSubject("conv-1")
		ev := bus.NewEvent(subject, "test", map[string]interface{}{
			"conversation_id": "conv-1",
			"chunk":           map[string]interface{}{"type": "text", "text": "hi"},
		})
		require.NoError(t, b.Publish(context.Background(), subject, ev))

		got := recv(t, subscribed)
		assert.Equal(t, ws.ActionStreamChunk, got.Action)
		assert.Equal(t, ws.MessageTypeNotification, got.Type)

		select {
		case <-bystander.send:
			t.Fatal("unsubscribed client received chunk traffic")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("terminal output broadcasts to everyone", func(t *testing.T) {
		subject := events.BuildTerminalOutputSubject("term-1")
		ev := bus.NewEvent(subject, "test", map[string]interface{}{
			"session_id": "term-1",
			"data":       "aGk=",
		})
		require.NoError(t, b.Publish(context.Background(), subject, ev))

		assert.Equal(t, ws.ActionTerminalOutput, recv(t, subscribed).Action)
		assert.Equal(t, ws.ActionTerminalOutput, recv(t, bystander).Action)
	})
}

func newOriginRequest(t *testing.T, origin, host string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://"+host+"/ws", nil)
	r.Host = host
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "steward.example:8080", true},
		{"localhost origin", "http://localhost:3000", "steward.example:8080", true},
		{"loopback origin", "http://127.0.0.1:3000", "steward.example:8080", true},
		{"same host", "https://steward.example", "steward.example:8080", true},
		{"foreign host", "https://evil.example", "steward.example:8080", false},
		{"malformed origin", "://bad", "steward.example:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newOriginRequest(t, tt.origin, tt.host)
			assert.Equal(t, tt.want, checkWebSocketOrigin(r))
		})
	}
}
