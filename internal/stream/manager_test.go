package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
	"github.com/stewardhq/steward/internal/llm"
)

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, ev *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Subscribe(string, bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) QueueSubscribe(string, string, bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Close()            {}
func (b *recordingBus) IsConnected() bool { return true }

func (b *recordingBus) ofType(eventType string) []*bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*bus.Event
	for _, ev := range b.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// textEvents extracts the text payloads of flushed chunk events for key.
func (b *recordingBus) textEvents(key string) []string {
	var out []string
	for _, ev := range b.ofType(events.BuildStreamChunkSubject(key)) {
		c, ok := ev.Data["chunk"].(llm.Chunk)
		if ok && c.Type == llm.ChunkText {
			out = append(out, c.Text)
		}
	}
	return out
}

type managerFixture struct {
	m   *Manager
	b   *recordingBus
	now time.Time
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		b:   &recordingBus{},
		now: time.Unix(1700000000, 0),
	}
	f.m = NewManager(f.b, DefaultFlushInterval, logger.NewNop())
	f.m.now = func() time.Time { return f.now }
	return f
}

func (f *managerFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestManagerTextBatching(t *testing.T) {
	t.Run("gaps under the interval batch into one event", func(t *testing.T) {
		f := newManagerFixture(t)
		f.m.Register("c1", NewToken(), nil)

		for _, text := range []string{"Hel", "lo ", "wor", "ld"} {
			f.m.HandleChunk("c1", llm.TextChunk(text))
			f.advance(3 * time.Millisecond)
		}
		assert.Empty(t, f.b.textEvents("c1"), "nothing flushed inside the interval")

		f.m.Finalize("c1")
		assert.Equal(t, []string{"Hello world"}, f.b.textEvents("c1"))
	})

	t.Run("elapsed interval flushes the buffer", func(t *testing.T) {
		f := newManagerFixture(t)
		f.m.Register("c1", NewToken(), nil)

		f.m.HandleChunk("c1", llm.TextChunk("first "))
		f.advance(20 * time.Millisecond)
		f.m.HandleChunk("c1", llm.TextChunk("batch"))
		assert.Equal(t, []string{"first batch"}, f.b.textEvents("c1"))

		f.m.HandleChunk("c1", llm.TextChunk(" tail"))
		f.m.Finalize("c1")
		assert.Equal(t, []string{"first batch", " tail"}, f.b.textEvents("c1"))
	})

	t.Run("finalize with no pending text emits no empty chunk", func(t *testing.T) {
		f := newManagerFixture(t)
		f.m.Register("c1", NewToken(), nil)
		f.m.Finalize("c1")
		assert.Empty(t, f.b.textEvents("c1"))
	})

	t.Run("non-text chunks forward immediately", func(t *testing.T) {
		f := newManagerFixture(t)
		f.m.Register("c1", NewToken(), nil)

		f.m.HandleChunk("c1", llm.TextChunk("buffered"))
		f.m.HandleChunk("c1", llm.ToolCallStartedChunk("tc1", "run_command"))

		chunkEvents := f.b.ofType(events.BuildStreamChunkSubject("c1"))
		require.Len(t, chunkEvents, 1)
		c := chunkEvents[0].Data["chunk"].(llm.Chunk)
		assert.Equal(t, llm.ChunkToolCallStarted, c.Type)
	})
}

func TestManagerRegisterEviction(t *testing.T) {
	f := newManagerFixture(t)
	oldToken := NewToken()
	f.m.Register("c1", oldToken, nil)
	f.m.HandleChunk("c1", llm.TextChunk("unflushed"))

	f.m.Register("c1", NewToken(), nil)

	assert.True(t, oldToken.IsCancelled(), "evicted stream token must be set")
	assert.Equal(t, []string{"unflushed"}, f.b.textEvents("c1"), "evicted buffer is flushed")

	ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
	require.Len(t, ended, 1)
	assert.Equal(t, StatusCancelled, ended[0].Data["status"])

	started := f.b.ofType(events.StreamStarted)
	assert.Len(t, started, 2)
	assert.True(t, f.m.IsActive("c1"))
}

func TestManagerStop(t *testing.T) {
	t.Run("stop flushes text then ends cancelled", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		f.m.Register("c1", token, nil)
		f.m.HandleChunk("c1", llm.TextChunk("partial "))
		f.m.HandleChunk("c1", llm.TextChunk("answer"))

		require.True(t, f.m.Stop("c1"))

		assert.True(t, token.IsCancelled())
		assert.Equal(t, []string{"partial answer"}, f.b.textEvents("c1"))
		ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
		require.Len(t, ended, 1)
		assert.Equal(t, StatusCancelled, ended[0].Data["status"])
		assert.False(t, f.m.IsActive("c1"))
	})

	t.Run("stop unknown key reports false", func(t *testing.T) {
		f := newManagerFixture(t)
		assert.False(t, f.m.Stop("nope"))
	})

	t.Run("stop matches a pending stream resolved to the id", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		f.m.RegisterPending(token, nil)
		f.m.SetPendingResolved("c9")

		require.True(t, f.m.Stop("c9"))
		assert.True(t, token.IsCancelled())
		assert.False(t, f.m.IsActive(PendingKey))
	})

	t.Run("stop leaves a foreign pending stream running", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		f.m.RegisterPending(token, nil)
		f.m.SetPendingResolved("other")

		assert.False(t, f.m.Stop("c1"))
		assert.False(t, token.IsCancelled())
		assert.True(t, f.m.IsActive(PendingKey))
	})

	t.Run("stop leaves an unresolved pending stream running", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		f.m.RegisterPending(token, nil)

		assert.False(t, f.m.Stop("c1"))
		assert.False(t, token.IsCancelled())
	})
}

func TestManagerPromotion(t *testing.T) {
	t.Run("promote relocates state without losing buffered text", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		q := artifacts.NewQueue()
		f.m.RegisterPending(token, q)
		f.m.HandleChunk(PendingKey, llm.TextChunk("early text"))
		q.Push("/tmp/shot.png")

		require.True(t, f.m.Promote("c1"))
		assert.False(t, f.m.IsActive(PendingKey))
		assert.True(t, f.m.IsActive("c1"))

		summary := f.m.Finalize("c1")
		require.NotNil(t, summary)
		assert.Equal(t, []string{"early text"}, f.b.textEvents("c1"))

		ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
		require.Len(t, ended, 1)
		assert.Equal(t, []string{"/tmp/shot.png"}, ended[0].Data["artifacts"])
	})

	t.Run("promote cancels an occupant of the target key", func(t *testing.T) {
		f := newManagerFixture(t)
		occupantToken := NewToken()
		f.m.Register("c1", occupantToken, nil)
		pendingToken := NewToken()
		f.m.RegisterPending(pendingToken, nil)

		require.True(t, f.m.Promote("c1"))

		assert.True(t, occupantToken.IsCancelled(), "evicted occupant token must be set")
		assert.False(t, pendingToken.IsCancelled())
		ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
		require.Len(t, ended, 1)
		assert.Equal(t, StatusCancelled, ended[0].Data["status"])
	})

	t.Run("promote without a pending stream reports false", func(t *testing.T) {
		f := newManagerFixture(t)
		assert.False(t, f.m.Promote("c1"))
	})

	t.Run("promoted stream stops under its real id", func(t *testing.T) {
		f := newManagerFixture(t)
		token := NewToken()
		f.m.RegisterPending(token, nil)
		f.m.Promote("c1")

		require.True(t, f.m.Stop("c1"))
		assert.True(t, token.IsCancelled())
	})
}

func TestManagerFinalize(t *testing.T) {
	t.Run("summary carries usage, trace, and artifacts", func(t *testing.T) {
		f := newManagerFixture(t)
		q := artifacts.NewQueue()
		f.m.Register("c1", NewToken(), q)

		f.m.HandleChunk("c1", llm.TokenUsageChunk(llm.TokenUsage{InputTokens: 10, OutputTokens: 20}))
		f.m.SetTrace("c1", []byte(`{"entries":[]}`))
		q.Push("a.png")

		summary := f.m.Finalize("c1")
		require.NotNil(t, summary)
		assert.Equal(t, StatusCompleted, summary.Status)
		require.NotNil(t, summary.Usage)
		assert.Equal(t, 10, summary.Usage.InputTokens)
		assert.Equal(t, 20, summary.Usage.OutputTokens)
		assert.JSONEq(t, `{"entries":[]}`, string(summary.TraceJSON))
		assert.Equal(t, []string{"a.png"}, summary.Artifacts)
		assert.False(t, f.m.IsActive("c1"))
	})

	t.Run("empty artifact drain stays absent", func(t *testing.T) {
		f := newManagerFixture(t)
		f.m.Register("c1", NewToken(), artifacts.NewQueue())

		summary := f.m.Finalize("c1")
		require.NotNil(t, summary)
		assert.Nil(t, summary.Artifacts)

		ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
		require.Len(t, ended, 1)
		assert.Nil(t, ended[0].Data["artifacts"])
	})

	t.Run("finalize unknown key returns nil without panic", func(t *testing.T) {
		f := newManagerFixture(t)
		assert.Nil(t, f.m.Finalize("nope"))
	})
}

func TestManagerErrorChunk(t *testing.T) {
	f := newManagerFixture(t)
	f.m.Register("c1", NewToken(), nil)
	f.m.HandleChunk("c1", llm.TextChunk("so far"))
	f.m.HandleChunk("c1", llm.ErrorChunk("provider exploded"))

	assert.Equal(t, []string{"so far"}, f.b.textEvents("c1"))
	ended := f.b.ofType(events.BuildStreamEndedSubject("c1"))
	require.Len(t, ended, 1)
	assert.Equal(t, StatusError, ended[0].Data["status"])
	assert.Equal(t, "provider exploded", ended[0].Data["error"])
	assert.False(t, f.m.IsActive("c1"))

	// Late chunks for the removed key are absorbed.
	f.m.HandleChunk("c1", llm.TextChunk("late"))
	assert.Equal(t, []string{"so far"}, f.b.textEvents("c1"))
}

func TestManagerDoneIsNoOp(t *testing.T) {
	f := newManagerFixture(t)
	f.m.Register("c1", NewToken(), nil)
	f.m.HandleChunk("c1", llm.DoneChunk())

	assert.True(t, f.m.IsActive("c1"), "Done must not finalize; the caller does")
	assert.Empty(t, f.b.ofType(events.BuildStreamEndedSubject("c1")))
}

func TestManagerStopAll(t *testing.T) {
	f := newManagerFixture(t)
	t1, t2 := NewToken(), NewToken()
	f.m.Register("c1", t1, nil)
	f.m.Register("c2", t2, nil)

	assert.Equal(t, 2, f.m.StopAll())
	assert.True(t, t1.IsCancelled())
	assert.True(t, t2.IsCancelled())
	assert.Empty(t, f.m.ActiveKeys())
}
