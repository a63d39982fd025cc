package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/persistence"
)

// fakeStore is an in-memory TurnStore.
type fakeStore struct {
	mu    sync.Mutex
	convs map[string]persistence.Conversation
	turns map[string][]persistence.Turn
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[string]persistence.Conversation),
		turns: make(map[string][]persistence.Turn),
	}
}

func (s *fakeStore) CreateConversation(_ context.Context, conv persistence.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
	return nil
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (*persistence.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, persistence.ErrConversationNotFound
	}
	return &conv, nil
}

func (s *fakeStore) RecordTurn(_ context.Context, turn persistence.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ConversationID] = append(s.turns[turn.ConversationID], turn)
	return nil
}

func (s *fakeStore) ListTurns(_ context.Context, conversationID string) ([]persistence.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]persistence.Turn, len(s.turns[conversationID]))
	copy(out, s.turns[conversationID])
	return out, nil
}

func (s *fakeStore) turnCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[conversationID])
}

// noToolsFactory builds streams without any tools.
type noToolsFactory struct{}

func (noToolsFactory) Runner(string, *artifacts.Queue) llm.ToolRunner { return nil }

type serviceFixture struct {
	svc   *Service
	store *fakeStore
	bus   *recordingBus
	mock  *llm.MockCompleter
}

func newServiceFixture(t *testing.T, turns ...llm.ScriptedTurn) *serviceFixture {
	t.Helper()
	log := logger.NewNop()

	manifest, err := llm.ParseManifest([]byte("providers:\n  - name: mock\n    kind: mock\n"))
	require.NoError(t, err)
	registry := llm.NewRegistry(manifest, log)

	mock := llm.NewMockCompleter(turns...)
	registry.Bind(llm.BackendMock, func(llm.ProviderSpec) (llm.Completer, error) {
		return mock, nil
	})

	b := &recordingBus{}
	f := &serviceFixture{
		store: newFakeStore(),
		bus:   b,
		mock:  mock,
	}
	manager := NewManager(b, DefaultFlushInterval, log)
	gateway := approval.NewGateway(approval.ModeAutoApproveAll, 0, log)
	f.svc = NewService(manager, registry, gateway, noToolsFactory{}, f.store, b,
		ServiceConfig{DefaultProvider: "mock"}, log)
	return f
}

func TestServiceStartValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("empty content rejected", func(t *testing.T) {
		_, err := f.svc.Start(ctx, StartRequest{Content: "   "})
		assert.Error(t, err)
	})

	t.Run("reserved conversation id rejected", func(t *testing.T) {
		_, err := f.svc.Start(ctx, StartRequest{ConversationID: PendingKey, Content: "hi"})
		assert.ErrorContains(t, err, "reserved")
	})

	t.Run("unknown conversation rejected", func(t *testing.T) {
		_, err := f.svc.Start(ctx, StartRequest{ConversationID: "missing", Content: "hi"})
		assert.Error(t, err)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := f.svc.Start(ctx, StartRequest{Provider: "nope", Content: "hi"})
		assert.Error(t, err)
	})
}

func TestServiceNewConversationFlow(t *testing.T) {
	f := newServiceFixture(t, llm.ScriptedTurn{
		Text:  []string{"Hello ", "there"},
		Usage: &llm.TokenUsage{InputTokens: 7, OutputTokens: 11},
	})

	convID, err := f.svc.Start(context.Background(), StartRequest{Content: "say hello"})
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	require.Eventually(t, func() bool {
		return f.store.turnCount(convID) == 1
	}, 2*time.Second, 5*time.Millisecond)
	f.svc.Wait()

	// Conversation row created and titled from the first message.
	conv, err := f.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, "say hello", conv.Title)
	assert.Equal(t, "mock", conv.Provider)

	// The stream was promoted from the pending slot before chunks flowed.
	assert.Len(t, f.bus.ofType(events.StreamPromoted), 1)

	turns, err := f.store.ListTurns(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "say hello", turns[0].UserMessage)
	assert.Equal(t, "Hello there", turns[0].ResponseText)
	assert.Equal(t, 7, turns[0].InputTokens)
	assert.Equal(t, 11, turns[0].OutputTokens)

	ended := f.bus.ofType(events.BuildStreamEndedSubject(convID))
	require.Len(t, ended, 1)
	assert.Equal(t, StatusCompleted, ended[0].Data["status"])
}

func TestServiceFollowUpLoadsHistory(t *testing.T) {
	f := newServiceFixture(t,
		llm.ScriptedTurn{Text: []string{"first answer"}},
		llm.ScriptedTurn{Text: []string{"second answer"}},
	)
	ctx := context.Background()

	convID, err := f.svc.Start(ctx, StartRequest{Content: "first question"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.store.turnCount(convID) == 1 },
		2*time.Second, 5*time.Millisecond)

	_, err = f.svc.Start(ctx, StartRequest{ConversationID: convID, Content: "second question"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.store.turnCount(convID) == 2 },
		2*time.Second, 5*time.Millisecond)
	f.svc.Wait()

	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	// The follow-up transcript replays the persisted first turn.
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "first question", reqs[1].Messages[0].Content)
	assert.Equal(t, "first answer", reqs[1].Messages[1].Content)
	assert.Equal(t, "second question", reqs[1].Messages[2].Content)
}

func TestServiceProviderError(t *testing.T) {
	f := newServiceFixture(t, llm.ScriptedTurn{
		Text: []string{"partial"},
		Err:  "rate limited",
	})

	convID, err := f.svc.Start(context.Background(), StartRequest{Content: "go"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.bus.ofType(events.BuildStreamEndedSubject(convID))) == 1
	}, 2*time.Second, 5*time.Millisecond)
	f.svc.Wait()

	ended := f.bus.ofType(events.BuildStreamEndedSubject(convID))
	assert.Equal(t, StatusError, ended[0].Data["status"])
	assert.Equal(t, "rate limited", ended[0].Data["error"])

	// A failed stream records no turn.
	assert.Zero(t, f.store.turnCount(convID))
}

func TestServiceStop(t *testing.T) {
	f := newServiceFixture(t, llm.ScriptedTurn{
		Text:  []string{"slow", " drip"},
		Delay: 50 * time.Millisecond,
	})

	convID, err := f.svc.Start(context.Background(), StartRequest{Content: "go"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.svc.Stop(convID) },
		time.Second, 5*time.Millisecond)
	f.svc.Wait()

	ended := f.bus.ofType(events.BuildStreamEndedSubject(convID))
	require.Len(t, ended, 1)
	assert.Equal(t, StatusCancelled, ended[0].Data["status"])
	assert.Zero(t, f.store.turnCount(convID))
	assert.Empty(t, f.svc.Active())
}

func TestServiceStopAll(t *testing.T) {
	f := newServiceFixture(t,
		llm.ScriptedTurn{Text: []string{"a"}, Delay: 100 * time.Millisecond},
		llm.ScriptedTurn{Text: []string{"b"}, Delay: 100 * time.Millisecond},
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Start(ctx, StartRequest{Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(f.svc.Active()) == 2 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.svc.StopAll())
	f.svc.Wait()
	assert.Empty(t, f.svc.Active())
}
