package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/approval"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/persistence"
	"github.com/stewardhq/steward/internal/stream"
)

type fakeStreams struct {
	startReq stream.StartRequest
	startErr error
	stopOK   bool
	active   []string
}

func (f *fakeStreams) Start(_ context.Context, req stream.StartRequest) (string, error) {
	f.startReq = req
	if f.startErr != nil {
		return "", f.startErr
	}
	return "conv-1", nil
}

func (f *fakeStreams) Stop(string) bool { return f.stopOK }

func (f *fakeStreams) StopAll() int { return 2 }

func (f *fakeStreams) Active() []string { return f.active }

type fakeApprovals struct {
	pending  []approval.Request
	resolved map[string]bool
}

func (f *fakeApprovals) ListPending() []approval.Request { return f.pending }

func (f *fakeApprovals) Resolve(id string, approved bool) error {
	if f.resolved == nil {
		return errors.New("approval request not found: " + id)
	}
	f.resolved[id] = approved
	return nil
}

type fakeStore struct {
	conversations map[string]persistence.Conversation
	turns         []persistence.Turn
	deleted       []string
}

func (f *fakeStore) ListConversations(context.Context) ([]persistence.Conversation, error) {
	out := make([]persistence.Conversation, 0, len(f.conversations))
	for _, c := range f.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (*persistence.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return nil, persistence.ErrConversationNotFound
	}
	return &c, nil
}

func (f *fakeStore) ListTurns(context.Context, string) ([]persistence.Turn, error) {
	return f.turns, nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	if _, ok := f.conversations[id]; !ok {
		return persistence.ErrConversationNotFound
	}
	delete(f.conversations, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestServer(streams *fakeStreams, approvals *fakeApprovals, store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewServer(streams, approvals, store, logger.NewNop()).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestServer(&fakeStreams{}, &fakeApprovals{}, &fakeStore{})
	w := do(t, router, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestStreamEndpoints(t *testing.T) {
	streams := &fakeStreams{stopOK: true, active: []string{"conv-1"}}
	router := newTestServer(streams, &fakeApprovals{}, &fakeStore{})

	t.Run("start accepts and returns the conversation id", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/v1/streams", map[string]interface{}{
			"content": "hello there",
		})
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "conv-1", decodeBody(t, w)["conversation_id"])
		assert.Equal(t, "hello there", streams.startReq.Content)
	})

	t.Run("start rejects service errors", func(t *testing.T) {
		streams.startErr = errors.New("message content cannot be empty")
		defer func() { streams.startErr = nil }()

		w := do(t, router, http.MethodPost, "/api/v1/streams", map[string]interface{}{})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("list returns active streams", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/streams", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["active"], 1)
	})

	t.Run("stop reports success", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/api/v1/streams/conv-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stop of an idle conversation is 404", func(t *testing.T) {
		streams.stopOK = false
		defer func() { streams.stopOK = true }()

		w := do(t, router, http.MethodDelete, "/api/v1/streams/conv-9", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stop_all reports the count", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/v1/streams/stop_all", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(2), decodeBody(t, w)["stopped"])
	})
}

func TestApprovalEndpoints(t *testing.T) {
	approvals := &fakeApprovals{
		pending:  []approval.Request{{ID: "apr-1", Description: "Run: make test"}},
		resolved: map[string]bool{},
	}
	router := newTestServer(&fakeStreams{}, approvals, &fakeStore{})

	t.Run("list returns pending approvals", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/approvals", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["approvals"], 1)
	})

	t.Run("resolve records the decision", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/v1/approvals/apr-1/resolve", map[string]interface{}{
			"approved": true,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, approvals.resolved["apr-1"])
	})

	t.Run("resolve without a decision is 400", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/v1/approvals/apr-1/resolve", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("resolve denial is accepted", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/v1/approvals/apr-1/resolve", map[string]interface{}{
			"approved": false,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, approvals.resolved["apr-1"])
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		missing := &fakeApprovals{}
		router := newTestServer(&fakeStreams{}, missing, &fakeStore{})
		w := do(t, router, http.MethodPost, "/api/v1/approvals/nope/resolve", map[string]interface{}{
			"approved": true,
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestConversationEndpoints(t *testing.T) {
	store := &fakeStore{
		conversations: map[string]persistence.Conversation{
			"conv-1": {ID: "conv-1", Title: "hello", Provider: "anthropic"},
		},
		turns: []persistence.Turn{{ID: "turn-1", ConversationID: "conv-1"}},
	}
	router := newTestServer(&fakeStreams{}, &fakeApprovals{}, store)

	t.Run("list returns conversations", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/conversations", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["conversations"], 1)
	})

	t.Run("get returns one conversation", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/conversations/conv-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello", decodeBody(t, w)["title"])
	})

	t.Run("get of an unknown id is 404", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/conversations/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("turns replays the transcript", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/conversations/conv-1/turns", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["turns"], 1)
	})

	t.Run("turns of an unknown conversation is 404", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/v1/conversations/nope/turns", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete removes the conversation", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/api/v1/conversations/conv-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, store.deleted, "conv-1")

		w = do(t, router, http.MethodDelete, "/api/v1/conversations/conv-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
