package persistence

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.db")

	writer, err := db.OpenSQLite(path)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(path)
	require.NoError(t, err)

	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	t.Cleanup(func() { _ = pool.Close() })

	store, err := NewStore(pool, logger.NewNop())
	require.NoError(t, err)
	return store
}

func TestStoreConversations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("create and get roundtrip", func(t *testing.T) {
		conv := Conversation{ID: "c1", Title: "first chat", Provider: "mock"}
		require.NoError(t, store.CreateConversation(ctx, conv))

		got, err := store.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "first chat", got.Title)
		assert.Equal(t, "mock", got.Provider)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		_, err := store.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("list returns newest first", func(t *testing.T) {
		convs, err := store.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, "c1", convs[0].ID)
	})

	t.Run("delete removes the row", func(t *testing.T) {
		require.NoError(t, store.CreateConversation(ctx, Conversation{ID: "c2", Title: "t", Provider: "mock"}))
		require.NoError(t, store.DeleteConversation(ctx, "c2"))
		_, err := store.GetConversation(ctx, "c2")
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("delete unknown id reports not found", func(t *testing.T) {
		assert.ErrorIs(t, store.DeleteConversation(ctx, "missing"), ErrConversationNotFound)
	})
}

func TestStoreTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateConversation(ctx, Conversation{ID: "c1", Title: "t", Provider: "mock"}))

	t.Run("record and list roundtrip", func(t *testing.T) {
		turn := Turn{
			ID:             "t1",
			ConversationID: "c1",
			UserMessage:    "list the files",
			ResponseText:   "done",
			TraceJSON:      json.RawMessage(`{"entries":[]}`),
			InputTokens:    12,
			OutputTokens:   34,
			Artifacts:      []string{"/tmp/a.png", "/tmp/b.pdf"},
		}
		require.NoError(t, store.RecordTurn(ctx, turn))

		turns, err := store.ListTurns(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, turns, 1)
		got := turns[0]
		assert.Equal(t, "list the files", got.UserMessage)
		assert.Equal(t, "done", got.ResponseText)
		assert.JSONEq(t, `{"entries":[]}`, string(got.TraceJSON))
		assert.Equal(t, 12, got.InputTokens)
		assert.Equal(t, 34, got.OutputTokens)
		assert.Equal(t, []string{"/tmp/a.png", "/tmp/b.pdf"}, got.Artifacts)
	})

	t.Run("absent trace and artifacts stay absent", func(t *testing.T) {
		require.NoError(t, store.RecordTurn(ctx, Turn{
			ID:             "t2",
			ConversationID: "c1",
			UserMessage:    "hi",
			ResponseText:   "hello",
		}))

		turns, err := store.ListTurns(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Nil(t, turns[1].TraceJSON)
		assert.Nil(t, turns[1].Artifacts)
	})

	t.Run("turns for unknown conversation are empty", func(t *testing.T) {
		turns, err := store.ListTurns(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}
