// Package persistence is the repository boundary for finalized stream
// output. The stream core hands it conversations and completed turns
// and never looks at the storage format.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/db"
)

// ErrConversationNotFound reports a lookup for an id with no row.
var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is one chat thread.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Provider  string    `db:"provider" json:"provider"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Turn is one completed agent turn: the user message, the final
// response text, the serialized trace, token usage, and any artifacts
// the stream staged.
type Turn struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserMessage    string          `json:"user_message"`
	ResponseText   string          `json:"response_text"`
	TraceJSON      json.RawMessage `json:"trace,omitempty"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	Artifacts      []string        `json:"artifacts,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// turnRow is the scan target; trace and artifacts travel as nullable
// text columns.
type turnRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	UserMessage    string         `db:"user_message"`
	ResponseText   string         `db:"response_text"`
	TraceJSON      sql.NullString `db:"trace_json"`
	InputTokens    int            `db:"input_tokens"`
	OutputTokens   int            `db:"output_tokens"`
	ArtifactsJSON  sql.NullString `db:"artifacts_json"`
	CreatedAt      time.Time      `db:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	provider   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_message    TEXT NOT NULL,
	response_text   TEXT NOT NULL,
	trace_json      TEXT,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	artifacts_json  TEXT,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);
`

// Store persists conversations and turns through a writer/reader pool.
type Store struct {
	pool *db.Pool
	log  *logger.Logger
}

// NewStore runs the schema migration and returns a ready store.
func NewStore(pool *db.Pool, log *logger.Logger) (*Store, error) {
	if _, err := pool.Writer().Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, conv Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	query := s.pool.Writer().Rebind(
		`INSERT INTO conversations (id, title, provider, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.pool.Writer().ExecContext(ctx, query,
		conv.ID, conv.Title, conv.Provider, conv.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := s.pool.Reader().Rebind(
		`SELECT id, title, provider, created_at FROM conversations WHERE id = ?`)
	var conv Conversation
	if err := s.pool.Reader().GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns all conversations, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	err := s.pool.Reader().SelectContext(ctx, &out,
		`SELECT id, title, provider, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation and, via the FK cascade,
// its turns.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	query := s.pool.Writer().Rebind(`DELETE FROM conversations WHERE id = ?`)
	res, err := s.pool.Writer().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// RecordTurn inserts one completed turn.
func (s *Store) RecordTurn(ctx context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	row := turnRow{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		UserMessage:    turn.UserMessage,
		ResponseText:   turn.ResponseText,
		InputTokens:    turn.InputTokens,
		OutputTokens:   turn.OutputTokens,
		CreatedAt:      turn.CreatedAt,
	}
	if len(turn.TraceJSON) > 0 {
		row.TraceJSON = sql.NullString{String: string(turn.TraceJSON), Valid: true}
	}
	if len(turn.Artifacts) > 0 {
		data, err := json.Marshal(turn.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to encode artifacts: %w", err)
		}
		row.ArtifactsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := sqlx.NamedExecContext(ctx, s.pool.Writer(),
		`INSERT INTO turns (id, conversation_id, user_message, response_text,
			trace_json, input_tokens, output_tokens, artifacts_json, created_at)
		 VALUES (:id, :conversation_id, :user_message, :response_text,
			:trace_json, :input_tokens, :output_tokens, :artifacts_json, :created_at)`,
		row)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// ListTurns returns a conversation's turns in creation order.
func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	query := s.pool.Reader().Rebind(
		`SELECT id, conversation_id, user_message, response_text, trace_json,
			input_tokens, output_tokens, artifacts_json, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY created_at, id`)
	var rows []turnRow
	if err := s.pool.Reader().SelectContext(ctx, &rows, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}

	out := make([]Turn, 0, len(rows))
	for _, row := range rows {
		turn := Turn{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			UserMessage:    row.UserMessage,
			ResponseText:   row.ResponseText,
			InputTokens:    row.InputTokens,
			OutputTokens:   row.OutputTokens,
			CreatedAt:      row.CreatedAt,
		}
		if row.TraceJSON.Valid {
			turn.TraceJSON = json.RawMessage(row.TraceJSON.String)
		}
		if row.ArtifactsJSON.Valid {
			if err := json.Unmarshal([]byte(row.ArtifactsJSON.String), &turn.Artifacts); err != nil {
				s.log.Warn("corrupt artifacts column, dropping",
					zap.String("turn_id", row.ID), zap.Error(err))
			}
		}
		out = append(out, turn)
	}
	return out, nil
}
