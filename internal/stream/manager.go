// Package stream owns the per-conversation stream lifecycle: registering
// the task that runs one agent turn, batching UI-facing text events,
// relocating a stream registered before its conversation existed, and
// emitting exactly one terminal event per stream.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/internal/artifacts"
	"github.com/stewardhq/steward/internal/common/logger"
	"github.com/stewardhq/steward/internal/events"
	"github.com/stewardhq/steward/internal/events/bus"
	"github.com/stewardhq/steward/internal/llm"
)

// PendingKey is the reserved map slot for a stream started before its
// conversation id is known. Callers may never supply it as a real
// conversation id; the service rejects it at the boundary.
const PendingKey = "__pending__"

// DefaultFlushInterval is the text batching window: buffered text is
// emitted as one event at most once per interval (a ~60 Hz ceiling).
const DefaultFlushInterval = 16 * time.Millisecond

// Status is the terminal disposition of a stream.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Summary describes a finished stream. It rides the terminal event and
// is handed to the persistence boundary by the service.
type Summary struct {
	ConversationID string          `json:"conversation_id"`
	Status         Status          `json:"status"`
	ErrorMessage   string          `json:"error,omitempty"`
	Usage          *llm.TokenUsage `json:"usage,omitempty"`
	TraceJSON      json.RawMessage `json:"trace,omitempty"`
	Artifacts      []string        `json:"artifacts,omitempty"`
}

// state is the bookkeeping for one registered stream. All access happens
// under the manager's lock.
type state struct {
	cancel    *Token
	artifacts *artifacts.Queue
	usage     *llm.TokenUsage
	trace     json.RawMessage

	// resolvedID is set on a pending stream once its conversation row
	// exists, so a stop addressed to that conversation can find it
	// before promotion relocates the entry.
	resolvedID string

	buffer    []byte
	lastFlush time.Time
}

// Manager is the single owner of the stream map. Nothing outside it
// holds a reference to the map or its states; every mutation arrives
// through a method call and is serialized by the internal lock.
type Manager struct {
	mu      sync.Mutex
	streams map[string]*state

	bus           bus.EventBus
	flushInterval time.Duration
	log           *logger.Logger

	// now is swapped in tests to drive the flush clock.
	now func() time.Time
}

// NewManager creates a manager publishing lifecycle events on b. A zero
// flushInterval selects DefaultFlushInterval.
func NewManager(b bus.EventBus, flushInterval time.Duration, log *logger.Logger) *Manager {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Manager{
		streams:       make(map[string]*state),
		bus:           b,
		flushInterval: flushInterval,
		log:           log.WithFields(zap.String("component", "stream_manager")),
		now:           time.Now,
	}
}

// Register installs a new active stream under key. An occupant of the
// same key is cancelled and ended first, so at most one stream ever
// exists per key and no task is orphaned.
func (m *Manager) Register(key string, cancel *Token, q *artifacts.Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(key, cancel, q)
}

// RegisterPending installs a stream under the reserved pending key, for
// the first message of a conversation that does not exist yet.
func (m *Manager) RegisterPending(cancel *Token, q *artifacts.Queue) {
	m.Register(PendingKey, cancel, q)
}

func (m *Manager) registerLocked(key string, cancel *Token, q *artifacts.Queue) {
	if old, ok := m.streams[key]; ok {
		m.log.Warn("evicting existing stream for key", zap.String("key", key))
		old.cancel.Cancel()
		m.endLocked(key, old, &Summary{ConversationID: key, Status: StatusCancelled})
	}
	m.streams[key] = &state{
		cancel:    cancel,
		artifacts: q,
		lastFlush: m.now(),
	}
	m.publish(events.StreamStarted, map[string]interface{}{
		"conversation_id": key,
	})
}

// SetPendingResolved records the conversation id a pending stream has
// resolved to, so Stop can match it before promotion happens. A no-op
// when no pending stream exists.
func (m *Manager) SetPendingResolved(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.streams[PendingKey]; ok {
		st.resolvedID = conversationID
	}
}

// Promote relocates the pending stream to its real conversation id
// without losing buffered text, artifacts, or cancellation wiring. Any
// occupant of the real key is evicted first, keeping the one-entry-per
// -stream invariant uniform.
func (m *Manager) Promote(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[PendingKey]
	if !ok {
		m.log.Warn("no pending stream to promote",
			zap.String("conversation_id", conversationID))
		return false
	}
	if old, ok := m.streams[conversationID]; ok {
		old.cancel.Cancel()
		m.endLocked(conversationID, old, &Summary{ConversationID: conversationID, Status: StatusCancelled})
	}
	delete(m.streams, PendingKey)
	st.resolvedID = conversationID
	m.streams[conversationID] = st

	m.publish(events.StreamPromoted, map[string]interface{}{
		"conversation_id": conversationID,
		"from":            PendingKey,
	})
	return true
}

// HandleChunk routes one adapter chunk for the stream under key. Text is
// buffered and flushed at the batching interval; every other kind is
// forwarded immediately. Done is a no-op here: finalization is the
// caller's explicit step so trace and artifact post-processing can run
// first. An unknown key is silently absorbed, since the stream may have
// been stopped while chunks were still in flight.
func (m *Manager) HandleChunk(key string, c llm.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[key]
	if !ok {
		return
	}

	switch c.Type {
	case llm.ChunkText:
		st.buffer = append(st.buffer, c.Text...)
		if now := m.now(); now.Sub(st.lastFlush) >= m.flushInterval {
			m.flushLocked(key, st, now)
		}

	case llm.ChunkTokenUsage:
		if c.Usage != nil {
			u := *c.Usage
			st.usage = &u
		}
		m.forwardLocked(key, c)

	case llm.ChunkDone:
		// Finalize is the caller's responsibility.

	case llm.ChunkError:
		m.endLocked(key, st, &Summary{
			ConversationID: key,
			Status:         StatusError,
			ErrorMessage:   c.ErrorMessage,
		})

	default:
		m.forwardLocked(key, c)
	}
}

// SetTrace attaches the serialized trace document to a stream before
// finalization.
func (m *Manager) SetTrace(key string, trace json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.streams[key]; ok {
		st.trace = trace
	}
}

// Finalize completes a stream: flushes buffered text, drains the
// artifact queue, emits the terminal event, and removes the key. The
// returned summary carries what the persistence boundary needs; nil
// when the key is unknown, which happens when a stop or cancel raced
// ahead and is logged rather than treated as a fault.
func (m *Manager) Finalize(key string) *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[key]
	if !ok {
		m.log.Warn("finalize for unknown stream", zap.String("key", key))
		return nil
	}
	summary := &Summary{ConversationID: key, Status: StatusCompleted}
	m.endLocked(key, st, summary)
	return summary
}

// Stop cancels the stream for a conversation id: the one registered
// under the key directly, or a still-pending stream that has already
// resolved to this conversation. A pending stream resolved to a
// different conversation (or to none yet) is left running. Reports
// whether a stream was stopped.
func (m *Manager) Stop(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationID
	st, ok := m.streams[key]
	if !ok {
		if pending, exists := m.streams[PendingKey]; exists && pending.resolvedID == conversationID {
			key, st, ok = PendingKey, pending, true
		}
	}
	if !ok {
		return false
	}

	st.cancel.Cancel()
	m.endLocked(key, st, &Summary{ConversationID: conversationID, Status: StatusCancelled})
	return true
}

// CancelPending cancels the pending stream, whether or not it has
// resolved a conversation id. Reports whether one existed.
func (m *Manager) CancelPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[PendingKey]
	if !ok {
		return false
	}
	st.cancel.Cancel()
	m.endLocked(PendingKey, st, &Summary{ConversationID: PendingKey, Status: StatusCancelled})
	return true
}

// StopAll cancels every registered stream and returns how many were
// stopped. Used at daemon shutdown.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, st := range m.streams {
		st.cancel.Cancel()
		m.endLocked(key, st, &Summary{ConversationID: key, Status: StatusCancelled})
		n++
	}
	return n
}

// ActiveKeys lists the keys of currently registered streams.
func (m *Manager) ActiveKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.streams))
	for key := range m.streams {
		keys = append(keys, key)
	}
	return keys
}

// IsActive reports whether a stream is registered under key.
func (m *Manager) IsActive(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[key]
	return ok
}

// endLocked flushes remaining text, enriches the summary with the
// stream's usage, trace, and drained artifacts, emits the terminal
// event, and drops the key. Every path that ends a stream goes through
// here, so no buffered text is ever silently lost and exactly one
// terminal event is emitted per stream.
func (m *Manager) endLocked(key string, st *state, summary *Summary) {
	m.flushLocked(key, st, m.now())

	if summary.Usage == nil {
		summary.Usage = st.usage
	}
	if summary.TraceJSON == nil {
		summary.TraceJSON = st.trace
	}
	if st.artifacts != nil {
		// An empty drain stays absent rather than an empty list.
		summary.Artifacts = st.artifacts.DrainIfNonEmpty()
	}
	delete(m.streams, key)

	m.publish(events.BuildStreamEndedSubject(summary.ConversationID), map[string]interface{}{
		"conversation_id": summary.ConversationID,
		"status":          summary.Status,
		"error":           summary.ErrorMessage,
		"usage":           summary.Usage,
		"trace":           summary.TraceJSON,
		"artifacts":       summary.Artifacts,
	})
	m.log.Info("stream ended",
		zap.String("key", key),
		zap.String("status", string(summary.Status)))
}

// flushLocked emits buffered text as one chunk event. A flush with an
// empty buffer emits nothing.
func (m *Manager) flushLocked(key string, st *state, now time.Time) {
	if len(st.buffer) == 0 {
		st.lastFlush = now
		return
	}
	text := string(st.buffer)
	st.buffer = st.buffer[:0]
	st.lastFlush = now
	m.forwardLocked(key, llm.TextChunk(text))
}

// forwardLocked publishes one chunk event tagged with its conversation.
func (m *Manager) forwardLocked(key string, c llm.Chunk) {
	m.publish(events.BuildStreamChunkSubject(key), map[string]interface{}{
		"conversation_id": key,
		"chunk":           c,
	})
}

func (m *Manager) publish(subject string, data map[string]interface{}) {
	if m.bus == nil {
		return
	}
	ev := bus.NewEvent(subject, "stream-manager", data)
	if err := m.bus.Publish(context.Background(), subject, ev); err != nil {
		m.log.Warn("failed to publish stream event",
			zap.String("subject", subject), zap.Error(err))
	}
}
