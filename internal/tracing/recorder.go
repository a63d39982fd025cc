package tracing

import (
	"encoding/json"
	"sync"
	"time"
)

// TraceEntry is one recorded step in a stream's lifetime.
type TraceEntry struct {
	At       time.Time              `json:"at"`
	Kind     string                 `json:"kind"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	Duration int64                  `json:"duration_ms,omitempty"`
}

// Recorder accumulates trace entries for a single stream. The serialized
// form travels with the stream's terminal summary so clients can inspect
// what the agent did without an OTLP backend.
type Recorder struct {
	mu      sync.Mutex
	entries []TraceEntry
	started time.Time
}

// NewRecorder creates a recorder stamped with the stream start time.
func NewRecorder() *Recorder {
	return &Recorder{started: time.Now().UTC()}
}

// Record appends an entry with the current timestamp.
func (r *Recorder) Record(kind string, detail map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, TraceEntry{
		At:     time.Now().UTC(),
		Kind:   kind,
		Detail: detail,
	})
}

// RecordTimed appends an entry carrying an elapsed duration.
func (r *Recorder) RecordTimed(kind string, detail map[string]interface{}, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, TraceEntry{
		At:       time.Now().UTC(),
		Kind:     kind,
		Detail:   detail,
		Duration: elapsed.Milliseconds(),
	})
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// JSON serializes the recorded trace. Returns "null" semantics as an
// empty string when nothing was recorded.
func (r *Recorder) JSON() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return ""
	}

	doc := struct {
		StartedAt time.Time    `json:"started_at"`
		Entries   []TraceEntry `json:"entries"`
	}{
		StartedAt: r.started,
		Entries:   r.entries,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(data)
}
