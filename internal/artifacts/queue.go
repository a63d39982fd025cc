// Package artifacts buffers file paths staged by tools during a stream
// so they can be attached to the turn exactly once, at finalization,
// instead of the moment a tool produces them.
package artifacts

import "sync"

// Queue is an ordered, append-only collection of file paths for one
// stream. Tools push paths as they produce them; the stream lifecycle
// manager drains the queue when the stream finalizes. A single Queue is
// shared by the tool layer and the manager, guarded internally.
type Queue struct {
	mu    sync.Mutex
	paths []string
}

// NewQueue creates an empty artifact queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a path. It never blocks beyond the internal lock and
// never fails; duplicate paths are kept in arrival order.
func (q *Queue) Push(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paths = append(q.paths, path)
}

// Len reports how many paths are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.paths)
}

// DrainIfNonEmpty atomically empties the queue and returns the paths in
// push order. It returns nil when nothing was queued, so consumers can
// treat "no artifacts" as absence instead of an empty list.
func (q *Queue) DrainIfNonEmpty() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.paths) == 0 {
		return nil
	}
	drained := q.paths
	q.paths = nil
	return drained
}
