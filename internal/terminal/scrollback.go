package terminal

import "sync"

// scrollback is a byte ring keeping the most recent terminal output so
// a reconnecting client can repaint before live data resumes.
type scrollback struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newScrollback(max int) *scrollback {
	return &scrollback{max: max}
}

func (s *scrollback) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p) >= s.max {
		s.buf = append(s.buf[:0], p[len(p)-s.max:]...)
		return
	}
	s.buf = append(s.buf, p...)
	if over := len(s.buf) - s.max; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
}

func (s *scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}
