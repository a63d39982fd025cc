package stream

import (
	"sync"
	"sync/atomic"
)

// Token is a shared cancellation flag. Any owner may set it; the running
// stream task observes it cooperatively at suspension points (next turn,
// next chunk, before each tool call). Setting the flag never interrupts
// an in-flight provider or process call.
type Token struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewToken creates an unset cancellation token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the flag. Safe to call from any goroutine, any number of
// times.
func (t *Token) Cancel() {
	t.flag.Store(true)
	t.once.Do(func() { close(t.done) })
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	return t.flag.Load()
}

// Done returns a channel closed on the first Cancel. Used to unblock
// waits (approval decisions, provider reads) that cannot poll.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
