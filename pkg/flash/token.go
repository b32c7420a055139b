package flash

import (
	"sync"
	"sync/atomic"
)

// Token is the shared cancellation flag for one pipeline run. It is
// written at most once, by the supervisor; the pipeline and the driver
// only read it. A fresh token is created per run.
type Token struct {
	once      sync.Once
	cancelled atomic.Bool
	done      chan struct{}
}

// NewToken creates an unset cancellation token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel transitions the token to "stop requested". Subsequent calls
// are no-ops.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether a stop has been requested. Drivers poll
// this at a bounded checkpoint interval.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel closed when a stop has been requested.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
