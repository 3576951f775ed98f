package stream

import "sync/atomic"

// CancelToken is a shared flag for cooperative cancellation. Any holder
// may set it from another goroutine; the processor polls it once at the
// top of every ProcessEvent call and never mid-computation, so a
// transition that has started always completes.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the flag. Safe to call from any goroutine, idempotent.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether the flag is set.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}
