package jobs

import (
	"context"
	"sync"
)

// completionLatch is a one-shot gate released exactly once when a query
// reaches its terminal state. Waiters block until release or context expiry.
type completionLatch struct {
	once sync.Once
	done chan struct{}
}

func newCompletionLatch() *completionLatch {
	return &completionLatch{done: make(chan struct{})}
}

// Release opens the latch. Safe to call more than once; later calls no-op.
func (l *completionLatch) Release() {
	l.once.Do(func() { close(l.done) })
}

// Released reports whether the latch has been opened.
func (l *completionLatch) Released() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is released or ctx expires.
func (l *completionLatch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
