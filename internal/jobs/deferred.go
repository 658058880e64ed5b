// Package jobs implements the job registry: submission, the per-attempt
// lifecycle observer, listener fan-out, result loaders, cancellation and
// profile routing, and the retention sweeper.
package jobs

import (
	"errors"
	"sync"
)

// deferredError collects failures raised inside lifecycle callbacks so the
// attempt can still reach a terminal state. The collected failure surfaces on
// the next blocking read, never across the callback boundary.
type deferredError struct {
	mu  sync.Mutex
	err error
}

func newDeferredError() *deferredError {
	return &deferredError{}
}

// Add records a failure, joining it with any failure already collected.
func (d *deferredError) Add(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = errors.Join(d.err, err)
}

// CheckAndRaise returns the collected failure, nil when none occurred.
func (d *deferredError) CheckAndRaise() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}
