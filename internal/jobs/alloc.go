package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// batchAllocator hands out scratch buffers for decoding execution output
// batches. The registry owns one allocator for its lifetime and closes it
// only after all live jobs and the results store have shut down; per-batch
// buffers are scoped to a single callback invocation.
type batchAllocator struct {
	pool   sync.Pool
	closed atomic.Bool
}

func newBatchAllocator() *batchAllocator {
	return &batchAllocator{
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, 0, 4096)
				return &b
			},
		},
	}
}

// Acquire returns a buffer holding a copy of src.
func (a *batchAllocator) Acquire(src []byte) (*[]byte, error) {
	if a.closed.Load() {
		return nil, fmt.Errorf("batch allocator is closed")
	}
	buf := a.pool.Get().(*[]byte)
	*buf = append((*buf)[:0], src...)
	return buf, nil
}

// Release returns a buffer to the pool. Must be called on every exit path of
// the acquiring callback.
func (a *batchAllocator) Release(buf *[]byte) {
	if buf == nil || a.closed.Load() {
		return
	}
	a.pool.Put(buf)
}

// Close retires the allocator. Acquire fails afterwards.
func (a *batchAllocator) Close() {
	a.closed.Store(true)
}
