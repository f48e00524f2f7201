package greenloop

import (
	"sync"
	"sync/atomic"
)

// inbox is the cross-goroutine queue of the loop: the only structure
// submitters on other goroutines touch besides the wake fd.
//
// Producers append under mu. The loop swaps the queue with a spare buffer
// under mu, then moves the entries onto the ready queue outside the lock.
type inbox struct {
	queue  []*Handle
	buf    []*Handle
	length atomic.Int64
	mu     sync.Mutex
}

// push appends h. Safe for concurrent use.
func (q *inbox) push(h *Handle) {
	q.mu.Lock()
	q.queue = append(q.queue, h)
	q.length.Add(1)
	q.mu.Unlock()
}

// Len returns the number of undrained entries. Safe for concurrent use.
func (q *inbox) Len() int {
	return int(q.length.Load())
}

// drainInto appends every queued entry to dst, in submission order.
// Must only be called by the loop goroutine.
func (q *inbox) drainInto(dst []*Handle) []*Handle {
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return dst
	}
	tasks := q.queue
	q.queue = q.buf[:0]
	q.buf = tasks[:0]
	q.length.Store(0)
	q.mu.Unlock()

	dst = append(dst, tasks...)
	clear(tasks)
	return dst
}
