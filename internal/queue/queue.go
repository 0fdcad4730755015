// Package queue is the bounded hand-off between the compositor loop and the
// caller pulling frames.
package queue

import (
	"sync"
)

// Mode selects what Push does when the queue is full.
type Mode int

const (
	// DropOldest discards the oldest queued item to make room.
	DropOldest Mode = iota
	// BlockProducer waits until a consumer makes room or the queue closes.
	BlockProducer
)

// Stats is a snapshot of the queue counters.
type Stats struct {
	Pushed  uint64
	Dropped uint64
	Flushed uint64
	Len     int
}

// Queue is a bounded FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	capacity int
	mode     Mode
	closed   bool

	pushed  uint64
	dropped uint64
	flushed uint64
}

// New returns a queue holding at most capacity items. A capacity below one is
// treated as one.
func New[T any](capacity int, mode Mode) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		mode:     mode,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues v. It reports false when the queue is closed, in which case v
// is discarded.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.mode == BlockProducer {
		for !q.closed && len(q.items) >= q.capacity {
			q.notFull.Wait()
		}
	}
	if q.closed {
		return false
	}
	if len(q.items) >= q.capacity {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, v)
	q.pushed++
	q.notEmpty.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed. After Close
// it returns ok=false even if items remain.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	if q.closed {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.notFull.Signal()
	return v, true
}

// Flush discards every queued item. Flushed items are not counted as drops.
func (q *Queue[T]) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.flushed += uint64(n)
	q.notFull.Broadcast()
	return n
}

// Close wakes every blocked producer and consumer. It is safe to call more
// than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	clear(q.items)
	q.items = nil
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pushed:  q.pushed,
		Dropped: q.dropped,
		Flushed: q.flushed,
		Len:     len(q.items),
	}
}
