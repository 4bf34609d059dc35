// Package queue provides a growable FIFO used to decouple hot paths (the
// registry fan-out) from slow consumers (database and Kafka writers).
package queue

import (
	"context"
	"sync"
)

// Queue is a thread-safe ring buffer that doubles its capacity at 70% fill,
// up to a hard limit. Once the limit is reached the oldest item is dropped
// to make room.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	limit   int
	closed  bool
	ready   chan struct{} // coalesced "items available or closed"
	pushed  uint64
	popped  uint64
	dropped uint64
	resizes int
}

// Stats is a point-in-time view of a Queue.
type Stats struct {
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Limit    int    `json:"limit"`
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Resizes  int    `json:"resizes"`
}

// New creates a queue with the given initial capacity and hard limit.
// A limit below the initial capacity is raised to it.
func New[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit < initial {
		limit = initial
	}
	return &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends item. It reports false if the queue is closed. When full at
// the limit the oldest item is discarded and dropped is true.
func (q *Queue[T]) Push(item T) (ok, dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold && len(q.buf) < q.limit {
		q.grow()
	}
	if q.count == len(q.buf) {
		q.popLocked()
		q.dropped++
		dropped = true
	}

	q.buf[(q.head+q.count)%len(q.buf)] = item
	q.count++
	q.pushed++
	q.mu.Unlock()

	q.notify()
	return true, dropped
}

// Pop removes the oldest item, waiting until one is available. It returns
// false once the queue is closed and empty, or when ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			item := q.popLocked()
			q.popped++
			more := q.count > 0
			q.mu.Unlock()
			if more {
				q.notify()
			}
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		var zero T
		if closed {
			return zero, false
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// TryPop removes the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	q.popped++
	return q.popLocked(), true
}

// Drain removes up to n items (all when n <= 0) in FIFO order.
func (q *Queue[T]) Drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	q.popped += uint64(n)
	return out
}

// Ready is signalled when items may be available. Consumers should call
// TryPop or Drain after receiving from it.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close stops accepting items. Queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.count,
		Capacity: len(q.buf),
		Limit:    q.limit,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

func (q *Queue[T]) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// popLocked must be called with mu held and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

// grow doubles capacity, capped at limit. Must be called with mu held.
func (q *Queue[T]) grow() {
	size := min(len(q.buf)*2, q.limit)
	buf := make([]T, size)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
	q.resizes++
}
