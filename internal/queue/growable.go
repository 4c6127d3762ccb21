package queue

import "sync"

// Growable is an unbounded FIFO. Send never blocks; when the ring is full it
// is reallocated at twice the size.
type Growable[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	peak    int
	resizes int
}

// NewGrowable creates a queue with room for size items before the first
// resize.
func NewGrowable[T any](size int) *Growable[T] {
	if size < 1 {
		size = 1
	}
	q := &Growable[T]{ring: make([]T, size)}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Send appends item. It reports false once the queue is closed.
func (q *Growable[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.size == len(q.ring) {
		q.resize(2 * len(q.ring))
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	if q.size > q.peak {
		q.peak = q.size
	}

	q.ready.Signal()
	return true
}

// Receive blocks until an item is available. After Close it keeps returning
// queued items, then reports false.
func (q *Growable[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.ready.Wait()
	}
	return q.take()
}

// TryReceive returns the oldest item without waiting.
func (q *Growable[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

// Close rejects further sends and wakes blocked receivers.
func (q *Growable[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.ready.Broadcast()
}

// Len returns the number of queued items.
func (q *Growable[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns the current depth and growth history.
func (q *Growable[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.size,
		Capacity: len(q.ring),
		Peak:     q.peak,
		Resizes:  q.resizes,
	}
}

// Stats describes a queue. Fields that do not apply to a queue kind are zero.
type Stats struct {
	Len      int
	Capacity int
	Peak     int   // Growable only
	Resizes  int   // Growable only
	Evicted  int64 // Bounded only
}

func (q *Growable[T]) take() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return item, true
}

// resize must be called with the lock held.
func (q *Growable[T]) resize(n int) {
	ring := make([]T, n)
	for i := 0; i < q.size; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}
