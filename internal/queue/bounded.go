package queue

import "sync"

// Bounded is a fixed-capacity FIFO. Pushing into a full buffer evicts the
// oldest item; the evicted item is handed back to the caller so it can be
// settled.
type Bounded[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	count    int
	capacity int
	evicted  int64
}

// NewBounded creates a buffer that never holds more than capacity items.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item at the tail. If the buffer was full, the oldest item is
// removed and returned with ok set to true.
func (b *Bounded[T]) Push(item T) (evicted T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		// Overwrite the head slot and advance past it.
		evicted, ok = b.buf[b.head], true
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.evicted++
	}

	b.buf[(b.head+b.count)%b.capacity] = item
	b.count++
	return evicted, ok
}

// PushFront puts item back at the head, ahead of everything queued.
// An item re-queued into a full buffer is itself the oldest entry, so it is
// returned as evicted instead of displacing newer ones.
func (b *Bounded[T]) PushFront(item T) (evicted T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		b.evicted++
		return item, true
	}

	b.head = (b.head - 1 + b.capacity) % b.capacity
	b.buf[b.head] = item
	b.count++
	return evicted, false
}

// PopFront removes and returns the oldest item.
func (b *Bounded[T]) PopFront() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popFront(), true
}

// Snapshot returns the queued items, oldest first, without removing them.
func (b *Bounded[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.head+i)%b.capacity]
	}
	return out
}

// Clear empties the buffer and returns what it held, oldest first.
func (b *Bounded[T]) Clear() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0, b.count)
	for b.count > 0 {
		out = append(out, b.popFront())
	}
	return out
}

// Len returns the number of queued items.
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Bounded[T]) Cap() int {
	return b.capacity
}

// Stats returns buffer statistics.
func (b *Bounded[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Len:      b.count,
		Capacity: b.capacity,
		Evicted:  b.evicted,
	}
}

// popFront must be called with lock held and count > 0.
func (b *Bounded[T]) popFront() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	return item
}
