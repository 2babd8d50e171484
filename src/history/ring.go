package history

import "sync"

// Ring is a fixed-capacity, insertion-ordered buffer. Appending to a full
// ring evicts the oldest item. It is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // index of the oldest item
	size  int
}

// NewRing creates a ring holding at most capacity items. Capacities below
// one are clamped to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Append adds item as the newest entry.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.head+r.size)%capacity] = item
		r.size++
		return
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % capacity
}

// Snapshot returns a copy of all items, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLocked(r.size)
}

// Last returns a copy of the newest n items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLocked(n)
}

func (r *Ring[T]) lastLocked(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]T, n)
	capacity := len(r.items)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%capacity]
	}
	return out
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear drops all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
