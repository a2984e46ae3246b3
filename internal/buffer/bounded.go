// Package buffer provides a capacity-bounded FIFO history.
package buffer

// Bounded keeps at most Cap items, dropping the oldest on insert. It is not
// safe for concurrent use; owners guard it with their own lock.
type Bounded[T any] struct {
	items    []T
	capacity int
}

// New creates a buffer holding at most capacity items (minimum 1)
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Add appends item and returns how many old items were evicted
func (b *Bounded[T]) Add(item T) int {
	evicted := 0
	for len(b.items) >= b.capacity {
		// Remove the oldest element, zeroing it for the GC
		var zero T
		b.items[0] = zero
		b.items = b.items[1:]
		evicted++
	}
	b.items = append(b.items, item)
	return evicted
}

// Recent returns up to n newest items, oldest first. n <= 0 returns all.
func (b *Bounded[T]) Recent(n int) []T {
	if n <= 0 || n > len(b.items) {
		n = len(b.items)
	}
	out := make([]T, n)
	copy(out, b.items[len(b.items)-n:])
	return out
}

// All returns a copy of every item, oldest first
func (b *Bounded[T]) All() []T {
	return b.Recent(0)
}

// Retain keeps only the items for which keep returns true and returns the
// number removed
func (b *Bounded[T]) Retain(keep func(T) bool) int {
	kept := make([]T, 0, b.capacity)
	for _, item := range b.items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	removed := len(b.items) - len(kept)
	b.items = kept
	return removed
}

// Update replaces the first item matching match with fn(item). It reports
// whether an item matched.
func (b *Bounded[T]) Update(match func(T) bool, fn func(T) T) bool {
	for i, item := range b.items {
		if match(item) {
			b.items[i] = fn(item)
			return true
		}
	}
	return false
}

// Find returns the first item matching match
func (b *Bounded[T]) Find(match func(T) bool) (T, bool) {
	for _, item := range b.items {
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of items held
func (b *Bounded[T]) Len() int {
	return len(b.items)
}

// Cap returns the capacity
func (b *Bounded[T]) Cap() int {
	return b.capacity
}
