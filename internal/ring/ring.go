package ring

// Ring is a fixed-capacity buffer that keeps the most recent items.
// Pushing into a full ring drops the oldest item. A Ring is not safe for
// concurrent use; callers own it from a single goroutine.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// New creates an empty ring holding at most capacity items.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, capacity),
	}
}

// Push appends items, evicting the oldest ones once the ring is full.
func (r *Ring[T]) Push(items ...T) {
	for _, item := range items {
		if r.size < len(r.items) {
			r.items[(r.start+r.size)%len(r.items)] = item
			r.size++
			continue
		}
		r.items[r.start] = item
		r.start = (r.start + 1) % len(r.items)
	}
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	return r.size
}

// Count returns how many held items satisfy pred. It does not modify the ring.
func (r *Ring[T]) Count(pred func(T) bool) int {
	n := 0
	for i := 0; i < r.size; i++ {
		if pred(r.items[(r.start+i)%len(r.items)]) {
			n++
		}
	}
	return n
}

// Values returns a copy of the held items, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}
