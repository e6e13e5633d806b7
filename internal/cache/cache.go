package cache

import (
	"sync/atomic"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// Slots is a fixed set of per-vehicle values indexed by vehicle id. Each slot
// is written by exactly one vehicle goroutine and read by anyone, so slots
// need no lock.
type Slots[T any] struct {
	slots []atomic.Pointer[T]
}

// NewSlots creates n empty slots.
func NewSlots[T any](n int) *Slots[T] {
	if n < 0 {
		n = 0
	}
	return &Slots[T]{slots: make([]atomic.Pointer[T], n)}
}

// Len returns the number of slots.
func (s *Slots[T]) Len() int {
	return len(s.slots)
}

// Store sets the value for id. Out of range ids are ignored.
func (s *Slots[T]) Store(id int, v T) {
	if id < 0 || id >= len(s.slots) {
		return
	}
	s.slots[id].Store(&v)
}

// Load returns the value for id and whether one was stored.
func (s *Slots[T]) Load(id int) (T, bool) {
	if id < 0 || id >= len(s.slots) {
		var zero T
		return zero, false
	}
	p := s.slots[id].Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Snapshot returns the stored values in id order, skipping empty slots.
func (s *Slots[T]) Snapshot() []T {
	out := make([]T, 0, len(s.slots))
	for i := range s.slots {
		if p := s.slots[i].Load(); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// HomeRegistry records each vehicle's home position as it becomes healthy.
type HomeRegistry struct {
	*Slots[core.GlobalPosition]
}

// NewHomeRegistry creates a registry for n vehicles.
func NewHomeRegistry(n int) *HomeRegistry {
	return &HomeRegistry{Slots: NewSlots[core.GlobalPosition](n)}
}

// Origin returns the lowest-id home recorded so far.
func (r *HomeRegistry) Origin() (id int, home core.GlobalPosition, ok bool) {
	for i := 0; i < r.Len(); i++ {
		if h, found := r.Load(i); found {
			return i, h, true
		}
	}
	return 0, core.GlobalPosition{}, false
}
