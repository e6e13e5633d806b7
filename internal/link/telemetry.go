package link

import (
	"context"
	"sync"
)

// Telemetry holds the latest value of a telemetry stream and lets callers
// block until the value satisfies a condition.
type Telemetry[T any] struct {
	mu      sync.Mutex
	value   T
	changed chan struct{}
}

// NewTelemetry creates a telemetry holder with an initial value.
func NewTelemetry[T any](initial T) *Telemetry[T] {
	return &Telemetry[T]{value: initial, changed: make(chan struct{})}
}

// Get returns the current value.
func (t *Telemetry[T]) Get() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Set replaces the value and wakes all waiters.
func (t *Telemetry[T]) Set(v T) {
	t.Update(func(cur *T) { *cur = v })
}

// Update modifies the value in place and wakes all waiters.
func (t *Telemetry[T]) Update(fn func(*T)) {
	t.mu.Lock()
	fn(&t.value)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// Wait blocks until pred holds for the current value or ctx ends.
func (t *Telemetry[T]) Wait(ctx context.Context, pred func(T) bool) (T, error) {
	for {
		t.mu.Lock()
		v, changed := t.value, t.changed
		t.mu.Unlock()

		if pred(v) {
			return v, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-changed:
		}
	}
}
