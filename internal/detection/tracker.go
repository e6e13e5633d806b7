package detection

import (
	"sync/atomic"

	"github.com/aerofleet/swarmctl/internal/ring"
)

const (
	// WindowSize is the number of recent outcomes considered.
	WindowSize = 5
	// ActivationThreshold is the number of positive outcomes in the window
	// that latches tracking on.
	ActivationThreshold = 2
)

// Snapshot is an immutable view of the tracking state.
type Snapshot struct {
	Active      bool
	PixelX      float64
	PixelY      float64
	HasPosition bool
	Window      []bool
}

// Tracker holds the detection window and the tracking latch for one vehicle.
// OnMessage must be called from a single goroutine; Snapshot is safe from any.
type Tracker struct {
	window      *ring.Ring[bool]
	active      bool
	x, y        float64
	hasPosition bool

	snap atomic.Pointer[Snapshot]
}

// NewTracker creates an inactive tracker.
func NewTracker() *Tracker {
	t := &Tracker{window: ring.New[bool](WindowSize)}
	t.publish()
	return t
}

// OnMessage records one detection outcome and reports whether this call
// switched tracking on. The latch never switches off.
func (t *Tracker) OnMessage(m Message) (activated bool) {
	valid := m.Valid()
	t.window.Push(valid)
	if valid {
		t.x, t.y = m.Pixel()
		t.hasPosition = true
	}

	if !t.active && t.window.Count(isTrue) >= ActivationThreshold {
		t.active = true
		activated = true
	}

	t.publish()
	return activated
}

// Snapshot returns the latest published state.
func (t *Tracker) Snapshot() Snapshot {
	return *t.snap.Load()
}

func (t *Tracker) publish() {
	t.snap.Store(&Snapshot{
		Active:      t.active,
		PixelX:      t.x,
		PixelY:      t.y,
		HasPosition: t.hasPosition,
		Window:      t.window.Values(),
	})
}

func isTrue(b bool) bool { return b }
