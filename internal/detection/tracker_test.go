package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var miss = Message{Detected: false}

func TestTracker_LatchesOnSecondDetection(t *testing.T) {
	tr := NewTracker()
	seq := []struct {
		msg       Message
		activated bool
		active    bool
	}{
		{NewMessage(100, 50), false, false},
		{miss, false, false},
		{NewMessage(200, 60), true, true},
		{miss, false, true},
		{miss, false, true},
	}

	for i, step := range seq {
		activated := tr.OnMessage(step.msg)
		snap := tr.Snapshot()
		assert.Equal(t, step.activated, activated, "step %d", i)
		assert.Equal(t, step.active, snap.Active, "step %d", i)
	}

	assert.Equal(t, []bool{true, false, true, false, false}, tr.Snapshot().Window)
}

func TestTracker_StaysLatchedAfterWindowEmptiesOfDetections(t *testing.T) {
	tr := NewTracker()
	tr.OnMessage(NewMessage(1, 1))
	tr.OnMessage(NewMessage(2, 2))

	for i := 0; i < 10; i++ {
		assert.False(t, tr.OnMessage(miss))
	}

	snap := tr.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, []bool{false, false, false, false, false}, snap.Window)
}

func TestTracker_SparseDetectionsNeverLatch(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 4; i++ {
		tr.OnMessage(NewMessage(10, 10))
		for j := 0; j < WindowSize-1; j++ {
			tr.OnMessage(miss)
		}
	}
	assert.False(t, tr.Snapshot().Active)
}

func TestTracker_PositionTracksLatestValidDetection(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Snapshot().HasPosition)

	tr.OnMessage(NewMessage(100, 50))
	tr.OnMessage(miss)
	x := 1.0
	tr.OnMessage(Message{Detected: true, Position: []*float64{&x, nil}})

	snap := tr.Snapshot()
	assert.True(t, snap.HasPosition)
	assert.Equal(t, 100.0, snap.PixelX)
	assert.Equal(t, 50.0, snap.PixelY)

	tr.OnMessage(NewMessage(300, 70))
	snap = tr.Snapshot()
	assert.Equal(t, 300.0, snap.PixelX)
	assert.Equal(t, 70.0, snap.PixelY)
}

func TestTracker_SnapshotIsImmutable(t *testing.T) {
	tr := NewTracker()
	tr.OnMessage(NewMessage(1, 1))
	before := tr.Snapshot()

	tr.OnMessage(miss)
	assert.Equal(t, []bool{true}, before.Window)
	assert.Equal(t, []bool{true, false}, tr.Snapshot().Window)
}
