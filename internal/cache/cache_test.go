package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofleet/swarmctl/pkg/core"
)

func TestSlots_StoreAndLoad(t *testing.T) {
	s := NewSlots[string](3)
	require.Equal(t, 3, s.Len())

	_, ok := s.Load(1)
	assert.False(t, ok)

	s.Store(1, "landing")
	got, ok := s.Load(1)
	require.True(t, ok)
	assert.Equal(t, "landing", got)

	s.Store(1, "done")
	got, _ = s.Load(1)
	assert.Equal(t, "done", got)
}

func TestSlots_OutOfRange(t *testing.T) {
	s := NewSlots[int](2)
	s.Store(-1, 5)
	s.Store(2, 5)

	_, ok := s.Load(2)
	assert.False(t, ok)
	_, ok = s.Load(-1)
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot())

	assert.Equal(t, 0, NewSlots[int](-4).Len())
}

func TestSlots_Snapshot(t *testing.T) {
	s := NewSlots[int](4)
	s.Store(3, 30)
	s.Store(0, 0)
	s.Store(2, 20)

	assert.Equal(t, []int{0, 20, 30}, s.Snapshot())
}

func TestSlots_ConcurrentWriters(t *testing.T) {
	const vehicles = 16
	s := NewSlots[int](vehicles)

	var wg sync.WaitGroup
	for id := 0; id < vehicles; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Store(id, id*1000+i)
				s.Snapshot()
			}
		}(id)
	}
	wg.Wait()

	for id := 0; id < vehicles; id++ {
		v, ok := s.Load(id)
		require.True(t, ok)
		assert.Equal(t, id*1000+99, v)
	}
}

func TestHomeRegistry_Origin(t *testing.T) {
	r := NewHomeRegistry(3)

	_, _, ok := r.Origin()
	assert.False(t, ok)

	r.Store(2, core.GlobalPosition{LatitudeDeg: 2})
	id, home, ok := r.Origin()
	require.True(t, ok)
	assert.Equal(t, 2, id)
	assert.Equal(t, 2.0, home.LatitudeDeg)

	r.Store(0, core.GlobalPosition{LatitudeDeg: 1})
	id, home, _ = r.Origin()
	assert.Equal(t, 0, id)
	assert.Equal(t, 1.0, home.LatitudeDeg)
}
