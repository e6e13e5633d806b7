package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_WaitAlreadySatisfied(t *testing.T) {
	tel := NewTelemetry(5)
	v, err := tel.Wait(context.Background(), func(v int) bool { return v > 3 })
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestTelemetry_WaitWakesOnUpdate(t *testing.T) {
	tel := NewTelemetry(false)
	done := make(chan error, 1)
	go func() {
		_, err := tel.Wait(context.Background(), func(v bool) bool { return v })
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tel.Set(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestTelemetry_WaitTimeout(t *testing.T) {
	tel := NewTelemetry(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	go func() {
		for i := 1; i < 5; i++ {
			tel.Set(i)
		}
	}()

	_, err := tel.Wait(ctx, func(v int) bool { return v > 100 })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTelemetry_Update(t *testing.T) {
	type state struct {
		connected bool
		count     int
	}
	tel := NewTelemetry(state{})
	tel.Update(func(s *state) { s.connected = true })
	tel.Update(func(s *state) { s.count++ })

	got := tel.Get()
	assert.True(t, got.connected)
	assert.Equal(t, 1, got.count)
}
