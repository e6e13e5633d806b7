package detection

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T, cfg ListenerConfig) (*Listener, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg.Address = "127.0.0.1:0"
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker()
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := NewListener(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, done
}

func send(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestNewListener_RequiresTracker(t *testing.T) {
	_, err := NewListener(ListenerConfig{Address: "127.0.0.1:0"})
	assert.Error(t, err)
}

func TestListener_FeedsTracker(t *testing.T) {
	tracker := NewTracker()
	var mu sync.Mutex
	var activations int
	l, _, _ := startListener(t, ListenerConfig{
		Tracker:     tracker,
		ReadTimeout: 10 * time.Millisecond,
		OnUpdate: func(m Message, snap Snapshot, activated bool) {
			mu.Lock()
			defer mu.Unlock()
			if activated {
				activations++
			}
		},
	})

	send(t, l.Addr(), `{"detected": true, "position": [400, 240]}`)
	send(t, l.Addr(), `garbage`)
	send(t, l.Addr(), `null`)
	send(t, l.Addr(), `{"detected": true, "position": [410, 250, null]}`)
	send(t, l.Addr(), `{"detected": true, "position": [410, 250]}`)

	require.Eventually(t, func() bool { return tracker.Snapshot().Active }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return l.Received() == 5 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(2), l.Dropped())
	snap := tracker.Snapshot()
	assert.Equal(t, []bool{true, false, true}, snap.Window, "undecodable datagrams must not enter the window")
	assert.Equal(t, 410.0, snap.PixelX)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, activations)
}

func TestListener_StopsOnCancel(t *testing.T) {
	_, cancel, done := startListener(t, ListenerConfig{ReadTimeout: 10 * time.Millisecond})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}

func TestListener_BadAddress(t *testing.T) {
	l, err := NewListener(ListenerConfig{Address: "not-an-address", Tracker: NewTracker()})
	require.NoError(t, err)
	assert.Error(t, l.Run(context.Background()))
}
