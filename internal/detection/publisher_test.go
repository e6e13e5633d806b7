package detection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_RateLimits(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sink.Close()

	p, err := NewPublisher(sink.LocalAddr().String(), DefaultMinInterval)
	require.NoError(t, err)
	defer p.Close()

	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	sent, err := p.Publish(NewMessage(320, 240))
	require.NoError(t, err)
	assert.True(t, sent)

	now = now.Add(100 * time.Millisecond)
	sent, err = p.Publish(NewMessage(330, 240))
	require.NoError(t, err)
	assert.False(t, sent, "second message inside the interval must be dropped")

	now = now.Add(DefaultMinInterval)
	sent, err = p.Publish(Message{Detected: false})
	require.NoError(t, err)
	assert.True(t, sent)

	buf := make([]byte, maxDatagram)
	require.NoError(t, sink.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := sink.ReadFromUDP(buf)
	require.NoError(t, err)
	m, err := Decode(buf[:n])
	require.NoError(t, err)
	x, _ := m.Pixel()
	assert.Equal(t, 320.0, x)

	n, _, err = sink.ReadFromUDP(buf)
	require.NoError(t, err)
	m, err = Decode(buf[:n])
	require.NoError(t, err)
	assert.False(t, m.Detected)
}
