package detection

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultMinInterval caps the send rate at roughly 3 Hz.
const DefaultMinInterval = 300 * time.Millisecond

// Publisher sends detection messages to a listener, dropping messages that
// arrive faster than the minimum interval.
type Publisher struct {
	conn        *net.UDPConn
	minInterval time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewPublisher dials the listener address.
func NewPublisher(address string, minInterval time.Duration) (*Publisher, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	return &Publisher{conn: conn, minInterval: minInterval, now: time.Now}, nil
}

// Publish sends m unless the previous message went out less than the
// minimum interval ago. It reports whether the message was sent.
func (p *Publisher) Publish(m Message) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.minInterval {
		return false, nil
	}

	data, err := Encode(m)
	if err != nil {
		return false, fmt.Errorf("encoding detection: %w", err)
	}
	if _, err := p.conn.Write(data); err != nil {
		return false, fmt.Errorf("sending detection: %w", err)
	}
	p.last = now
	return true, nil
}

// Close releases the socket.
func (p *Publisher) Close() error {
	return p.conn.Close()
}
