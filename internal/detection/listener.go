package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const maxDatagram = 2048

// UpdateFunc observes every decoded message after the tracker consumed it.
type UpdateFunc func(m Message, snap Snapshot, activated bool)

// ListenerConfig configures a detection listener.
type ListenerConfig struct {
	Address     string
	ReadTimeout time.Duration
	Tracker     *Tracker
	Logger      *slog.Logger
	OnUpdate    UpdateFunc
}

// Listener receives detection datagrams and feeds them to a Tracker.
type Listener struct {
	address     string
	readTimeout time.Duration
	tracker     *Tracker
	logger      *slog.Logger
	onUpdate    UpdateFunc
	conn        *net.UDPConn

	received atomic.Int64
	dropped  atomic.Int64

	receivedCounter metric.Int64Counter
	droppedCounter  metric.Int64Counter
}

// NewListener creates a listener. Call Listen or Run to bind the socket.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("detection listener requires a tracker")
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 50 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		address:     cfg.Address,
		readTimeout: readTimeout,
		tracker:     cfg.Tracker,
		logger:      logger,
		onUpdate:    cfg.OnUpdate,
	}

	m := meter()
	var err error
	l.receivedCounter, err = m.Int64Counter(
		"detection.datagrams.received",
		metric.WithDescription("Detection datagrams received"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	l.droppedCounter, err = m.Int64Counter(
		"detection.datagrams.dropped",
		metric.WithDescription("Detection datagrams dropped as undecodable"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return l, nil
}

// Listen binds the UDP socket.
func (l *Listener) Listen() error {
	if l.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Received returns the number of datagrams read so far.
func (l *Listener) Received() int64 { return l.received.Load() }

// Dropped returns the number of datagrams that failed to decode.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Run reads datagrams until ctx is cancelled. The socket is closed on return.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	defer l.conn.Close()

	l.logger.Info("detection listener started", "address", l.conn.LocalAddr().String())

	buffer := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("detection listener stopped",
				"received", l.received.Load(), "dropped", l.dropped.Load())
			return nil
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(l.readTimeout))
		n, addr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("detection read error", "error", err)
			continue
		}

		l.handle(ctx, buffer[:n], addr)
	}
}

func (l *Listener) handle(ctx context.Context, data []byte, from *net.UDPAddr) {
	l.received.Add(1)
	l.receivedCounter.Add(ctx, 1)

	m, err := Decode(data)
	if err != nil {
		l.dropped.Add(1)
		l.droppedCounter.Add(ctx, 1)
		l.logger.Warn("dropping detection datagram", "from", from.String(), "error", err)
		return
	}

	activated := l.tracker.OnMessage(m)
	snap := l.tracker.Snapshot()
	if activated {
		l.logger.Info("tracking activated", "pixelX", snap.PixelX, "pixelY", snap.PixelY)
	}
	if l.onUpdate != nil {
		l.onUpdate(m, snap, activated)
	}
}
