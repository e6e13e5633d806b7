package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/aerofleet/swarmctl/pkg/streaming"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

var errStopped = errors.New("connection stopped")

// connection owns one ground-station socket at a time. A single supervisor
// goroutine runs the read and write loops for the current socket and redials
// when either fails. Only the supervisor goroutines ever write to a socket.
type connection struct {
	wsURL   string
	secret  string
	backoff time.Duration

	sendCh  chan []byte
	ackCh   chan streaming.AckMessage
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	start   []byte
	states  map[int][]byte

	dropped atomic.Uint64
	redials atomic.Int64

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		backoff: time.Second,
		sendCh:  make(chan []byte, sendChSize),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		states:  make(map[int][]byte),
		logger:  logger,
	}
}

func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go c.supervise(conn)
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) supervise(conn *ws.Conn) {
	defer close(c.stopped)
	for conn != nil {
		err := c.serve(conn)
		if errors.Is(err, errStopped) {
			return
		}
		c.logger.Warn("Ground station connection lost", "error", err)
		conn = c.redial()
	}
}

// serve runs the read and write loops on conn until one of them fails or
// the connection is closed. The close frame is written only after the
// write loop has returned.
func (c *connection) serve(conn *ws.Conn) error {
	readErr := make(chan error, 1)
	writeErr := make(chan error, 1)
	quit := make(chan struct{})

	var wg conc.WaitGroup
	wg.Go(func() { readErr <- c.readLoop(conn) })
	wg.Go(func() { writeErr <- c.writeLoop(conn, quit) })

	var err error
	select {
	case err = <-readErr:
		close(quit)
		<-writeErr
	case err = <-writeErr:
		close(quit)
	case <-c.done:
		err = errStopped
		close(quit)
		<-writeErr
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	}
	_ = conn.Close()
	wg.Wait()
	return err
}

func (c *connection) writeLoop(conn *ws.Conn, quit <-chan struct{}) error {
	for {
		select {
		case <-quit:
			return errStopped
		case data := <-c.sendCh:
			if err := write(conn, data); err != nil {
				return err
			}
		}
	}
}

func (c *connection) readLoop(conn *ws.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Unexpected message from ground station", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// redial reconnects with exponential backoff and replays the run state.
// It returns nil when the connection is closed or every attempt failed.
func (c *connection) redial() *ws.Conn {
	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to ground station", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}
		if err := c.replay(conn); err != nil {
			c.logger.Warn("Failed to replay run state after reconnect", "error", err)
			_ = conn.Close()
			continue
		}
		c.redials.Add(1)
		c.logger.Info("Ground station reconnected", "attempt", attempt)
		return conn
	}

	c.logger.Error("Ground station reconnect failed after max attempts", "maxAttempts", maxReconnect)
	return nil
}

// replay re-announces the run and the latest state of every vehicle so the
// ground station can pick up a run already in flight.
func (c *connection) replay(conn *ws.Conn) error {
	for _, data := range c.replayMessages() {
		if err := write(conn, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) replayMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start == nil {
		return nil
	}
	ids := make([]int, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := [][]byte{c.start}
	for _, id := range ids {
		out = append(out, c.states[id])
	}
	return out
}

func (c *connection) setStart(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = data
	clear(c.states)
}

func (c *connection) rememberState(vehicleID int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start != nil {
		c.states[vehicleID] = data
	}
}

func (c *connection) forgetRun() {
	c.setStart(nil)
}

// send queues data for the write loop and drops it when the queue is full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			c.logger.Warn("Stream queue full, dropping message", "dropped", n)
		}
	}
}

// sendAndWait queues data and blocks until the ground station acks ackFor.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	close(c.done)
	c.mu.Unlock()

	if started {
		<-c.stopped
	}
	return nil
}
