package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/aerofleet/swarmctl/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	Logger *slog.Logger
}

// Backend streams run events over WebSocket to a ground station.
type Backend struct {
	conn *connection
	cfg  Config
}

// New creates a stream backend. Nothing is dialed until Init.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger.With("sink", "stream")),
		cfg:  cfg,
	}
}

// Init connects to the ground station. Later connection losses are
// recovered in the background.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the ground station.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Reconnects reports how many times the connection was re-established.
func (b *Backend) Reconnects() int64 {
	return b.conn.redials.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope queues the payload without waiting for an ack.
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartRun announces the run and waits for server ack.
func (b *Backend) StartRun(run core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.setStart(data)
	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends the run summary and waits for server ack.
func (b *Backend) EndRun(summary core.RunSummary) error {
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{Summary: summary})
	if err == nil {
		err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)
	}

	b.conn.forgetRun()

	return err
}

// RecordTransition also keeps the transition as the vehicle's latest state
// for replay after a reconnect.
func (b *Backend) RecordTransition(e *core.StateTransition) error {
	data, err := marshalEnvelope(streaming.TypeTransition, e)
	if err != nil {
		return err
	}
	b.conn.rememberState(e.VehicleID, data)
	b.conn.send(data)
	return nil
}

func (b *Backend) RecordModeChange(e *core.ModeChange) error {
	return b.sendEnvelope(streaming.TypeModeChange, e)
}

func (b *Backend) RecordYawCorrection(e *core.YawCorrection) error {
	return b.sendEnvelope(streaming.TypeYawCorrection, e)
}

func (b *Backend) RecordSetpoint(e *core.Setpoint) error {
	return b.sendEnvelope(streaming.TypeSetpoint, e)
}

func (b *Backend) RecordTracking(e *core.TrackingEvent) error {
	return b.sendEnvelope(streaming.TypeTracking, e)
}

func (b *Backend) RecordVehicleError(e *core.VehicleError) error {
	return b.sendEnvelope(streaming.TypeVehicleError, e)
}
