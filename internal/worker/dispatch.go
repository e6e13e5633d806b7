package worker

import (
	"fmt"

	"github.com/aerofleet/swarmctl/internal/dispatcher"
	"github.com/aerofleet/swarmctl/pkg/core"
)

// RegisterHandlers registers a handler per vehicle event kind with the
// dispatcher. Every kind is buffered so sinks never stall a control loop.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Lifecycle events - low volume
	d.Register(core.KindTransition, m.handleTransition, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(core.KindModeChange, m.handleModeChange, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(core.KindVehicleError, m.handleVehicleError, dispatcher.Buffered(1000), dispatcher.Logged())
	d.Register(core.KindTracking, m.handleTracking, dispatcher.Buffered(100), dispatcher.Logged())

	// Per-tick events - high volume
	d.Register(core.KindSetpoint, m.handleSetpoint, dispatcher.Buffered(10000))
	d.Register(core.KindYawCorrection, m.handleYawCorrection, dispatcher.Buffered(10000))
}

func payload[T any](e dispatcher.Event) (*T, error) {
	switch p := e.Payload.(type) {
	case T:
		return &p, nil
	case *T:
		if p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s event carries %T", ErrUnexpectedPayload, e.Kind, e.Payload)
}

func handle[T any](m *Manager, e dispatcher.Event, record func(*T) error) error {
	p, err := payload[T](e)
	if err != nil {
		m.count(e.Kind, err)
		return err
	}
	err = record(p)
	m.count(e.Kind, err)
	if err != nil {
		return fmt.Errorf("failed to record %s for vehicle %d: %w", e.Kind, e.VehicleID, err)
	}
	return nil
}

func (m *Manager) handleTransition(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordTransition)
}

func (m *Manager) handleModeChange(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordModeChange)
}

func (m *Manager) handleYawCorrection(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordYawCorrection)
}

func (m *Manager) handleSetpoint(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordSetpoint)
}

func (m *Manager) handleTracking(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordTracking)
}

func (m *Manager) handleVehicleError(e dispatcher.Event) error {
	return handle(m, e, m.backend.RecordVehicleError)
}
