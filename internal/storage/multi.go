package storage

import (
	"errors"
	"fmt"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// Multi fans every call out to a set of named backends. Every backend sees
// every call; errors are joined and tagged with the backend name.
type Multi struct {
	names    []string
	backends []Backend
}

// NewMulti creates an empty fan-out backend.
func NewMulti() *Multi {
	return &Multi{}
}

// Add appends a backend. Nil backends are ignored.
func (m *Multi) Add(name string, b Backend) {
	if b == nil {
		return
	}
	m.names = append(m.names, name)
	m.backends = append(m.backends, b)
}

// Len returns the number of backends.
func (m *Multi) Len() int {
	return len(m.backends)
}

// Names returns the backend names in registration order.
func (m *Multi) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

func (m *Multi) each(fn func(Backend) error) error {
	var errs []error
	for i, b := range m.backends {
		if err := fn(b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Init initializes every backend.
func (m *Multi) Init() error {
	return m.each(Backend.Init)
}

// Close closes every backend.
func (m *Multi) Close() error {
	return m.each(Backend.Close)
}

func (m *Multi) StartRun(run core.Run) error {
	return m.each(func(b Backend) error { return b.StartRun(run) })
}

func (m *Multi) EndRun(summary core.RunSummary) error {
	return m.each(func(b Backend) error { return b.EndRun(summary) })
}

func (m *Multi) RecordTransition(e *core.StateTransition) error {
	return m.each(func(b Backend) error { return b.RecordTransition(e) })
}

func (m *Multi) RecordModeChange(e *core.ModeChange) error {
	return m.each(func(b Backend) error { return b.RecordModeChange(e) })
}

func (m *Multi) RecordYawCorrection(e *core.YawCorrection) error {
	return m.each(func(b Backend) error { return b.RecordYawCorrection(e) })
}

func (m *Multi) RecordSetpoint(e *core.Setpoint) error {
	return m.each(func(b Backend) error { return b.RecordSetpoint(e) })
}

func (m *Multi) RecordTracking(e *core.TrackingEvent) error {
	return m.each(func(b Backend) error { return b.RecordTracking(e) })
}

func (m *Multi) RecordVehicleError(e *core.VehicleError) error {
	return m.each(func(b Backend) error { return b.RecordVehicleError(e) })
}

// Summary returns the summary of the first backend that can produce one.
func (m *Multi) Summary() ([]core.VehicleSummary, error) {
	for _, b := range m.backends {
		if s, ok := b.(Summarizer); ok {
			return s.Summary()
		}
	}
	return nil, nil
}
