// internal/storage/storage.go
package storage

import "github.com/aerofleet/swarmctl/pkg/core"

// Backend is the interface all run sinks must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run core.Run) error
	EndRun(summary core.RunSummary) error

	// Event recording
	RecordTransition(e *core.StateTransition) error
	RecordModeChange(e *core.ModeChange) error
	RecordYawCorrection(e *core.YawCorrection) error
	RecordSetpoint(e *core.Setpoint) error
	RecordTracking(e *core.TrackingEvent) error
	RecordVehicleError(e *core.VehicleError) error
}

// Summarizer is an optional interface for backends that can aggregate what
// they recorded into per-vehicle summaries.
type Summarizer interface {
	Summary() ([]core.VehicleSummary, error)
}
