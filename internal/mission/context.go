package mission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// Context holds the metadata of the run in progress.
type Context struct {
	mu  sync.RWMutex
	Run *core.Run
}

// NewContext creates a new Context with no run loaded.
func NewContext() *Context {
	return &Context{Run: &core.Run{CameraVehicleID: -1}}
}

// Start records a new run with a fresh id and returns it.
func (mc *Context) Start(vehicleCount, cameraVehicleID int, now time.Time) core.Run {
	run := &core.Run{
		ID:              uuid.NewString(),
		StartTime:       now.UTC(),
		VehicleCount:    vehicleCount,
		CameraVehicleID: cameraVehicleID,
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Run = run
	return *run
}

// GetRun returns a copy of the current run.
func (mc *Context) GetRun() core.Run {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return *mc.Run
}

// Started reports whether Start has been called.
func (mc *Context) Started() bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.Run.ID != ""
}

// LogAttrs returns the run metadata attached to every log record.
func (mc *Context) LogAttrs() []slog.Attr {
	run := mc.GetRun()
	if run.ID == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("run", run.ID),
		slog.Int("vehicles", run.VehicleCount),
	}
}
