// pkg/core/events.go
package core

import (
	"time"
)

// Event kinds routed through the dispatcher.
const (
	KindTransition    = "transition"
	KindModeChange    = "mode_change"
	KindYawCorrection = "yaw_correction"
	KindSetpoint      = "setpoint"
	KindTracking      = "tracking"
	KindVehicleError  = "vehicle_error"
)

// StateTransition records a vehicle control state change.
type StateTransition struct {
	VehicleID int       `json:"vehicleId"`
	Time      time.Time `json:"time"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}

// ModeChange records the first tick of a new waypoint mode code.
type ModeChange struct {
	VehicleID   int           `json:"vehicleId"`
	Time        time.Time     `json:"time"`
	Elapsed     time.Duration `json:"elapsed"`
	Mode        ModeCode      `json:"mode"`
	Description string        `json:"description"`
}

// Setpoint is one combined position/velocity/acceleration/yaw command.
// Yaw is in degrees.
type Setpoint struct {
	VehicleID    int           `json:"vehicleId"`
	Time         time.Time     `json:"time"`
	Elapsed      time.Duration `json:"elapsed"`
	Mode         ModeCode      `json:"mode"`
	Position     Vec3          `json:"position"`
	Velocity     Vec3          `json:"velocity"`
	Acceleration Vec3          `json:"acceleration"`
	Yaw          float64       `json:"yaw"`
	Corrected    bool          `json:"corrected"`
}

// YawCorrection records an applied visual heading correction.
type YawCorrection struct {
	VehicleID   int       `json:"vehicleId"`
	Time        time.Time `json:"time"`
	BaseYaw     float64   `json:"baseYaw"`
	Yaw         float64   `json:"yaw"`
	DeviationPx float64   `json:"deviationPx"`
	Angle       float64   `json:"angle"`
	Alpha       float64   `json:"alpha"`
}

// TrackingEvent records the tracking latch becoming active.
type TrackingEvent struct {
	VehicleID int       `json:"vehicleId"`
	Time      time.Time `json:"time"`
	PixelX    float64   `json:"pixelX"`
	PixelY    float64   `json:"pixelY"`
}

// VehicleError records a failure inside a vehicle run. Fatal is false for
// errors that are logged and tolerated (offboard stop, disarm during cleanup).
type VehicleError struct {
	VehicleID int       `json:"vehicleId"`
	Time      time.Time `json:"time"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
}
