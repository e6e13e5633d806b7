// pkg/core/mission.go
package core

import "time"

// Run describes one fleet execution.
type Run struct {
	ID              string    `json:"id"`
	StartTime       time.Time `json:"startTime"`
	VehicleCount    int       `json:"vehicleCount"`
	CameraVehicleID int       `json:"cameraVehicleId"`
}

// VehicleSummary is the per-vehicle outcome recorded when a run ends.
type VehicleSummary struct {
	VehicleID      int            `json:"vehicleId"`
	FinalState     string         `json:"finalState"`
	Error          string         `json:"error,omitempty"`
	Setpoints      int            `json:"setpoints"`
	ModeChanges    int            `json:"modeChanges"`
	YawCorrections int            `json:"yawCorrections"`
	Elapsed        time.Duration  `json:"elapsed"`
	Home           GlobalPosition `json:"home"`
	HomeNorthM     float64        `json:"homeNorthM"`
	HomeEastM      float64        `json:"homeEastM"`
}

// RunSummary is handed to storage backends when a run ends.
type RunSummary struct {
	Run      Run              `json:"run"`
	EndTime  time.Time        `json:"endTime"`
	Vehicles []VehicleSummary `json:"vehicles"`
}
