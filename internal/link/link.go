// Package link defines the command/telemetry channel to a single vehicle.
package link

import (
	"context"
	"errors"

	"github.com/aerofleet/swarmctl/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrCommandRejected is returned when the autopilot refuses a command.
	ErrCommandRejected = errors.New("command rejected")
	// ErrNoAck is returned when a command is never acknowledged.
	ErrNoAck = errors.New("command not acknowledged")
	// ErrClosed is returned for calls on a closed link.
	ErrClosed = errors.New("link closed")
)

// Setpoint is a combined local NED target. Yaw is in degrees.
type Setpoint struct {
	Position     r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
	YawDeg       float64
}

// Endpoint identifies where a vehicle's link listens.
type Endpoint struct {
	VehicleID int
	Address   string
}

// Link is the control channel to one vehicle. A Link is driven by a single
// goroutine; implementations need not order commands from concurrent callers.
type Link interface {
	// WaitConnected blocks until the vehicle is heard on the link.
	WaitConnected(ctx context.Context) error
	// WaitHealthy blocks until the vehicle has a global position estimate and
	// returns it.
	WaitHealthy(ctx context.Context) (core.GlobalPosition, error)
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	// SetPositionNED sets a position-only target.
	SetPositionNED(ctx context.Context, position r3.Vec, yawDeg float64) error
	StartOffboard(ctx context.Context) error
	StopOffboard(ctx context.Context) error
	SetPositionVelocityAccelerationNED(ctx context.Context, sp Setpoint) error
	Land(ctx context.Context) error
	// WaitLanded blocks until the vehicle reports it is on the ground.
	WaitLanded(ctx context.Context) error
	Close() error
}

// Factory opens the link for one vehicle.
type Factory func(ctx context.Context, ep Endpoint) (Link, error)
