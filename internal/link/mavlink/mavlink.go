// Package mavlink implements link.Link over MAVLink v2 (PX4 offboard control).
package mavlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/aerofleet/swarmctl/internal/link"
	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	autopilotInvalid = 8
	modeFlagArmed    = 128
	customModeFlag   = 1

	px4MainModeAuto     = 4
	px4MainModeOffboard = 6
	px4SubModeLoiter    = 3

	targetComponent = 1
	commandAttempts = 3
)

// Config configures one vehicle link.
type Config struct {
	// Address is the local UDP address the link listens on.
	Address        string
	SystemID       byte
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

type vehicleState struct {
	connected bool
	armed     bool
	position  core.GlobalPosition
	landed    common.MAV_LANDED_STATE
}

// Link is a MAVLink connection to one autopilot.
type Link struct {
	node           *gomavlib.Node
	logger         *slog.Logger
	commandTimeout time.Duration
	start          time.Time

	target atomic.Uint32
	state  *link.Telemetry[vehicleState]
	acks   chan *common.MessageCommandAck
	done   chan struct{}
	closed atomic.Bool
}

// Dial opens a UDP server endpoint and starts decoding telemetry.
func Dial(cfg Config) (*Link, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPServer{Address: cfg.Address},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: cfg.SystemID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mavlink endpoint %s: %w", cfg.Address, err)
	}

	l := &Link{
		node:           node,
		logger:         cfg.Logger.With("address", cfg.Address),
		commandTimeout: cfg.CommandTimeout,
		start:          time.Now(),
		state:          link.NewTelemetry(vehicleState{}),
		acks:           make(chan *common.MessageCommandAck, 16),
		done:           make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Factory returns a link.Factory listening on each endpoint's address.
func Factory(systemID byte, commandTimeout time.Duration, logger *slog.Logger) link.Factory {
	return func(ctx context.Context, ep link.Endpoint) (link.Link, error) {
		return Dial(Config{
			Address:        ep.Address,
			SystemID:       systemID,
			CommandTimeout: commandTimeout,
			Logger:         logger.With("vehicle", ep.VehicleID),
		})
	}
}

func (l *Link) readLoop() {
	defer close(l.done)
	for evt := range l.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		switch msg := frm.Message().(type) {
		case *common.MessageHeartbeat:
			if msg.Autopilot == autopilotInvalid {
				continue
			}
			if l.target.CompareAndSwap(0, uint32(frm.SystemID())) {
				l.logger.Info("vehicle discovered", "systemID", frm.SystemID())
			}
			armed := msg.BaseMode&modeFlagArmed != 0
			l.state.Update(func(s *vehicleState) {
				s.connected = true
				s.armed = armed
			})

		case *common.MessageGlobalPositionInt:
			pos := core.GlobalPosition{
				LatitudeDeg:       float64(msg.Lat) / 1e7,
				LongitudeDeg:      float64(msg.Lon) / 1e7,
				AbsoluteAltitudeM: float64(msg.Alt) / 1e3,
				RelativeAltitudeM: float64(msg.RelativeAlt) / 1e3,
			}
			l.state.Update(func(s *vehicleState) { s.position = pos })

		case *common.MessageExtendedSysState:
			landed := msg.LandedState
			l.state.Update(func(s *vehicleState) { s.landed = landed })

		case *common.MessageCommandAck:
			select {
			case l.acks <- msg:
			default:
			}
		}
	}
}

func (l *Link) wait(ctx context.Context, pred func(vehicleState) bool) (vehicleState, error) {
	if l.closed.Load() {
		return vehicleState{}, link.ErrClosed
	}
	return l.state.Wait(ctx, pred)
}

// WaitConnected blocks until a heartbeat from an autopilot arrives.
func (l *Link) WaitConnected(ctx context.Context) error {
	_, err := l.wait(ctx, func(s vehicleState) bool { return s.connected })
	return err
}

// WaitHealthy blocks until a global position with a fix arrives.
func (l *Link) WaitHealthy(ctx context.Context) (core.GlobalPosition, error) {
	s, err := l.wait(ctx, func(s vehicleState) bool { return !s.position.IsZero() })
	return s.position, err
}

// WaitLanded blocks until the autopilot reports it is on the ground.
func (l *Link) WaitLanded(ctx context.Context) error {
	_, err := l.wait(ctx, func(s vehicleState) bool {
		return s.landed == common.MAV_LANDED_STATE_ON_GROUND
	})
	return err
}

// Arm arms the motors.
func (l *Link) Arm(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1, 0, 0)
}

// Disarm disarms the motors.
func (l *Link) Disarm(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 0, 0, 0)
}

// StartOffboard switches the autopilot into offboard mode. A setpoint must
// already have been sent.
func (l *Link) StartOffboard(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_DO_SET_MODE, customModeFlag, px4MainModeOffboard, 0)
}

// StopOffboard leaves offboard mode by switching to hold.
func (l *Link) StopOffboard(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_DO_SET_MODE, customModeFlag, px4MainModeAuto, px4SubModeLoiter)
}

// Land starts an autonomous landing at the current position.
func (l *Link) Land(ctx context.Context) error {
	nan := float32(math.NaN())
	return l.command(ctx, common.MAV_CMD_NAV_LAND, 0, 0, 0, 0, nan, nan, nan)
}

// SetPositionNED sends a position and yaw target.
func (l *Link) SetPositionNED(ctx context.Context, position r3.Vec, yawDeg float64) error {
	return l.setpoint(common.POSITION_TARGET_TYPEMASK_VX_IGNORE|
		common.POSITION_TARGET_TYPEMASK_VY_IGNORE|
		common.POSITION_TARGET_TYPEMASK_VZ_IGNORE|
		common.POSITION_TARGET_TYPEMASK_AX_IGNORE|
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE|
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE|
		common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE,
		link.Setpoint{Position: position, YawDeg: yawDeg})
}

// SetPositionVelocityAccelerationNED sends a full target.
func (l *Link) SetPositionVelocityAccelerationNED(ctx context.Context, sp link.Setpoint) error {
	return l.setpoint(common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE, sp)
}

func (l *Link) setpoint(mask common.POSITION_TARGET_TYPEMASK, sp link.Setpoint) error {
	if l.closed.Load() {
		return link.ErrClosed
	}
	err := l.node.WriteMessageAll(&common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      uint32(time.Since(l.start).Milliseconds()),
		TargetSystem:    uint8(l.target.Load()),
		TargetComponent: targetComponent,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        mask,
		X:               float32(sp.Position.X),
		Y:               float32(sp.Position.Y),
		Z:               float32(sp.Position.Z),
		Vx:              float32(sp.Velocity.X),
		Vy:              float32(sp.Velocity.Y),
		Vz:              float32(sp.Velocity.Z),
		Afx:             float32(sp.Acceleration.X),
		Afy:             float32(sp.Acceleration.Y),
		Afz:             float32(sp.Acceleration.Z),
		Yaw:             float32(sp.YawDeg * math.Pi / 180),
	})
	if err != nil {
		return fmt.Errorf("failed to send setpoint: %w", err)
	}
	return nil
}

// command sends COMMAND_LONG and waits for its acknowledgement, resending on
// timeout.
func (l *Link) command(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	if l.closed.Load() {
		return link.ErrClosed
	}
	var p [7]float32
	copy(p[:], params)

	for attempt := 0; attempt < commandAttempts; attempt++ {
		err := l.node.WriteMessageAll(&common.MessageCommandLong{
			TargetSystem:    uint8(l.target.Load()),
			TargetComponent: targetComponent,
			Command:         cmd,
			Confirmation:    uint8(attempt),
			Param1:          p[0],
			Param2:          p[1],
			Param3:          p[2],
			Param4:          p[3],
			Param5:          p[4],
			Param6:          p[5],
			Param7:          p[6],
		})
		if err != nil {
			return fmt.Errorf("%s: failed to send: %w", cmd.String(), err)
		}

		ack, err := l.awaitAck(ctx, cmd)
		if errors.Is(err, link.ErrNoAck) {
			l.logger.Debug("command not acknowledged, resending", "command", cmd.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return err
		}
		if ack.Result != common.MAV_RESULT_ACCEPTED {
			return fmt.Errorf("%s: %w: %s", cmd.String(), link.ErrCommandRejected, ack.Result.String())
		}
		return nil
	}
	return fmt.Errorf("%s: %w after %d attempts", cmd.String(), link.ErrNoAck, commandAttempts)
}

func (l *Link) awaitAck(ctx context.Context, cmd common.MAV_CMD) (*common.MessageCommandAck, error) {
	timer := time.NewTimer(l.commandTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, link.ErrNoAck
		case <-l.done:
			return nil, link.ErrClosed
		case ack := <-l.acks:
			if ack.Command == cmd {
				return ack, nil
			}
		}
	}
}

// Close shuts the endpoint down.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.node.Close()
	select {
	case <-l.done:
	case <-time.After(time.Second):
		l.logger.Warn("mavlink event loop did not stop")
	}
	return nil
}
