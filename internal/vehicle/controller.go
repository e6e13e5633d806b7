// Package vehicle runs the control lifecycle of a single vehicle: connect,
// arm, fly a trajectory in offboard mode, land and disarm.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aerofleet/swarmctl/internal/detection"
	"github.com/aerofleet/swarmctl/internal/dispatcher"
	"github.com/aerofleet/swarmctl/internal/link"
	"github.com/aerofleet/swarmctl/internal/trajectory"
	"github.com/aerofleet/swarmctl/internal/yaw"
	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrOffboardStart means the autopilot refused offboard mode; the run aborts.
	ErrOffboardStart = errors.New("offboard start failed")
	// ErrTelemetryTimeout means an awaited telemetry condition never held.
	ErrTelemetryTimeout = errors.New("telemetry timeout")
	// ErrOffboardStop is logged and tolerated during shutdown.
	ErrOffboardStop = errors.New("offboard stop failed")
)

const (
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultCleanupTimeout = 60 * time.Second
)

// Emitter receives vehicle events. It must not block the control loop.
type Emitter interface {
	Dispatch(e dispatcher.Event) error
}

// Timeouts bound every blocking telemetry wait. Zero disables a bound,
// except Cleanup which falls back to DefaultCleanupTimeout.
type Timeouts struct {
	Connect time.Duration
	Health  time.Duration
	Landed  time.Duration
	Cleanup time.Duration
}

// Camera enables visual yaw correction for the vehicle.
type Camera struct {
	Tracker       *detection.Tracker
	ImageWidth    int
	HorizontalFOV float64
}

// Config is everything one vehicle run needs.
type Config struct {
	ID               int
	TrajectoryPath   string
	TrajectoryOffset r3.Vec
	AltitudeOffset   float64
	Endpoint         link.Endpoint
	StartDelay       time.Duration
	TickInterval     time.Duration
	Timeouts         Timeouts
	Camera           *Camera
}

// Options carries the collaborators of a controller.
type Options struct {
	Links  link.Factory
	Events Emitter
	Logger *slog.Logger
	// Trace receives per-tick setpoint lines; callers usually pass a sampled logger.
	Trace    *zerolog.Logger
	Clock    Clock
	OnStatus func(Status)
	OnHome   func(core.GlobalPosition)
}

// Status is the runtime view of a vehicle published after every transition and tick.
type Status struct {
	VehicleID int                 `json:"vehicleId"`
	State     State               `json:"state"`
	Mode      core.ModeCode       `json:"mode"`
	LastMode  core.ModeCode       `json:"lastMode"`
	Elapsed   time.Duration       `json:"elapsed"`
	Connected bool                `json:"connected"`
	Armed     bool                `json:"armed"`
	Offboard  bool                `json:"offboard"`
	Tracking  bool                `json:"tracking"`
	Home      core.GlobalPosition `json:"home"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Result is the outcome of one vehicle run.
type Result struct {
	VehicleID      int
	State          State
	Err            error
	Home           core.GlobalPosition
	Setpoints      int
	ModeChanges    int
	YawCorrections int
	Elapsed        time.Duration
	Duration       time.Duration
	Transitions    []State
}

// Controller drives one vehicle. Run must be called once, from one goroutine;
// every command to the vehicle is issued from that goroutine.
type Controller struct {
	cfg     Config
	opts    Options
	logger  *slog.Logger
	trace   zerolog.Logger
	clock   Clock
	metrics *metrics
	attrs   metric.MeasurementOption

	status   Status
	hasState bool
	res      Result
}

// New validates the collaborators and builds a controller.
func New(cfg Config, opts Options) (*Controller, error) {
	if opts.Links == nil {
		return nil, errors.New("vehicle controller requires a link factory")
	}
	if cam := cfg.Camera; cam != nil && (cam.ImageWidth <= 0 || cam.HorizontalFOV <= 0) {
		return nil, fmt.Errorf("camera of vehicle %d needs a positive image width and field of view", cfg.ID)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Timeouts.Cleanup <= 0 {
		cfg.Timeouts.Cleanup = DefaultCleanupTimeout
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trace := zerolog.Nop()
	if opts.Trace != nil {
		trace = opts.Trace.With().Int("vehicle", cfg.ID).Logger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = WallClock
	}

	return &Controller{
		cfg:     cfg,
		opts:    opts,
		logger:  logger.With("vehicle", cfg.ID),
		trace:   trace,
		clock:   clock,
		metrics: m,
		attrs:   metric.WithAttributes(attribute.Int("vehicle", cfg.ID)),
		status:  Status{VehicleID: cfg.ID},
	}, nil
}

// Run executes the whole lifecycle and returns its outcome. It never panics
// on vehicle errors; they are reported in the result.
func (c *Controller) Run(ctx context.Context) Result {
	started := c.clock.Now()
	c.res = Result{VehicleID: c.cfg.ID}

	c.run(ctx)

	c.res.Duration = c.clock.Now().Sub(started)
	if c.res.Err != nil {
		c.logger.Error("vehicle run finished", "state", c.res.State.String(),
			"setpoints", c.res.Setpoints, "duration", c.res.Duration, "error", c.res.Err)
	} else {
		c.logger.Info("vehicle run finished", "state", c.res.State.String(),
			"setpoints", c.res.Setpoints, "duration", c.res.Duration)
	}
	return c.res
}

func (c *Controller) run(ctx context.Context) {
	tr, err := trajectory.Load(c.cfg.TrajectoryPath, c.cfg.TrajectoryOffset, c.cfg.AltitudeOffset)
	if err != nil {
		c.fail(err)
		return
	}
	sum := trajectory.Summarize(tr)
	c.logger.Info("trajectory loaded",
		"path", tr.Path,
		"waypoints", sum.Waypoints,
		"duration", sum.Duration,
		"modes", sum.Modes,
		"groundTrackM", sum.GroundTrackM,
	)
	if len(sum.UnknownModes) > 0 {
		c.logger.Warn("trajectory uses unknown mode codes", "modes", sum.UnknownModes)
	}

	if c.cfg.StartDelay > 0 {
		c.logger.Info("waiting for start slot", "delay", c.cfg.StartDelay)
		if err := c.clock.Sleep(ctx, c.cfg.StartDelay); err != nil {
			c.fail(err)
			return
		}
	}

	c.transition(Connecting)
	l, err := c.opts.Links(ctx, c.cfg.Endpoint)
	if err != nil {
		c.fail(fmt.Errorf("opening link %s: %w", c.cfg.Endpoint.Address, err))
		return
	}
	defer l.Close()

	if err := c.await(ctx, "connection", c.cfg.Timeouts.Connect, l.WaitConnected); err != nil {
		c.fail(err)
		return
	}
	c.status.Connected = true

	c.transition(WaitingHealthy)
	var home core.GlobalPosition
	err = c.await(ctx, "global position", c.cfg.Timeouts.Health, func(ctx context.Context) error {
		var err error
		home, err = l.WaitHealthy(ctx)
		return err
	})
	if err != nil {
		c.fail(err)
		return
	}
	c.res.Home = home
	c.status.Home = home
	if c.opts.OnHome != nil {
		c.opts.OnHome(home)
	}
	c.logger.Info("vehicle healthy", "lat", home.LatitudeDeg, "lon", home.LongitudeDeg, "alt", home.AbsoluteAltitudeM)

	c.transition(Arming)
	if err := l.Arm(ctx); err != nil {
		c.fail(fmt.Errorf("arming: %w", err))
		c.disarm(ctx, l)
		return
	}
	c.status.Armed = true

	c.transition(SettingInitialSetpoint)
	if err := l.SetPositionNED(ctx, r3.Vec{}, 0); err != nil {
		c.fail(fmt.Errorf("initial setpoint: %w", err))
		c.disarm(ctx, l)
		return
	}

	c.transition(StartingOffboard)
	if err := l.StartOffboard(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrOffboardStart, err)
		c.reportError(err, true)
		c.res.Err = err
		c.transition(Aborted)
		c.disarm(ctx, l)
		return
	}
	c.status.Offboard = true

	c.transition(Executing)
	execErr := c.execute(ctx, l, tr)
	if execErr != nil {
		c.reportError(execErr, true)
		c.logger.Warn("trajectory interrupted, landing", "elapsed", c.res.Elapsed)
	}

	landErr := c.land(ctx, l)
	switch {
	case execErr != nil:
		c.res.Err = execErr
		c.transition(Failed)
	case landErr != nil:
		c.res.Err = landErr
		c.transition(Failed)
	default:
		c.transition(Done)
	}
}

// execute streams one setpoint per tick until the trajectory is exhausted.
// The cursor advances by exactly one interval per tick regardless of how long
// the tick really took.
func (c *Controller) execute(ctx context.Context, l link.Link, tr *trajectory.Trajectory) error {
	tick := c.cfg.TickInterval
	begin := c.clock.Now()

	var (
		cursor   time.Duration
		lastMode core.ModeCode
		hasMode  bool
	)

	for {
		wp, ok := trajectory.SelectTarget(tr, cursor)
		if !ok {
			c.logger.Info("trajectory complete", "elapsed", c.res.Elapsed, "setpoints", c.res.Setpoints)
			return nil
		}

		if !hasMode || wp.Mode != lastMode {
			c.modeChange(cursor, wp.Mode, lastMode, hasMode)
			lastMode, hasMode = wp.Mode, true
		}

		yawDeg, corrected := c.yawFor(ctx, wp)
		sp := link.Setpoint{
			Position:     wp.Position,
			Velocity:     wp.Velocity,
			Acceleration: wp.Acceleration,
			YawDeg:       yawDeg,
		}
		if err := l.SetPositionVelocityAccelerationNED(ctx, sp); err != nil {
			return fmt.Errorf("setpoint at %s: %w", cursor, err)
		}

		c.res.Setpoints++
		c.res.Elapsed = cursor
		c.metrics.ticks.Add(ctx, 1, c.attrs)
		c.emit(core.KindSetpoint, core.Setpoint{
			VehicleID:    c.cfg.ID,
			Time:         c.clock.Now(),
			Elapsed:      cursor,
			Mode:         wp.Mode,
			Position:     vec3(wp.Position),
			Velocity:     vec3(wp.Velocity),
			Acceleration: vec3(wp.Acceleration),
			Yaw:          yawDeg,
			Corrected:    corrected,
		})
		c.trace.Debug().
			Dur("t", cursor).
			Float64("x", wp.Position.X).
			Float64("y", wp.Position.Y).
			Float64("z", wp.Position.Z).
			Float64("yaw", yawDeg).
			Bool("corrected", corrected).
			Msg("setpoint")

		c.status.Elapsed = cursor
		c.publishStatus()

		if err := c.clock.Sleep(ctx, tick); err != nil {
			return err
		}
		cursor += tick

		lateness := c.clock.Now().Sub(begin) - cursor
		c.metrics.tickLateness.Record(ctx, float64(lateness)/float64(time.Millisecond), c.attrs)
	}
}

func (c *Controller) modeChange(cursor time.Duration, mode, last core.ModeCode, hadMode bool) {
	c.res.ModeChanges++
	c.status.LastMode = last
	c.status.Mode = mode
	if hadMode {
		c.logger.Info("mode changed", "mode", int(mode), "description", mode.Description(),
			"previous", int(last), "elapsed", cursor)
	} else {
		c.logger.Info("mode changed", "mode", int(mode), "description", mode.Description(), "elapsed", cursor)
	}
	c.emit(core.KindModeChange, core.ModeChange{
		VehicleID:   c.cfg.ID,
		Time:        c.clock.Now(),
		Elapsed:     cursor,
		Mode:        mode,
		Description: mode.Description(),
	})
}

// yawFor returns the yaw to command for wp, corrected towards the tracked
// object when this is the camera vehicle and tracking is active.
func (c *Controller) yawFor(ctx context.Context, wp trajectory.Waypoint) (float64, bool) {
	cam := c.cfg.Camera
	if cam == nil || cam.Tracker == nil {
		return wp.Yaw, false
	}
	snap := cam.Tracker.Snapshot()
	c.status.Tracking = snap.Active
	if !snap.Active || !snap.HasPosition {
		return wp.Yaw, false
	}

	corr := yaw.Compute(wp.Yaw, snap.PixelX, cam.ImageWidth, cam.HorizontalFOV)
	if !corr.Applied {
		return wp.Yaw, false
	}

	c.res.YawCorrections++
	c.metrics.yawCorrections.Add(ctx, 1, c.attrs)
	c.logger.Info("yaw corrected", "base", corr.BaseYaw, "yaw", corr.Yaw,
		"deviationPx", corr.DeviationPx, "angle", corr.Angle, "alpha", corr.Alpha)
	c.emit(core.KindYawCorrection, core.YawCorrection{
		VehicleID:   c.cfg.ID,
		Time:        c.clock.Now(),
		BaseYaw:     corr.BaseYaw,
		Yaw:         corr.Yaw,
		DeviationPx: corr.DeviationPx,
		Angle:       corr.Angle,
		Alpha:       corr.Alpha,
	})
	return corr.Yaw, true
}

// land runs Landing, WaitingGrounded, StoppingOffboard and Disarming. Every
// step survives cancellation of ctx. The landed wait is bounded by the landed
// timeout alone and each command gets its own cleanup timeout.
func (c *Controller) land(ctx context.Context, l link.Link) error {
	bg := context.WithoutCancel(ctx)
	var errs []error

	c.transition(Landing)
	if err := c.command(bg, l.Land); err != nil {
		err = fmt.Errorf("landing: %w", err)
		c.reportError(err, true)
		errs = append(errs, err)
	} else {
		c.transition(WaitingGrounded)
		if err := c.await(bg, "landed state", c.cfg.Timeouts.Landed, l.WaitLanded); err != nil {
			c.reportError(err, true)
			errs = append(errs, err)
		}
	}

	c.transition(StoppingOffboard)
	if err := c.command(bg, l.StopOffboard); err != nil {
		c.reportError(fmt.Errorf("%w: %v", ErrOffboardStop, err), false)
	} else {
		c.status.Offboard = false
	}

	c.transition(Disarming)
	if err := c.command(bg, l.Disarm); err != nil {
		err = fmt.Errorf("disarming: %w", err)
		c.reportError(err, true)
		errs = append(errs, err)
	} else {
		c.status.Armed = false
		c.publishStatus()
	}

	return errors.Join(errs...)
}

// command runs one shutdown command under a fresh cleanup timeout.
func (c *Controller) command(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.Cleanup)
	defer cancel()
	return fn(cctx)
}

// disarm is the exit action of runs that armed but never flew.
func (c *Controller) disarm(ctx context.Context, l link.Link) {
	c.logger.Info("disarming")
	if err := c.command(context.WithoutCancel(ctx), l.Disarm); err != nil {
		c.reportError(fmt.Errorf("disarming: %w", err), false)
		return
	}
	c.status.Armed = false
	c.publishStatus()
}

// await bounds a telemetry wait. A deadline hit by the wait's own timeout is
// reported as ErrTelemetryTimeout.
func (c *Controller) await(ctx context.Context, what string, timeout time.Duration, wait func(context.Context) error) error {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := wait(wctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no %s within %s", ErrTelemetryTimeout, what, timeout)
	}
	return err
}

func (c *Controller) fail(err error) {
	c.reportError(err, true)
	c.res.Err = err
	c.transition(Failed)
}

func (c *Controller) transition(to State) {
	from := ""
	if c.hasState {
		from = c.status.State.String()
	}
	c.hasState = true
	c.status.State = to
	c.res.State = to
	c.res.Transitions = append(c.res.Transitions, to)

	c.logger.Info("state transition", "from", from, "to", to.String())
	c.emit(core.KindTransition, core.StateTransition{
		VehicleID: c.cfg.ID,
		Time:      c.clock.Now(),
		From:      from,
		To:        to.String(),
	})
	c.publishStatus()
}

func (c *Controller) reportError(err error, fatal bool) {
	state := ""
	if c.hasState {
		state = c.status.State.String()
	}
	if fatal {
		c.logger.Error("vehicle error", "state", state, "error", err)
	} else {
		c.logger.Warn("vehicle error", "state", state, "error", err)
	}
	c.emit(core.KindVehicleError, core.VehicleError{
		VehicleID: c.cfg.ID,
		Time:      c.clock.Now(),
		State:     state,
		Message:   err.Error(),
		Fatal:     fatal,
	})
}

func (c *Controller) emit(kind string, payload any) {
	if c.opts.Events == nil {
		return
	}
	err := c.opts.Events.Dispatch(dispatcher.Event{
		Kind:      kind,
		VehicleID: c.cfg.ID,
		Time:      c.clock.Now(),
		Payload:   payload,
	})
	if err != nil {
		c.logger.Debug("event not recorded", "kind", kind, "error", err)
	}
}

func (c *Controller) publishStatus() {
	if c.opts.OnStatus == nil {
		return
	}
	c.status.UpdatedAt = c.clock.Now()
	c.opts.OnStatus(c.status)
}

func vec3(v r3.Vec) core.Vec3 {
	return core.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}
