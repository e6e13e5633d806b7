package vehicle

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aerofleet/swarmctl/internal/detection"
	"github.com/aerofleet/swarmctl/internal/dispatcher"
	"github.com/aerofleet/swarmctl/internal/link"
	"github.com/aerofleet/swarmctl/internal/link/linktest"
	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

const csvHeader = "t,px,py,pz,vx,vy,vz,ax,ay,az,yaw,mode\n"

// twoRows is the minimal end-to-end trajectory: ground then landing.
const twoRows = csvHeader +
	"0,0,0,0,0,0,0,0,0,0,0,0\n" +
	"1,1,2,-3,0,0,0,0,0,0,30,100\n"

var zurich = core.GlobalPosition{LatitudeDeg: 47.397742, LongitudeDeg: 8.545594, AbsoluteAltitudeM: 488}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

// recordingEmitter keeps every dispatched event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []dispatcher.Event
}

func (r *recordingEmitter) Dispatch(e dispatcher.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) ofKind(kind string) []dispatcher.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatcher.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	cfg      Config
	link     *linktest.Link
	events   *recordingEmitter
	clock    *fakeClock
	statuses []Status
	opened   int
	logs     bytes.Buffer
}

func newHarness(t *testing.T, csv string) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shape.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0644))

	return &harness{
		cfg: Config{
			ID:             1,
			TrajectoryPath: path,
			Endpoint:       link.Endpoint{VehicleID: 1, Address: "127.0.0.1:14641"},
			TickInterval:   100 * time.Millisecond,
			Timeouts: Timeouts{
				Connect: time.Second,
				Health:  time.Second,
				Landed:  time.Second,
				Cleanup: time.Second,
			},
		},
		link:   linktest.New(zurich),
		events: &recordingEmitter{},
		clock:  newFakeClock(),
	}
}

func (h *harness) run(t *testing.T, ctx context.Context) Result {
	t.Helper()
	c, err := New(h.cfg, Options{
		Links: func(ctx context.Context, ep link.Endpoint) (link.Link, error) {
			h.opened++
			return h.link, nil
		},
		Events:   h.events,
		Logger:   slog.New(slog.NewTextHandler(&h.logs, nil)),
		Clock:    h.clock,
		OnStatus: func(s Status) { h.statuses = append(h.statuses, s) },
	})
	require.NoError(t, err)
	return c.Run(ctx)
}

// distinct collapses consecutive identical setpoints.
func distinct(sps []link.Setpoint) []link.Setpoint {
	var out []link.Setpoint
	for _, sp := range sps {
		if len(out) == 0 || !cmp.Equal(out[len(out)-1], sp) {
			out = append(out, sp)
		}
	}
	return out
}

func TestNew_RequiresLinkFactory(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)
}

func TestNew_RejectsUnusableCamera(t *testing.T) {
	links := func(context.Context, link.Endpoint) (link.Link, error) { return nil, nil }
	tracker := detection.NewTracker()
	for _, cam := range []Camera{
		{Tracker: tracker, ImageWidth: 0, HorizontalFOV: 87},
		{Tracker: tracker, ImageWidth: 640, HorizontalFOV: 0},
	} {
		_, err := New(Config{ID: 1, Camera: &cam}, Options{Links: links})
		assert.Error(t, err)
	}
}

func TestController_TwoRowTrajectory(t *testing.T) {
	h := newHarness(t, twoRows)

	res := h.run(t, context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, []State{
		Connecting, WaitingHealthy, Arming, SettingInitialSetpoint, StartingOffboard,
		Executing, Landing, WaitingGrounded, StoppingOffboard, Disarming, Done,
	}, res.Transitions)

	want := []link.Setpoint{
		{},
		{Position: r3.Vec{X: 1, Y: 2, Z: -3}, YawDeg: 30},
	}
	if diff := cmp.Diff(want, distinct(h.link.Setpoints())); diff != "" {
		t.Errorf("distinct setpoints mismatch (-want +got):\n%s", diff)
	}
	// cursor 0 selects row 0, cursors 0.1..1.0 select row 1
	assert.Equal(t, 11, res.Setpoints)
	assert.Equal(t, time.Second, res.Elapsed)
	assert.Equal(t, zurich, res.Home)

	calls := h.link.Calls()
	assert.Equal(t, []string{linktest.WaitConnected, linktest.WaitHealthy, linktest.Arm, linktest.SetPositionNED, linktest.StartOffboard}, calls[:5])
	assert.Equal(t, []string{linktest.Land, linktest.WaitLanded, linktest.StopOffboard, linktest.Disarm, linktest.Close}, calls[len(calls)-5:])
}

func TestController_ModeChangeOncePerMode(t *testing.T) {
	h := newHarness(t, csvHeader+
		"0,0,0,-1,0,0,0,0,0,0,0,10\n"+
		"0.3,0,0,-2,0,0,0,0,0,0,0,10\n"+
		"0.6,0,0,-2,0,0,0,0,0,0,0,20\n"+
		"0.9,1,0,-2,0,0,0,0,0,0,0,70\n"+
		"1.2,2,0,-2,0,0,0,0,0,0,0,70\n"+
		"1.5,2,0,0,0,0,0,0,0,0,0,100\n")

	res := h.run(t, context.Background())
	require.NoError(t, res.Err)

	changes := h.events.ofKind(core.KindModeChange)
	var modes []core.ModeCode
	for _, e := range changes {
		modes = append(modes, e.Payload.(core.ModeChange).Mode)
	}
	assert.Equal(t, []core.ModeCode{core.ModeClimbing, core.ModeHoldingAfterClimb, core.ModeManeuvering, core.ModeLanding}, modes)
	assert.Equal(t, 4, res.ModeChanges)
	assert.Greater(t, res.Setpoints, len(changes))
	assert.Equal(t, "Landing", changes[3].Payload.(core.ModeChange).Description)
}

func TestController_OffboardStartFailureAborts(t *testing.T) {
	h := newHarness(t, twoRows)
	h.link.Fail[linktest.StartOffboard] = errors.New("COMMAND_DENIED")

	res := h.run(t, context.Background())

	assert.Equal(t, Aborted, res.State)
	assert.ErrorIs(t, res.Err, ErrOffboardStart)
	assert.True(t, h.link.Called(linktest.Disarm), "aborted vehicle must still disarm")
	assert.False(t, h.link.Called(linktest.SetSetpoint))
	assert.False(t, h.link.Called(linktest.Land))
	assert.Equal(t, []State{Connecting, WaitingHealthy, Arming, SettingInitialSetpoint, StartingOffboard, Aborted}, res.Transitions)

	last := h.statuses[len(h.statuses)-1]
	assert.Equal(t, Aborted, last.State)
	assert.False(t, last.Armed)
}

func TestController_MalformedTrajectoryFailsBeforeConnecting(t *testing.T) {
	h := newHarness(t, csvHeader)

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.Error(t, res.Err)
	assert.Zero(t, h.opened, "link must not be opened")
	assert.Equal(t, []State{Failed}, res.Transitions)
	require.Len(t, h.events.ofKind(core.KindVehicleError), 1)
}

func TestController_ConnectTimeout(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.Timeouts.Connect = 20 * time.Millisecond
	h.link.Block[linktest.WaitConnected] = true

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrTelemetryTimeout)
	assert.False(t, h.link.Called(linktest.Arm))
	assert.False(t, h.link.Called(linktest.Disarm), "never armed, nothing to disarm")
	assert.True(t, h.link.Called(linktest.Close))
}

func TestController_HealthTimeout(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.Timeouts.Health = 20 * time.Millisecond
	h.link.Block[linktest.WaitHealthy] = true

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrTelemetryTimeout)
	assert.Contains(t, res.Err.Error(), "global position")
}

func TestController_ArmFailureDisarms(t *testing.T) {
	h := newHarness(t, twoRows)
	h.link.Fail[linktest.Arm] = errors.New("pre-arm check failed")

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.True(t, h.link.Called(linktest.Disarm))
	assert.False(t, h.link.Called(linktest.StartOffboard))
}

func TestController_ExecutingErrorLandsAndDisarms(t *testing.T) {
	h := newHarness(t, twoRows)
	boom := errors.New("link dropped")
	h.link.FailSetpointAt = 3
	h.link.FailSetpointErr = boom

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 2, res.Setpoints)
	assert.Equal(t, []State{Executing, Landing, WaitingGrounded, StoppingOffboard, Disarming, Failed}, res.Transitions[5:])
	assert.True(t, h.link.Called(linktest.Land))
	assert.True(t, h.link.Called(linktest.Disarm))
}

func TestController_CancelDuringExecutingStillLands(t *testing.T) {
	h := newHarness(t, twoRows)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.link.OnSetpoint = func(n int, sp link.Setpoint) {
		if n == 2 {
			cancel()
		}
	}

	res := h.run(t, ctx)

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	calls := h.link.Calls()
	assert.Equal(t, []string{linktest.Land, linktest.WaitLanded, linktest.StopOffboard, linktest.Disarm, linktest.Close}, calls[len(calls)-5:])
}

func TestController_LandedTimeoutStillDisarms(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.Timeouts.Landed = 20 * time.Millisecond
	h.link.Block[linktest.WaitLanded] = true

	res := h.run(t, context.Background())

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrTelemetryTimeout)
	assert.True(t, h.link.Called(linktest.StopOffboard))
	assert.True(t, h.link.Called(linktest.Disarm))
}

func TestController_LandedTimeoutLongerThanCleanup(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.Timeouts.Landed = 400 * time.Millisecond
	h.cfg.Timeouts.Cleanup = 200 * time.Millisecond
	h.link.Block[linktest.WaitLanded] = true

	start := time.Now()
	res := h.run(t, context.Background())

	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, ErrTelemetryTimeout)
	assert.NotErrorIs(t, res.Err, context.DeadlineExceeded)

	require.True(t, h.link.Called(linktest.Disarm))
	assert.NoError(t, h.link.ContextErr(linktest.StopOffboard))
	assert.NoError(t, h.link.ContextErr(linktest.Disarm))
	assert.Len(t, h.events.ofKind(core.KindVehicleError), 1)
}

func TestController_WarnsOnUnknownModeCodes(t *testing.T) {
	h := newHarness(t, csvHeader+
		"0,0,0,0,0,0,0,0,0,0,0,0\n"+
		"1,1,2,-3,0,0,0,0,0,0,30,15\n")

	res := h.run(t, context.Background())

	require.NoError(t, res.Err)
	assert.Contains(t, h.logs.String(), `level=WARN msg="trajectory uses unknown mode codes" modes=[15]`)
}

func TestController_StopOffboardFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, twoRows)
	h.link.Fail[linktest.StopOffboard] = errors.New("denied")

	res := h.run(t, context.Background())

	assert.Equal(t, Done, res.State)
	assert.NoError(t, res.Err)
	assert.True(t, h.link.Called(linktest.Disarm))

	errs := h.events.ofKind(core.KindVehicleError)
	require.Len(t, errs, 1)
	payload := errs[0].Payload.(core.VehicleError)
	assert.False(t, payload.Fatal)
	assert.Equal(t, "StoppingOffboard", payload.State)
	assert.Contains(t, payload.Message, ErrOffboardStop.Error())
}

func TestController_CameraYawCorrection(t *testing.T) {
	h := newHarness(t, twoRows)
	tracker := detection.NewTracker()
	h.cfg.Camera = &Camera{Tracker: tracker, ImageWidth: 640, HorizontalFOV: 87}
	h.link.OnSetpoint = func(n int, sp link.Setpoint) {
		// detections arrive while the third setpoint is being sent
		if n == 3 {
			tracker.OnMessage(detection.NewMessage(640, 240))
			tracker.OnMessage(detection.NewMessage(640, 240))
		}
	}

	res := h.run(t, context.Background())
	require.NoError(t, res.Err)

	sps := h.link.Setpoints()
	require.Len(t, sps, 11)
	assert.Equal(t, 0.0, sps[0].YawDeg)
	assert.Equal(t, 30.0, sps[1].YawDeg)
	assert.Equal(t, 30.0, sps[2].YawDeg)
	for _, sp := range sps[3:] {
		assert.InDelta(t, 30+0.5*43.5, sp.YawDeg, 1e-9)
	}
	assert.Equal(t, 8, res.YawCorrections)
	assert.Len(t, h.events.ofKind(core.KindYawCorrection), 8)

	corrected := 0
	for _, e := range h.events.ofKind(core.KindSetpoint) {
		if e.Payload.(core.Setpoint).Corrected {
			corrected++
		}
	}
	assert.Equal(t, 8, corrected)
	assert.Contains(t, h.logs.String(), `level=INFO msg="yaw corrected"`)
}

func TestController_NonCameraVehicleIgnoresTracking(t *testing.T) {
	h := newHarness(t, twoRows)
	tracker := detection.NewTracker()
	tracker.OnMessage(detection.NewMessage(640, 240))
	tracker.OnMessage(detection.NewMessage(640, 240))
	require.True(t, tracker.Snapshot().Active)

	res := h.run(t, context.Background())
	require.NoError(t, res.Err)
	assert.Zero(t, res.YawCorrections)
	for _, sp := range h.link.Setpoints()[1:] {
		assert.Equal(t, 30.0, sp.YawDeg)
	}
}

func TestController_StartDelayAndTickCursor(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.StartDelay = 2 * time.Second

	res := h.run(t, context.Background())
	require.NoError(t, res.Err)

	require.NotEmpty(t, h.clock.sleeps)
	assert.Equal(t, 2*time.Second, h.clock.sleeps[0])
	ticks := h.clock.sleeps[1:]
	assert.Len(t, ticks, res.Setpoints)
	for _, d := range ticks {
		assert.Equal(t, 100*time.Millisecond, d)
	}
}

func TestController_CancelledDuringStartDelay(t *testing.T) {
	h := newHarness(t, twoRows)
	h.cfg.StartDelay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.run(t, ctx)

	assert.Equal(t, Failed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, h.opened)
}

func TestController_PublishesStatus(t *testing.T) {
	h := newHarness(t, twoRows)

	res := h.run(t, context.Background())
	require.NoError(t, res.Err)

	require.NotEmpty(t, h.statuses)
	last := h.statuses[len(h.statuses)-1]
	assert.Equal(t, Done, last.State)
	assert.True(t, last.Connected)
	assert.False(t, last.Armed)
	assert.False(t, last.Offboard)
	assert.Equal(t, core.ModeLanding, last.Mode)
	assert.Equal(t, core.ModeGrounded, last.LastMode)
	assert.Equal(t, time.Second, last.Elapsed)
	assert.Equal(t, zurich, last.Home)
}

func TestController_TransitionEvents(t *testing.T) {
	h := newHarness(t, twoRows)
	h.run(t, context.Background())

	transitions := h.events.ofKind(core.KindTransition)
	require.NotEmpty(t, transitions)
	first := transitions[0].Payload.(core.StateTransition)
	assert.Equal(t, "", first.From)
	assert.Equal(t, "Connecting", first.To)
	last := transitions[len(transitions)-1].Payload.(core.StateTransition)
	assert.Equal(t, "Disarming", last.From)
	assert.Equal(t, "Done", last.To)
	for _, e := range transitions {
		assert.Equal(t, 1, e.VehicleID)
	}
}
