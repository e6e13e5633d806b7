// Package fleet starts one controller per vehicle, staggered in time, and
// owns the resources they share: link bridges, the detection listener and
// the status and home registries.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aerofleet/swarmctl/internal/bridge"
	"github.com/aerofleet/swarmctl/internal/cache"
	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/internal/detection"
	"github.com/aerofleet/swarmctl/internal/dispatcher"
	"github.com/aerofleet/swarmctl/internal/geo"
	"github.com/aerofleet/swarmctl/internal/link"
	"github.com/aerofleet/swarmctl/internal/vehicle"
	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNoLinks is returned by New when no link factory is supplied.
var ErrNoLinks = errors.New("fleet requires a link factory")

// Options carries the collaborators shared by every vehicle.
type Options struct {
	Links  link.Factory
	Events vehicle.Emitter
	Logger *slog.Logger
	// Process receives bridge process output.
	Process zerolog.Logger
	// Trace receives sampled per-tick lines.
	Trace *zerolog.Logger
	Clock vehicle.Clock
	// Statuses is updated on every status change. Created per run when nil.
	Statuses *cache.Slots[vehicle.Status]
	// OnDetectionListening observes the bound detection address.
	OnDetectionListening func(net.Addr)
}

// VehicleReport is the outcome of one vehicle plus its home offset from the
// fleet origin.
type VehicleReport struct {
	vehicle.Result
	HomeNorthM float64
	HomeEastM  float64
	HasHome    bool
}

// Report is the outcome of a fleet run, indexed by vehicle id.
type Report struct {
	Vehicles           []VehicleReport
	OriginVehicleID    int
	BridgesStarted     int
	DetectionsReceived int64
	DetectionsDropped  int64
}

// Count returns how many vehicles finished in state s.
func (r Report) Count(s vehicle.State) int {
	n := 0
	for _, v := range r.Vehicles {
		if v.State == s {
			n++
		}
	}
	return n
}

// Summaries converts the report to the per-vehicle records handed to storage.
func (r Report) Summaries() []core.VehicleSummary {
	out := make([]core.VehicleSummary, 0, len(r.Vehicles))
	for _, v := range r.Vehicles {
		s := core.VehicleSummary{
			VehicleID:      v.VehicleID,
			FinalState:     v.State.String(),
			Setpoints:      v.Setpoints,
			ModeChanges:    v.ModeChanges,
			YawCorrections: v.YawCorrections,
			Elapsed:        v.Elapsed,
			Home:           v.Home,
			HomeNorthM:     v.HomeNorthM,
			HomeEastM:      v.HomeEastM,
		}
		if v.Err != nil {
			s.Error = v.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Orchestrator runs fleets. It holds no per-run state and may be reused.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

// New builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Links == nil {
		return nil, ErrNoLinks
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, logger: logger.With("component", "fleet")}, nil
}

// Run flies the whole fleet described by cfg and returns once every vehicle
// reached a terminal state. Only an invalid configuration is returned as an
// error; vehicle failures are reported per vehicle.
func (o *Orchestrator) Run(ctx context.Context, cfg config.FleetConfig) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	n := cfg.VehicleCount
	statuses := o.opts.Statuses
	if statuses == nil || statuses.Len() < n {
		statuses = cache.NewSlots[vehicle.Status](n)
	}
	homes := cache.NewHomeRegistry(n)
	report := Report{Vehicles: make([]VehicleReport, n)}

	if cfg.Bridge.Enabled {
		group, err := bridge.NewGroup(bridge.Config{
			Command:     cfg.Bridge.Command,
			Args:        cfg.Bridge.Args,
			StopTimeout: cfg.Bridge.StopTimeout,
		}, o.logger, o.opts.Process)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", config.ErrInvalidFleet, err)
		}
		defer func() {
			if err := group.Stop(); err != nil {
				o.logger.Error("failed to stop link bridges", "error", err)
			}
		}()
		for id := 0; id < n; id++ {
			err := group.Start(bridge.Target{ID: id, SourcePort: cfg.SourcePort(id), LinkPort: cfg.LinkPort(id)})
			if err != nil {
				// the vehicle will time out connecting and report it
				o.logger.Error("failed to start link bridge", "vehicle", id, "error", err)
				continue
			}
			report.BridgesStarted++
		}
	}

	var camera *vehicle.Camera
	var listener *detection.Listener
	if cfg.HasCamera() {
		camera, listener = o.newDetection(cfg)
	}

	controllers := make([]*vehicle.Controller, n)
	for id := 0; id < n; id++ {
		vc := vehicleConfig(cfg, id)
		if id == cfg.CameraVehicleID {
			vc.Camera = camera
		}
		ctrl, err := vehicle.New(vc, vehicle.Options{
			Links:    o.opts.Links,
			Events:   o.opts.Events,
			Logger:   o.logger,
			Trace:    o.opts.Trace,
			Clock:    o.opts.Clock,
			OnStatus: func(s vehicle.Status) { statuses.Store(id, s) },
			OnHome:   func(h core.GlobalPosition) { homes.Store(id, h) },
		})
		if err != nil {
			return Report{}, fmt.Errorf("failed to create controller for vehicle %d: %w", id, err)
		}
		controllers[id] = ctrl
	}

	// Bound only once every controller exists so no error path above
	// can leave the socket open.
	if listener != nil && !o.bindDetection(cfg, listener) {
		listener = nil
	}

	o.logger.Info("fleet starting", "vehicles", n, "camera", cfg.CameraVehicleID,
		"timeOffset", cfg.TimeOffset, "altitudeStep", cfg.AltitudeStep)

	var listenerWG sync.WaitGroup
	var wg conc.WaitGroup
	for id, ctrl := range controllers {
		if listener != nil && id == cfg.CameraVehicleID {
			lctx, stop := context.WithCancel(ctx)
			listenerWG.Add(1)
			go func() {
				defer listenerWG.Done()
				if err := listener.Run(lctx); err != nil {
					o.logger.Error("detection listener failed", "error", err)
				}
			}()
			wg.Go(func() {
				defer stop()
				report.Vehicles[id] = o.runVehicle(ctx, id, ctrl)
			})
			continue
		}
		wg.Go(func() {
			report.Vehicles[id] = o.runVehicle(ctx, id, ctrl)
		})
	}
	wg.Wait()
	listenerWG.Wait()

	if listener != nil {
		report.DetectionsReceived = listener.Received()
		report.DetectionsDropped = listener.Dropped()
	}
	o.applyHomeOffsets(&report, homes)

	o.logger.Info("fleet finished", "vehicles", n,
		"done", report.Count(vehicle.Done),
		"aborted", report.Count(vehicle.Aborted),
		"failed", report.Count(vehicle.Failed))
	return report, nil
}

// runVehicle turns a panic inside one controller into a Failed result so the
// rest of the fleet keeps flying.
func (o *Orchestrator) runVehicle(ctx context.Context, id int, ctrl *vehicle.Controller) VehicleReport {
	var res vehicle.Result
	var pc panics.Catcher
	pc.Try(func() { res = ctrl.Run(ctx) })
	if r := pc.Recovered(); r != nil {
		o.logger.Error("vehicle controller panicked", "vehicle", id, "panic", r.Value, "stack", string(r.Stack))
		res = vehicle.Result{VehicleID: id, State: vehicle.Failed, Err: r.AsError()}
	}
	return VehicleReport{Result: res}
}

// newDetection builds the camera vehicle's tracker and its unbound listener.
// Without a listener the camera vehicle flies uncorrected.
func (o *Orchestrator) newDetection(cfg config.FleetConfig) (*vehicle.Camera, *detection.Listener) {
	id := cfg.CameraVehicleID
	tracker := detection.NewTracker()
	camera := &vehicle.Camera{
		Tracker:       tracker,
		ImageWidth:    cfg.Camera.ImageWidth,
		HorizontalFOV: cfg.Camera.HorizontalFOV,
	}
	listener, err := detection.NewListener(detection.ListenerConfig{
		Address:     cfg.Detection.ListenAddress,
		ReadTimeout: cfg.Detection.ReadTimeout,
		Tracker:     tracker,
		Logger:      o.logger.With("vehicle", id),
		OnUpdate: func(m detection.Message, snap detection.Snapshot, activated bool) {
			if !activated || o.opts.Events == nil {
				return
			}
			now := time.Now()
			err := o.opts.Events.Dispatch(dispatcher.Event{
				Kind:      core.KindTracking,
				VehicleID: id,
				Time:      now,
				Payload:   core.TrackingEvent{VehicleID: id, Time: now, PixelX: snap.PixelX, PixelY: snap.PixelY},
			})
			if err != nil {
				o.logger.Debug("event not recorded", "kind", core.KindTracking, "error", err)
			}
		},
	})
	if err != nil {
		o.logDetectionUnavailable(cfg, err)
		return camera, nil
	}
	return camera, listener
}

// bindDetection binds the detection socket before any controller starts.
// A bind failure leaves the camera vehicle flying uncorrected.
func (o *Orchestrator) bindDetection(cfg config.FleetConfig, listener *detection.Listener) bool {
	if err := listener.Listen(); err != nil {
		o.logDetectionUnavailable(cfg, err)
		return false
	}
	if o.opts.OnDetectionListening != nil {
		o.opts.OnDetectionListening(listener.Addr())
	}
	return true
}

func (o *Orchestrator) logDetectionUnavailable(cfg config.FleetConfig, err error) {
	o.logger.Error("detection listener unavailable, camera vehicle flies without yaw correction",
		"vehicle", cfg.CameraVehicleID, "address", cfg.Detection.ListenAddress, "error", err)
}

func (o *Orchestrator) applyHomeOffsets(report *Report, homes *cache.HomeRegistry) {
	originID, origin, ok := homes.Origin()
	if !ok {
		return
	}
	report.OriginVehicleID = originID
	for id := range report.Vehicles {
		home, found := homes.Load(id)
		if !found {
			continue
		}
		v := &report.Vehicles[id]
		v.Home = home
		v.HasHome = true
		v.HomeNorthM, v.HomeEastM = geo.NorthEastOffset(origin, home)
		o.logger.Debug("home offset", "vehicle", id, "origin", originID,
			"north", v.HomeNorthM, "east", v.HomeEastM)
	}
}

// vehicleConfig derives one vehicle's run parameters from its index:
// even ids fly trajectory A, odd ids trajectory B.
func vehicleConfig(cfg config.FleetConfig, id int) vehicle.Config {
	path := cfg.TrajectoryA
	if id%2 == 1 {
		path = cfg.TrajectoryB
	}
	return vehicle.Config{
		ID:               id,
		TrajectoryPath:   path,
		TrajectoryOffset: r3.Vec{X: cfg.OffsetX, Y: cfg.OffsetY, Z: cfg.OffsetZ},
		AltitudeOffset:   float64(id) * cfg.AltitudeStep,
		Endpoint: link.Endpoint{
			VehicleID: id,
			Address:   net.JoinHostPort(cfg.Link.ListenHost, strconv.Itoa(cfg.LinkPort(id))),
		},
		StartDelay:   time.Duration(id) * cfg.TimeOffset,
		TickInterval: cfg.Control.TickInterval,
		Timeouts: vehicle.Timeouts{
			Connect: cfg.Link.ConnectTimeout,
			Health:  cfg.Link.HealthTimeout,
			Landed:  cfg.Link.LandedTimeout,
			Cleanup: cfg.Control.CleanupTimeout,
		},
	}
}
