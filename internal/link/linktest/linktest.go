// Package linktest provides a scripted in-memory link.Link for tests.
package linktest

import (
	"context"
	"sync"

	"github.com/aerofleet/swarmctl/internal/link"
	"github.com/aerofleet/swarmctl/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// Method names used in Calls and Fail.
const (
	WaitConnected  = "WaitConnected"
	WaitHealthy    = "WaitHealthy"
	Arm            = "Arm"
	Disarm         = "Disarm"
	SetPositionNED = "SetPositionNED"
	StartOffboard  = "StartOffboard"
	StopOffboard   = "StopOffboard"
	SetSetpoint    = "SetPositionVelocityAccelerationNED"
	Land           = "Land"
	WaitLanded     = "WaitLanded"
	Close          = "Close"
)

// Link records every call. Methods listed in Fail return that error; methods
// listed in Block wait for ctx to end.
type Link struct {
	Home  core.GlobalPosition
	Fail  map[string]error
	Block map[string]bool
	// FailSetpointAt makes the n-th full setpoint (1-based) fail with FailSetpointErr.
	FailSetpointAt  int
	FailSetpointErr error
	// OnSetpoint runs before each full setpoint is recorded.
	OnSetpoint func(n int, sp link.Setpoint)

	mu        sync.Mutex
	calls     []string
	ctxErrs   map[string]error
	setpoints []link.Setpoint
}

// New creates a fake link reporting the given home position.
func New(home core.GlobalPosition) *Link {
	return &Link{Home: home, Fail: map[string]error{}, Block: map[string]bool{}, ctxErrs: map[string]error{}}
}

func (l *Link) record(ctx context.Context, method string) error {
	l.mu.Lock()
	l.calls = append(l.calls, method)
	l.ctxErrs[method] = ctx.Err()
	err := l.Fail[method]
	block := l.Block[method]
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// Calls returns the method names in call order.
func (l *Link) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Called reports whether method was invoked at least once.
func (l *Link) Called(method string) bool {
	for _, c := range l.Calls() {
		if c == method {
			return true
		}
	}
	return false
}

// ContextErr returns ctx.Err() as seen on entry to the latest call of method.
func (l *Link) ContextErr(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctxErrs[method]
}

// Setpoints returns the full setpoints in the order they were sent.
func (l *Link) Setpoints() []link.Setpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]link.Setpoint(nil), l.setpoints...)
}

func (l *Link) WaitConnected(ctx context.Context) error {
	return l.record(ctx, WaitConnected)
}

func (l *Link) WaitHealthy(ctx context.Context) (core.GlobalPosition, error) {
	if err := l.record(ctx, WaitHealthy); err != nil {
		return core.GlobalPosition{}, err
	}
	return l.Home, nil
}

func (l *Link) Arm(ctx context.Context) error    { return l.record(ctx, Arm) }
func (l *Link) Disarm(ctx context.Context) error { return l.record(ctx, Disarm) }

func (l *Link) SetPositionNED(ctx context.Context, position r3.Vec, yawDeg float64) error {
	return l.record(ctx, SetPositionNED)
}

func (l *Link) StartOffboard(ctx context.Context) error { return l.record(ctx, StartOffboard) }
func (l *Link) StopOffboard(ctx context.Context) error  { return l.record(ctx, StopOffboard) }

func (l *Link) SetPositionVelocityAccelerationNED(ctx context.Context, sp link.Setpoint) error {
	if err := l.record(ctx, SetSetpoint); err != nil {
		return err
	}

	l.mu.Lock()
	n := len(l.setpoints) + 1
	hook := l.OnSetpoint
	l.mu.Unlock()

	if hook != nil {
		hook(n, sp)
	}
	if l.FailSetpointAt > 0 && n == l.FailSetpointAt {
		return l.FailSetpointErr
	}

	l.mu.Lock()
	l.setpoints = append(l.setpoints, sp)
	l.mu.Unlock()
	return nil
}

func (l *Link) Land(ctx context.Context) error       { return l.record(ctx, Land) }
func (l *Link) WaitLanded(ctx context.Context) error { return l.record(ctx, WaitLanded) }

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Close)
	return nil
}

// Factory hands out pre-built fakes by vehicle id. Unknown ids get a
// fresh fake at the zero position.
type Factory struct {
	mu    sync.Mutex
	Links map[int]*Link
	Err   map[int]error
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{Links: map[int]*Link{}, Err: map[int]error{}}
}

// Open implements link.Factory.
func (f *Factory) Open(ctx context.Context, ep link.Endpoint) (link.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Err[ep.VehicleID]; err != nil {
		return nil, err
	}
	l, ok := f.Links[ep.VehicleID]
	if !ok {
		l = New(core.GlobalPosition{})
		f.Links[ep.VehicleID] = l
	}
	return l, nil
}

// Get returns the fake handed out for id.
func (f *Factory) Get(id int) *Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Links[id]
}
