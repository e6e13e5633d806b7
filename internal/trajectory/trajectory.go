// Package trajectory loads precomputed waypoint files and selects the
// setpoint a vehicle should fly at a given point of its run.
package trajectory

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/aerofleet/swarmctl/internal/geo"
	"github.com/aerofleet/swarmctl/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformed is returned when a waypoint file cannot be turned into a trajectory.
var ErrMalformed = errors.New("malformed trajectory")

// Waypoint is a single scheduled setpoint. Offsets are already applied.
type Waypoint struct {
	T            float64
	At           time.Duration
	Position     r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
	Yaw          float64
	Mode         core.ModeCode
}

// Trajectory is a non-empty list of waypoints ordered by time.
type Trajectory struct {
	Path      string
	Waypoints []Waypoint
}

// Len returns the number of waypoints.
func (tr *Trajectory) Len() int {
	return len(tr.Waypoints)
}

// TotalDuration is the time of the last waypoint.
func (tr *Trajectory) TotalDuration() time.Duration {
	if len(tr.Waypoints) == 0 {
		return 0
	}
	return tr.Waypoints[len(tr.Waypoints)-1].At
}

// SelectTarget returns the first waypoint scheduled at or after t.
// There is no interpolation between waypoints. The second return value is
// false once t is past the last waypoint.
func SelectTarget(tr *Trajectory, t time.Duration) (Waypoint, bool) {
	n := len(tr.Waypoints)
	i := sort.Search(n, func(i int) bool {
		return tr.Waypoints[i].At >= t
	})
	if i == n {
		return Waypoint{}, false
	}
	return tr.Waypoints[i], true
}

// Summary describes a loaded trajectory for logging.
type Summary struct {
	Waypoints    int
	Duration     time.Duration
	Modes        []core.ModeCode
	// UnknownModes lists codes outside the description table, once each.
	UnknownModes []core.ModeCode
	GroundTrackM float64
}

// Summarize computes the trajectory summary.
func Summarize(tr *Trajectory) Summary {
	s := Summary{
		Waypoints: len(tr.Waypoints),
		Duration:  tr.TotalDuration(),
	}

	points := make([]r3.Vec, 0, len(tr.Waypoints))
	for i, wp := range tr.Waypoints {
		points = append(points, wp.Position)
		if i == 0 || wp.Mode != tr.Waypoints[i-1].Mode {
			s.Modes = append(s.Modes, wp.Mode)
			if !wp.Mode.Known() && !slices.Contains(s.UnknownModes, wp.Mode) {
				s.UnknownModes = append(s.UnknownModes, wp.Mode)
			}
		}
	}
	s.GroundTrackM = geo.GroundTrack(points).Length()
	return s
}
