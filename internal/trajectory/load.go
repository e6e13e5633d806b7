package trajectory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aerofleet/swarmctl/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

var columns = []string{"t", "px", "py", "pz", "vx", "vy", "vz", "ax", "ay", "az", "yaw", "mode"}

// Load reads a waypoint CSV file. The spatial offset is added to every
// position and the altitude offset raises the vehicle (NED, so z decreases).
func Load(path string, spatialOffset r3.Vec, altitudeOffset float64) (*Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trajectory %s: %w", path, err)
	}
	defer f.Close()

	tr, err := Read(f, spatialOffset, altitudeOffset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tr.Path = path
	return tr, nil
}

// Read parses waypoint CSV data from r. Columns are matched by header name.
func Read(r io.Reader, spatialOffset r3.Vec, altitudeOffset float64) (*Trajectory, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	pos := make([]int, len(columns))
	for i, name := range columns {
		idx, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformed, name)
		}
		pos[i] = idx
	}

	var waypoints []Waypoint
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		var vals [12]float64
		for i, name := range columns {
			if pos[i] >= len(record) {
				return nil, fmt.Errorf("%w: line %d: missing value for %q", ErrMalformed, line, name)
			}
			raw := strings.TrimSpace(record[pos[i]])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: line %d: %q is not numeric: %q", ErrMalformed, line, name, raw)
			}
			vals[i] = v
		}

		mode := vals[11]
		if mode != math.Trunc(mode) {
			return nil, fmt.Errorf("%w: line %d: mode %v is not an integer", ErrMalformed, line, mode)
		}

		wp := Waypoint{
			T:            vals[0],
			At:           time.Duration(math.Round(vals[0] * float64(time.Second))),
			Position:     r3.Add(r3.Vec{X: vals[1], Y: vals[2], Z: vals[3]}, spatialOffset),
			Velocity:     r3.Vec{X: vals[4], Y: vals[5], Z: vals[6]},
			Acceleration: r3.Vec{X: vals[7], Y: vals[8], Z: vals[9]},
			Yaw:          vals[10],
			Mode:         core.ModeCode(mode),
		}
		wp.Position.Z -= altitudeOffset
		waypoints = append(waypoints, wp)
	}

	if len(waypoints) == 0 {
		return nil, fmt.Errorf("%w: no waypoints", ErrMalformed)
	}

	sort.SliceStable(waypoints, func(i, j int) bool {
		return waypoints[i].At < waypoints[j].At
	})

	return &Trajectory{Waypoints: waypoints}, nil
}
