package geo

import (
	"math"

	"github.com/aerofleet/swarmctl/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
	"gonum.org/v1/gonum/spatial/r3"
)

// Point3857 projects a WGS84 position to a web mercator point.
func Point3857(p core.GlobalPosition) (geom.Point, error) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.LongitudeDeg, p.LatitudeDeg, 0)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    p.AbsoluteAltitudeM,
			Type: geom.DimXYZ,
		},
	)
}

// NorthEastOffset returns the local north/east distance in meters of p from
// origin. Mercator distances are scaled by cos(latitude) at the origin, which
// is accurate for the few hundred meters separating vehicles of one fleet.
// Positions that do not project yield a zero offset.
func NorthEastOffset(origin, p core.GlobalPosition) (north, east float64) {
	o, ok := projectXY(origin)
	if !ok {
		return 0, 0
	}
	q, ok := projectXY(p)
	if !ok {
		return 0, 0
	}
	scale := math.Cos(origin.LatitudeDeg * math.Pi / 180)
	return (q.Y - o.Y) * scale, (q.X - o.X) * scale
}

func projectXY(p core.GlobalPosition) (geom.XY, bool) {
	pt, err := Point3857(p)
	if err != nil {
		return geom.XY{}, false
	}
	return pt.XY()
}

// GroundTrack builds the horizontal path through the given NED positions.
// Fewer than two distinct horizontal positions yield an empty line string.
func GroundTrack(points []r3.Vec) geom.LineString {
	if len(points) < 2 {
		return geom.LineString{}
	}
	flat := make([]float64, 0, len(points)*3)
	for _, p := range points {
		flat = append(flat, p.X, p.Y, p.Z)
	}
	seq := geom.NewSequence(flat, geom.DimXYZ)
	// OmitInvalid turns a stationary or non-finite track into the empty
	// line string instead of an error.
	ls, err := geom.NewLineString(seq, geom.OmitInvalid)
	if err != nil {
		return geom.LineString{}
	}
	return ls
}
