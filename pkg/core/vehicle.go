// pkg/core/vehicle.go
package core

// GlobalPosition is a WGS84 position estimate reported by a vehicle.
type GlobalPosition struct {
	LatitudeDeg       float64 `json:"latitudeDeg"`
	LongitudeDeg      float64 `json:"longitudeDeg"`
	AbsoluteAltitudeM float64 `json:"absoluteAltitudeM"`
	RelativeAltitudeM float64 `json:"relativeAltitudeM"`
}

// IsZero reports whether no estimate has been recorded.
func (p GlobalPosition) IsZero() bool {
	return p.LatitudeDeg == 0 && p.LongitudeDeg == 0
}

// Vec3 is a plain NED triple used in event payloads.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}
