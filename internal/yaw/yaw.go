// Package yaw steers the camera vehicle's heading towards a tracked object.
package yaw

import "math"

const (
	// DeadZoneDeg is the angular error below which the heading is left alone.
	DeadZoneDeg = 0.5
	// MaxAngleDeg bounds the correction applied in one step.
	MaxAngleDeg = 45.0

	minAlpha = 0.05
	maxAlpha = 0.5
)

// Correction is the full result of one yaw computation.
type Correction struct {
	BaseYaw     float64
	Yaw         float64
	DeviationPx float64
	Angle       float64
	Alpha       float64
	Applied     bool
}

// Compute blends the base yaw towards the object seen at objectPixelX.
// Larger deviations from the image centre converge faster.
func Compute(baseYaw, objectPixelX float64, imageWidth int, horizontalFOV float64) Correction {
	c := Correction{BaseYaw: baseYaw, Yaw: baseYaw}
	if imageWidth <= 0 {
		return c
	}

	width := float64(imageWidth)
	half := width / 2
	c.DeviationPx = objectPixelX - half
	c.Angle = c.DeviationPx * (horizontalFOV / width)

	if math.Abs(c.Angle) <= DeadZoneDeg {
		return c
	}

	c.Angle = math.Max(-MaxAngleDeg, math.Min(MaxAngleDeg, c.Angle))
	target := baseYaw + c.Angle

	c.Alpha = minAlpha + (maxAlpha-minAlpha)*math.Min(math.Abs(c.DeviationPx)/half, 1)
	c.Yaw = (1-c.Alpha)*baseYaw + c.Alpha*target
	c.Applied = true
	return c
}

// Correct returns only the corrected yaw in degrees.
func Correct(baseYaw, objectPixelX float64, imageWidth int, horizontalFOV float64) float64 {
	return Compute(baseYaw, objectPixelX, imageWidth, horizontalFOV).Yaw
}
