package vehicle

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aerofleet/swarmctl/internal/vehicle"

type metrics struct {
	ticks          metric.Int64Counter
	yawCorrections metric.Int64Counter
	tickLateness   metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	var (
		out metrics
		err error
	)

	out.ticks, err = m.Int64Counter(
		"vehicle.ticks",
		metric.WithDescription("Control ticks executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}

	out.yawCorrections, err = m.Int64Counter(
		"vehicle.yaw.corrections",
		metric.WithDescription("Ticks whose yaw was corrected from detections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating yaw correction counter: %w", err)
	}

	out.tickLateness, err = m.Float64Histogram(
		"vehicle.tick.lateness",
		metric.WithDescription("Wall clock lag behind the trajectory cursor"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick lateness histogram: %w", err)
	}

	return &out, nil
}
