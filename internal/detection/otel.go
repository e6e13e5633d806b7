package detection

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aerofleet/swarmctl/internal/detection"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
