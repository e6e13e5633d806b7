package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/aerofleet/swarmctl/internal/dispatcher"

// instruments are recorded against the global meter provider, which is a
// no-op until the otel package installs one.
type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter
}

func newInstruments(queues func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	in := &instruments{}

	var err error
	in.queueSize, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in each buffered queue"))
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for kind, n := range queues() {
			o.ObserveInt64(in.queueSize, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
		}
		return nil
	}, in.queueSize)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if in.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Events handled by buffered handlers")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events dropped because a queue was full")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.failed, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Events whose buffered handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return in, nil
}

func eventAttrs(kind string, vehicleID int) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind), attribute.Int("vehicle", vehicleID))
}

func (in *instruments) handled(e Event, kind string, err error) {
	ctx := context.Background()
	in.processed.Add(ctx, 1, eventAttrs(kind, e.VehicleID))
	if err != nil {
		in.failed.Add(ctx, 1, eventAttrs(kind, e.VehicleID))
	}
}

func (in *instruments) drop(e Event, kind string) {
	in.dropped.Add(context.Background(), 1, eventAttrs(kind, e.VehicleID))
}
