package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/pkg/core"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "swarmctl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log writer or endpoint")
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "swarmctl",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
		Run:          core.Run{ID: "run-1", VehicleCount: 2, CameraVehicleID: -1},
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	assert.True(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestRunAttributes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want map[attribute.Key]attribute.Value
		not  []attribute.Key
	}{
		{
			name: "before run",
			cfg:  Config{ServiceName: "swarmctl"},
			want: map[attribute.Key]attribute.Value{"service.name": attribute.StringValue("swarmctl")},
			not:  []attribute.Key{"service.instance.id", "fleet.vehicle_count"},
		},
		{
			name: "camera vehicle",
			cfg: Config{ServiceName: "swarmctl", Version: "0.0.1",
				Run: core.Run{ID: "run-3", VehicleCount: 4, CameraVehicleID: 1}},
			want: map[attribute.Key]attribute.Value{
				"service.version":      attribute.StringValue("0.0.1"),
				"service.instance.id":  attribute.StringValue("run-3"),
				"fleet.vehicle_count":  attribute.IntValue(4),
				"fleet.camera_vehicle": attribute.IntValue(1),
			},
		},
		{
			name: "no camera",
			cfg:  Config{ServiceName: "swarmctl", Run: core.Run{ID: "run-4", VehicleCount: 2, CameraVehicleID: -1}},
			want: map[attribute.Key]attribute.Value{"fleet.vehicle_count": attribute.IntValue(2)},
			not:  []attribute.Key{"fleet.camera_vehicle"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[attribute.Key]attribute.Value)
			for _, kv := range runAttributes(tt.cfg) {
				got[kv.Key] = kv.Value
			}
			for k, v := range tt.want {
				assert.Equal(t, v, got[k], string(k))
			}
			for _, k := range tt.not {
				assert.NotContains(t, got, k)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	var buf bytes.Buffer
	run := core.Run{ID: "run-7", VehicleCount: 3}
	cfg := FromSettings(config.OTelConfig{
		Enabled:      true,
		ServiceName:  "swarmctl",
		BatchTimeout: 5 * time.Second,
		Endpoint:     "collector:4318",
		Insecure:     true,
	}, &buf, "1.2.0", run)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "swarmctl", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, run, cfg.Run)
	assert.Same(t, &buf, cfg.LogWriter)
}
