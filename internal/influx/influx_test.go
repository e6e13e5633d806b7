package influx

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/internal/storage"
	"github.com/aerofleet/swarmctl/pkg/core"
)

var _ storage.Backend = (*Manager)(nil)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "swarmctl",
		Bucket:   "fleet",
	}
}

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: false}, zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	assert.ErrorIs(t, m.Init(), ErrDisabled)
	assert.False(t, m.IsValid)
}

func TestConnect_UnreachableFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(unreachable(), zerolog.Nop(), path)

	require.NoError(t, m.Init())
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, m.StartRun(core.Run{ID: "run-9"}))
	require.NoError(t, m.RecordSetpoint(&core.Setpoint{
		VehicleID: 2,
		Time:      now,
		Elapsed:   1500 * time.Millisecond,
		Mode:      core.ModeManeuvering,
		Position:  core.Vec3{X: 1, Y: 2, Z: -3},
		Yaw:       45,
		Corrected: true,
	}))
	require.NoError(t, m.RecordYawCorrection(&core.YawCorrection{VehicleID: 2, Time: now, Alpha: 0.5}))
	require.NoError(t, m.RecordTransition(&core.StateTransition{VehicleID: 2, Time: now, From: "Executing", To: "Landing"}))
	require.NoError(t, m.EndRun(core.RunSummary{}))
	require.NoError(t, m.Close())

	lines := strings.Split(strings.TrimSpace(readBackup(t, path)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "setpoint,"), lines[0])
	assert.Contains(t, lines[0], "mode=70")
	assert.Contains(t, lines[0], "run=run-9")
	assert.Contains(t, lines[0], "vehicle=2")
	assert.Contains(t, lines[0], "corrected=true")
	assert.Contains(t, lines[0], "yaw=45")
	assert.True(t, strings.HasPrefix(lines[1], "yaw_correction,"), lines[1])
	assert.Contains(t, lines[2], `to="Landing"`)
}

func TestWritePoint_NoBackend(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	err := m.RecordTracking(&core.TrackingEvent{VehicleID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup writer not available")
}
