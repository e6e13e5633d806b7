package sqlitestorage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofleet/swarmctl/internal/storage"
	"github.com/aerofleet/swarmctl/pkg/core"
)

var (
	_ storage.Backend    = (*Backend)(nil)
	_ storage.Summarizer = (*Backend)(nil)
)

func newJournal(t *testing.T) *Backend {
	t.Helper()
	b := New(nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_NotInitialized(t *testing.T) {
	b := New(nil)
	assert.ErrorIs(t, b.RecordSetpoint(&core.Setpoint{}), ErrNotInitialized)
	_, err := b.Summary()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, b.Close())
}

func TestBackend_Summary(t *testing.T) {
	b := newJournal(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.StartRun(core.Run{ID: "run-1", StartTime: now, VehicleCount: 2, CameraVehicleID: 1}))

	transitions := []struct {
		vehicle  int
		from, to string
	}{
		{0, "", "Connecting"},
		{1, "", "Connecting"},
		{0, "Connecting", "Executing"},
		{1, "Connecting", "StartingOffboard"},
		{0, "Executing", "Done"},
		{1, "StartingOffboard", "Aborted"},
	}
	for _, tr := range transitions {
		require.NoError(t, b.RecordTransition(&core.StateTransition{VehicleID: tr.vehicle, Time: now, From: tr.from, To: tr.to}))
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, b.RecordSetpoint(&core.Setpoint{VehicleID: 0, Time: now, Elapsed: time.Duration(i) * 100 * time.Millisecond}))
	}
	require.NoError(t, b.RecordModeChange(&core.ModeChange{VehicleID: 0, Mode: core.ModeClimbing}))
	require.NoError(t, b.RecordModeChange(&core.ModeChange{VehicleID: 0, Mode: core.ModeLanding}))
	require.NoError(t, b.RecordYawCorrection(&core.YawCorrection{VehicleID: 0, Alpha: 0.2}))
	require.NoError(t, b.RecordTracking(&core.TrackingEvent{VehicleID: 1}))
	require.NoError(t, b.RecordVehicleError(&core.VehicleError{VehicleID: 1, Message: "stop failed", Fatal: false}))
	require.NoError(t, b.RecordVehicleError(&core.VehicleError{VehicleID: 1, Message: "offboard start failed", Fatal: true}))

	got, err := b.Summary()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, core.VehicleSummary{
		VehicleID:      0,
		FinalState:     "Done",
		Setpoints:      3,
		ModeChanges:    2,
		YawCorrections: 1,
		Elapsed:        200 * time.Millisecond,
	}, got[0])
	assert.Equal(t, core.VehicleSummary{
		VehicleID:  1,
		FinalState: "Aborted",
		Error:      "offboard start failed",
	}, got[1])

	n, err := b.EventCount("")
	require.NoError(t, err)
	assert.Equal(t, int64(15), n)
	n, err = b.EventCount(core.KindSetpoint)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBackend_EndRunStoresSummary(t *testing.T) {
	b := newJournal(t)
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, b.StartRun(core.Run{ID: "run-2", StartTime: start, VehicleCount: 1}))

	end := start.Add(time.Minute)
	require.NoError(t, b.EndRun(core.RunSummary{
		Run:      core.Run{ID: "run-2"},
		EndTime:  end,
		Vehicles: []core.VehicleSummary{{VehicleID: 0, FinalState: "Done"}},
	}))

	var rec RunRecord
	require.NoError(t, b.db.First(&rec, "id = ?", "run-2").Error)
	require.NotNil(t, rec.EndTime)
	assert.True(t, end.Equal(*rec.EndTime))
	assert.Contains(t, string(rec.Summary), `"finalState":"Done"`)
}

func TestBackend_SeparateDatabases(t *testing.T) {
	a := newJournal(t)
	b := newJournal(t)

	require.NoError(t, a.StartRun(core.Run{ID: "same"}))
	require.NoError(t, b.StartRun(core.Run{ID: "same"}), "each journal has its own database")
	require.NoError(t, a.RecordSetpoint(&core.Setpoint{VehicleID: 0}))

	n, err := b.EventCount("")
	require.NoError(t, err)
	assert.Zero(t, n)
}
