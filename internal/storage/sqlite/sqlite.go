// Package sqlitestorage implements the storage.Backend interface as a run
// journal kept in an in-memory SQLite database. Nothing is written to disk;
// the journal is discarded on Close once its summary has been read.
package sqlitestorage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// ErrNotInitialized is returned when the journal is used before Init.
var ErrNotInitialized = errors.New("journal not initialized")

// RunRecord is one fleet run.
type RunRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	StartTime       time.Time
	EndTime         *time.Time
	VehicleCount    int
	CameraVehicleID int
	Summary         datatypes.JSON
}

// EventRecord is one vehicle event of a run.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"size:36;index:idx_event_run_vehicle"`
	VehicleID int       `gorm:"index:idx_event_run_vehicle"`
	Kind      string    `gorm:"size:32;index"`
	Time      time.Time `gorm:"index"`
	Elapsed   int64
	Payload   datatypes.JSON
}

// Backend is the in-memory run journal.
type Backend struct {
	mu     sync.RWMutex
	db     *gorm.DB
	runID  string
	logger *slog.Logger
}

// New creates a journal. Init opens the database.
func New(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{logger: log.With("sink", "journal")}
}

// Init opens the in-memory database and migrates the schema.
func (b *Backend) Init() error {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open in-memory SQLite DB: %w", err)
	}

	// every connection to ":memory:" is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(&RunRecord{}, &EventRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.mu.Lock()
	b.db = db
	b.mu.Unlock()
	b.logger.Debug("Run journal ready")
	return nil
}

// Close discards the journal.
func (b *Backend) Close() error {
	b.mu.Lock()
	db := b.db
	b.db = nil
	b.mu.Unlock()

	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) handle() (*gorm.DB, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, "", ErrNotInitialized
	}
	return b.db, b.runID, nil
}

// StartRun records the run and tags subsequent events with its id.
func (b *Backend) StartRun(run core.Run) error {
	db, _, err := b.handle()
	if err != nil {
		return err
	}
	rec := RunRecord{
		ID:              run.ID,
		StartTime:       run.StartTime,
		VehicleCount:    run.VehicleCount,
		CameraVehicleID: run.CameraVehicleID,
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	b.mu.Lock()
	b.runID = run.ID
	b.mu.Unlock()
	return nil
}

// EndRun stores the final summary on the run record.
func (b *Backend) EndRun(summary core.RunSummary) error {
	db, runID, err := b.handle()
	if err != nil {
		return err
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	end := summary.EndTime
	return db.Model(&RunRecord{ID: runID}).Updates(map[string]any{
		"end_time": &end,
		"summary":  datatypes.JSON(data),
	}).Error
}

func (b *Backend) record(kind string, vehicleID int, t time.Time, elapsed time.Duration, payload any) error {
	db, runID, err := b.handle()
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	rec := EventRecord{
		RunID:     runID,
		VehicleID: vehicleID,
		Kind:      kind,
		Time:      t,
		Elapsed:   int64(elapsed),
		Payload:   datatypes.JSON(data),
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record %s: %w", kind, err)
	}
	return nil
}

func (b *Backend) RecordTransition(e *core.StateTransition) error {
	return b.record(core.KindTransition, e.VehicleID, e.Time, 0, e)
}

func (b *Backend) RecordModeChange(e *core.ModeChange) error {
	return b.record(core.KindModeChange, e.VehicleID, e.Time, e.Elapsed, e)
}

func (b *Backend) RecordYawCorrection(e *core.YawCorrection) error {
	return b.record(core.KindYawCorrection, e.VehicleID, e.Time, 0, e)
}

func (b *Backend) RecordSetpoint(e *core.Setpoint) error {
	return b.record(core.KindSetpoint, e.VehicleID, e.Time, e.Elapsed, e)
}

func (b *Backend) RecordTracking(e *core.TrackingEvent) error {
	return b.record(core.KindTracking, e.VehicleID, e.Time, 0, e)
}

func (b *Backend) RecordVehicleError(e *core.VehicleError) error {
	return b.record(core.KindVehicleError, e.VehicleID, e.Time, 0, e)
}

type kindCount struct {
	VehicleID int
	Kind      string
	N         int
	Elapsed   int64
}

// Summary aggregates the current run's events per vehicle: counts of
// setpoints, mode changes and yaw corrections, the furthest trajectory time
// reached, the last state entered and the last fatal error.
func (b *Backend) Summary() ([]core.VehicleSummary, error) {
	db, runID, err := b.handle()
	if err != nil {
		return nil, err
	}

	var counts []kindCount
	err = db.Model(&EventRecord{}).
		Select("vehicle_id, kind, count(*) as n, max(elapsed) as elapsed").
		Where("run_id = ?", runID).
		Group("vehicle_id, kind").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	byVehicle := make(map[int]*core.VehicleSummary)
	get := func(id int) *core.VehicleSummary {
		s, ok := byVehicle[id]
		if !ok {
			s = &core.VehicleSummary{VehicleID: id}
			byVehicle[id] = s
		}
		return s
	}

	for _, c := range counts {
		s := get(c.VehicleID)
		switch c.Kind {
		case core.KindSetpoint:
			s.Setpoints = c.N
			s.Elapsed = time.Duration(c.Elapsed)
		case core.KindModeChange:
			s.ModeChanges = c.N
		case core.KindYawCorrection:
			s.YawCorrections = c.N
		}
	}

	var tail []EventRecord
	err = db.Where("run_id = ? AND kind IN ?", runID, []string{core.KindTransition, core.KindVehicleError}).
		Order("id").
		Find(&tail).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions: %w", err)
	}

	for _, rec := range tail {
		s := get(rec.VehicleID)
		switch rec.Kind {
		case core.KindTransition:
			var tr core.StateTransition
			if err := json.Unmarshal(rec.Payload, &tr); err != nil {
				return nil, fmt.Errorf("failed to decode transition %d: %w", rec.ID, err)
			}
			s.FinalState = tr.To
		case core.KindVehicleError:
			var ve core.VehicleError
			if err := json.Unmarshal(rec.Payload, &ve); err != nil {
				return nil, fmt.Errorf("failed to decode vehicle error %d: %w", rec.ID, err)
			}
			if ve.Fatal {
				s.Error = ve.Message
			}
		}
	}

	out := make([]core.VehicleSummary, 0, len(byVehicle))
	for _, s := range byVehicle {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out, nil
}

// EventCount returns the number of journaled events of a kind, or of all
// kinds when kind is empty.
func (b *Backend) EventCount(kind string) (int64, error) {
	db, runID, err := b.handle()
	if err != nil {
		return 0, err
	}
	q := db.Model(&EventRecord{}).Where("run_id = ?", runID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var n int64
	err = q.Count(&n).Error
	return n, err
}
