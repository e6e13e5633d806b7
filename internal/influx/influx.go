package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/pkg/core"
)

// Measurement names written by the sink.
const (
	MeasurementSetpoint      = "setpoint"
	MeasurementYawCorrection = "yaw_correction"
	MeasurementModeChange    = "mode_change"
	MeasurementTransition    = "transition"
	MeasurementTracking      = "tracking"
	MeasurementVehicleError  = "vehicle_error"
)

// ErrDisabled is returned by Connect when the sink is switched off.
var ErrDisabled = errors.New("influxdb sink disabled")

// Manager handles InfluxDB connections and writes. It implements
// storage.Backend so it can sit next to the other run sinks.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Config       config.InfluxConfig
	Logger       zerolog.Logger
	BackupPath   string

	mu         sync.Mutex
	backupFile *os.File
	runID      string
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		IsValid:    false,
		Config:     cfg,
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Init connects; it satisfies storage.Backend.
func (m *Manager) Init() error {
	return m.Connect(context.Background())
}

// Connect establishes a connection to InfluxDB. An unreachable server is not
// an error: points are then written as gzipped line protocol to BackupPath.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.Config.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.Config.Protocol, m.Config.Host, m.Config.Port),
		m.Config.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.Config.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 30 day retention
	bucket := m.Config.Bucket
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err != nil {
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.Config.Org, m.Config.Bucket)

	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.Config.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if !strings.HasSuffix(lineProtocol, "\n") {
		lineProtocol += "\n"
	}
	if _, err := m.BackupWriter.Write([]byte(lineProtocol)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

func (m *Manager) newPoint(measurement string, vehicleID int, t time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(measurement).
		AddTag("vehicle", strconv.Itoa(vehicleID)).
		SetTime(t)
	m.mu.Lock()
	runID := m.runID
	m.mu.Unlock()
	if runID != "" {
		p.AddTag("run", runID)
	}
	return p
}

// StartRun tags subsequent points with the run id.
func (m *Manager) StartRun(run core.Run) error {
	m.mu.Lock()
	m.runID = run.ID
	m.mu.Unlock()
	return nil
}

// EndRun flushes the writer.
func (m *Manager) EndRun(core.RunSummary) error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	return nil
}

func (m *Manager) RecordSetpoint(e *core.Setpoint) error {
	p := m.newPoint(MeasurementSetpoint, e.VehicleID, e.Time).
		AddTag("mode", strconv.Itoa(int(e.Mode))).
		AddField("elapsed_s", e.Elapsed.Seconds()).
		AddField("north", e.Position.X).
		AddField("east", e.Position.Y).
		AddField("down", e.Position.Z).
		AddField("vn", e.Velocity.X).
		AddField("ve", e.Velocity.Y).
		AddField("vd", e.Velocity.Z).
		AddField("yaw", e.Yaw).
		AddField("corrected", e.Corrected)
	return m.WritePoint(p)
}

func (m *Manager) RecordYawCorrection(e *core.YawCorrection) error {
	p := m.newPoint(MeasurementYawCorrection, e.VehicleID, e.Time).
		AddField("base_yaw", e.BaseYaw).
		AddField("yaw", e.Yaw).
		AddField("deviation_px", e.DeviationPx).
		AddField("angle", e.Angle).
		AddField("alpha", e.Alpha)
	return m.WritePoint(p)
}

func (m *Manager) RecordModeChange(e *core.ModeChange) error {
	p := m.newPoint(MeasurementModeChange, e.VehicleID, e.Time).
		AddField("mode", int(e.Mode)).
		AddField("description", e.Description).
		AddField("elapsed_s", e.Elapsed.Seconds())
	return m.WritePoint(p)
}

func (m *Manager) RecordTransition(e *core.StateTransition) error {
	p := m.newPoint(MeasurementTransition, e.VehicleID, e.Time).
		AddField("from", e.From).
		AddField("to", e.To)
	return m.WritePoint(p)
}

func (m *Manager) RecordTracking(e *core.TrackingEvent) error {
	p := m.newPoint(MeasurementTracking, e.VehicleID, e.Time).
		AddField("pixel_x", e.PixelX).
		AddField("pixel_y", e.PixelY)
	return m.WritePoint(p)
}

func (m *Manager) RecordVehicleError(e *core.VehicleError) error {
	p := m.newPoint(MeasurementVehicleError, e.VehicleID, e.Time).
		AddTag("state", e.State).
		AddField("message", e.Message).
		AddField("fatal", e.Fatal)
	return m.WritePoint(p)
}
