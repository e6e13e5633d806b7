package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidFleet marks a fleet configuration that cannot be run.
var ErrInvalidFleet = errors.New("invalid fleet configuration")

const maxPort = 65535

// LinkConfig holds control-link endpoint settings.
type LinkConfig struct {
	ListenHost     string
	SourceBasePort int
	LinkBasePort   int
	SystemID       int
	ConnectTimeout time.Duration
	HealthTimeout  time.Duration
	LandedTimeout  time.Duration
	CommandTimeout time.Duration
}

// BridgeConfig holds settings for the per-vehicle link bridge processes.
type BridgeConfig struct {
	Enabled     bool
	Command     string
	Args        []string
	StopTimeout time.Duration
}

// DetectionConfig holds the detection feed listener settings.
type DetectionConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
}

// CameraConfig describes the camera mounted on the camera vehicle.
type CameraConfig struct {
	ImageWidth    int
	HorizontalFOV float64
}

// ControlConfig holds control loop timing.
type ControlConfig struct {
	TickInterval   time.Duration
	CleanupTimeout time.Duration
}

// FleetConfig is the read-only description of one fleet run.
type FleetConfig struct {
	VehicleCount    int
	TimeOffset      time.Duration
	AltitudeStep    float64
	OffsetX         float64
	OffsetY         float64
	OffsetZ         float64
	CameraVehicleID int
	TrajectoryA     string
	TrajectoryB     string

	Link      LinkConfig
	Bridge    BridgeConfig
	Detection DetectionConfig
	Camera    CameraConfig
	Control   ControlConfig
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds InfluxDB sink settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// StreamConfig holds ground-station websocket settings.
type StreamConfig struct {
	Enabled      bool
	URL          string
	Secret       string
	HealthURL    string
	UploadReport bool
	Tag          string
}

// JournalConfig holds the in-memory run journal settings.
type JournalConfig struct {
	Enabled bool
}

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// GraylogConfig holds GELF logging settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A .env file in the
// working directory is applied to the environment first when present.
func Load(configDir string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("fleet.vehicleCount", 3)
	viper.SetDefault("fleet.timeOffset", "1s")
	viper.SetDefault("fleet.altitudeStep", 0.5)
	viper.SetDefault("fleet.offset.x", 0.0)
	viper.SetDefault("fleet.offset.y", 0.0)
	viper.SetDefault("fleet.offset.z", 0.0)
	viper.SetDefault("fleet.cameraVehicleID", 2)
	viper.SetDefault("fleet.trajectoryA", "shapes/active.csv")
	viper.SetDefault("fleet.trajectoryB", "shapes/active2.csv")

	viper.SetDefault("link.listenHost", "0.0.0.0")
	viper.SetDefault("link.sourceBasePort", 14540)
	viper.SetDefault("link.linkBasePort", 14640)
	viper.SetDefault("link.systemID", 255)
	viper.SetDefault("link.connectTimeout", "60s")
	viper.SetDefault("link.healthTimeout", "120s")
	viper.SetDefault("link.landedTimeout", "120s")
	viper.SetDefault("link.commandTimeout", "5s")

	viper.SetDefault("control.tickInterval", "100ms")
	viper.SetDefault("control.cleanupTimeout", "60s")

	viper.SetDefault("camera.imageWidth", 640)
	viper.SetDefault("camera.horizontalFOV", 87.0)

	viper.SetDefault("detection.listenAddress", "127.0.0.1:9999")
	viper.SetDefault("detection.readTimeout", "50ms")

	viper.SetDefault("bridge.enabled", true)
	viper.SetDefault("bridge.command", "mavlink-routerd")
	viper.SetDefault("bridge.args", []string{"-e", "127.0.0.1:{{.LinkPort}}", "0.0.0.0:{{.SourcePort}}"})
	viper.SetDefault("bridge.stopTimeout", "5s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "swarmctl")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "swarmctl")
	viper.SetDefault("influx.bucket", "fleet")

	viper.SetDefault("stream.enabled", false)
	viper.SetDefault("stream.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("stream.secret", "")
	viper.SetDefault("stream.healthUrl", "http://localhost:5000")
	viper.SetDefault("stream.uploadReport", true)
	viper.SetDefault("stream.tag", "")

	viper.SetDefault("journal.enabled", true)

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")

	viper.SetEnvPrefix("SWARMCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("swarmctl.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetLinkConfig returns the control-link settings.
func GetLinkConfig() LinkConfig {
	return LinkConfig{
		ListenHost:     viper.GetString("link.listenHost"),
		SourceBasePort: viper.GetInt("link.sourceBasePort"),
		LinkBasePort:   viper.GetInt("link.linkBasePort"),
		SystemID:       viper.GetInt("link.systemID"),
		ConnectTimeout: viper.GetDuration("link.connectTimeout"),
		HealthTimeout:  viper.GetDuration("link.healthTimeout"),
		LandedTimeout:  viper.GetDuration("link.landedTimeout"),
		CommandTimeout: viper.GetDuration("link.commandTimeout"),
	}
}

// GetBridgeConfig returns the bridge process settings.
func GetBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Enabled:     viper.GetBool("bridge.enabled"),
		Command:     viper.GetString("bridge.command"),
		Args:        viper.GetStringSlice("bridge.args"),
		StopTimeout: viper.GetDuration("bridge.stopTimeout"),
	}
}

// GetDetectionConfig returns the detection listener settings.
func GetDetectionConfig() DetectionConfig {
	return DetectionConfig{
		ListenAddress: viper.GetString("detection.listenAddress"),
		ReadTimeout:   viper.GetDuration("detection.readTimeout"),
	}
}

// GetCameraConfig returns the camera geometry.
func GetCameraConfig() CameraConfig {
	return CameraConfig{
		ImageWidth:    viper.GetInt("camera.imageWidth"),
		HorizontalFOV: viper.GetFloat64("camera.horizontalFOV"),
	}
}

// GetControlConfig returns control loop timing.
func GetControlConfig() ControlConfig {
	return ControlConfig{
		TickInterval:   viper.GetDuration("control.tickInterval"),
		CleanupTimeout: viper.GetDuration("control.cleanupTimeout"),
	}
}

// GetFleetConfig assembles the full fleet configuration. It is not validated.
func GetFleetConfig() FleetConfig {
	return FleetConfig{
		VehicleCount:    viper.GetInt("fleet.vehicleCount"),
		TimeOffset:      viper.GetDuration("fleet.timeOffset"),
		AltitudeStep:    viper.GetFloat64("fleet.altitudeStep"),
		OffsetX:         viper.GetFloat64("fleet.offset.x"),
		OffsetY:         viper.GetFloat64("fleet.offset.y"),
		OffsetZ:         viper.GetFloat64("fleet.offset.z"),
		CameraVehicleID: viper.GetInt("fleet.cameraVehicleID"),
		TrajectoryA:     viper.GetString("fleet.trajectoryA"),
		TrajectoryB:     viper.GetString("fleet.trajectoryB"),
		Link:            GetLinkConfig(),
		Bridge:          GetBridgeConfig(),
		Detection:       GetDetectionConfig(),
		Camera:          GetCameraConfig(),
		Control:         GetControlConfig(),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns InfluxDB sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetStreamConfig returns ground-station websocket settings.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      viper.GetBool("stream.enabled"),
		URL:          viper.GetString("stream.url"),
		Secret:       viper.GetString("stream.secret"),
		HealthURL:    viper.GetString("stream.healthUrl"),
		UploadReport: viper.GetBool("stream.uploadReport"),
		Tag:          viper.GetString("stream.tag"),
	}
}

// GetJournalConfig returns run journal settings.
func GetJournalConfig() JournalConfig {
	return JournalConfig{Enabled: viper.GetBool("journal.enabled")}
}

// GetMonitorConfig returns status monitor settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}

// GetGraylogConfig returns GELF logging settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// SourcePort is the port vehicle id's autopilot publishes on.
func (c FleetConfig) SourcePort(id int) int {
	return c.Link.SourceBasePort + id
}

// LinkPort is the port the controller listens on for vehicle id. Without a
// bridge the controller binds the source port directly.
func (c FleetConfig) LinkPort(id int) int {
	if !c.Bridge.Enabled {
		return c.SourcePort(id)
	}
	return c.Link.LinkBasePort + id
}

// HasCamera reports whether the camera vehicle is part of the fleet.
func (c FleetConfig) HasCamera() bool {
	return c.CameraVehicleID >= 0 && c.CameraVehicleID < c.VehicleCount
}

// Validate checks the settings a run cannot start without.
func (c FleetConfig) Validate() error {
	if c.VehicleCount < 1 {
		return fmt.Errorf("%w: vehicle count %d", ErrInvalidFleet, c.VehicleCount)
	}
	if c.TimeOffset < 0 {
		return fmt.Errorf("%w: negative time offset %s", ErrInvalidFleet, c.TimeOffset)
	}
	if c.AltitudeStep < 0 {
		return fmt.Errorf("%w: negative altitude step %v", ErrInvalidFleet, c.AltitudeStep)
	}
	if c.CameraVehicleID < -1 {
		return fmt.Errorf("%w: camera vehicle id %d", ErrInvalidFleet, c.CameraVehicleID)
	}
	if c.TrajectoryA == "" {
		return fmt.Errorf("%w: trajectory A not set", ErrInvalidFleet)
	}
	if c.VehicleCount > 1 && c.TrajectoryB == "" {
		return fmt.Errorf("%w: trajectory B not set", ErrInvalidFleet)
	}
	if c.Control.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval %s", ErrInvalidFleet, c.Control.TickInterval)
	}

	last := c.VehicleCount - 1
	if c.Link.SourceBasePort < 1 || c.SourcePort(last) > maxPort {
		return fmt.Errorf("%w: source ports %d-%d out of range", ErrInvalidFleet, c.SourcePort(0), c.SourcePort(last))
	}
	if c.Bridge.Enabled {
		if c.Bridge.Command == "" {
			return fmt.Errorf("%w: bridge command not set", ErrInvalidFleet)
		}
		if c.Link.LinkBasePort < 1 || c.LinkPort(last) > maxPort {
			return fmt.Errorf("%w: link ports %d-%d out of range", ErrInvalidFleet, c.LinkPort(0), c.LinkPort(last))
		}
		if c.LinkPort(0) <= c.SourcePort(last) && c.SourcePort(0) <= c.LinkPort(last) {
			return fmt.Errorf("%w: link ports overlap source ports", ErrInvalidFleet)
		}
	}
	return nil
}
