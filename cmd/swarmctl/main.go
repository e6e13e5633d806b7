// Command swarmctl flies a staggered fleet of vehicles through their
// trajectories in offboard mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerofleet/swarmctl/internal/cache"
	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/internal/dispatcher"
	"github.com/aerofleet/swarmctl/internal/fleet"
	"github.com/aerofleet/swarmctl/internal/link/mavlink"
	"github.com/aerofleet/swarmctl/internal/logging"
	"github.com/aerofleet/swarmctl/internal/mission"
	"github.com/aerofleet/swarmctl/internal/monitor"
	intOtel "github.com/aerofleet/swarmctl/internal/otel"
	"github.com/aerofleet/swarmctl/internal/storage"
	"github.com/aerofleet/swarmctl/internal/vehicle"
	"github.com/aerofleet/swarmctl/internal/worker"
	"github.com/aerofleet/swarmctl/pkg/core"

	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ProgramName string = "swarmctl"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// MissionContext holds the current run metadata injected into every log record
	MissionContext = mission.NewContext()

	SessionStartTime time.Time = time.Now()
)

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config", ".", "directory containing swarmctl.cfg.json")
	vehicles := flag.Int("vehicles", 0, "number of vehicles (overrides fleet.vehicleCount)")
	camera := flag.Int("camera", -1, "camera vehicle id, -1 for none (overrides fleet.cameraVehicleID)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(ProgramName, CurrentVersion, BuildDate)
		return 0
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(*configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", *configDir)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vehicles":
			viper.Set("fleet.vehicleCount", *vehicles)
		case "camera":
			viper.Set("fleet.cameraVehicleID", *camera)
		}
	})

	fleetCfg := config.GetFleetConfig()
	if err := fleetCfg.Validate(); err != nil {
		Logger.Error("Invalid fleet configuration", "error", err)
		return 2
	}

	cameraID := -1
	if fleetCfg.HasCamera() {
		cameraID = fleetCfg.CameraVehicleID
	}
	runInfo := MissionContext.Start(fleetCfg.VehicleCount, cameraID, SessionStartTime)

	logsDir := viper.GetString("logsDir")
	logFile, logFilePath, err := logging.OpenLogFile(logsDir, ProgramName, SessionStartTime)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", logFilePath)
		// the monitor and run report also write here
		if !dirExists(logsDir) {
			return 1
		}
	} else {
		Logger.Info("Begin logging in logs directory", "path", logFilePath)
		defer logFile.Close()
	}

	level := viper.GetString("logLevel")
	closeLogging := setupLogging(logFile, logFilePath, level, runInfo)
	defer closeLogging()

	var fileOut io.Writer
	if logFile != nil {
		fileOut = logFile
	}
	processLog := logging.NewProcessLogger(os.Stderr, fileOut, level)
	trace := logging.NewTraceLogger(processLog)

	Logger.Info("Starting up...", "version", CurrentVersion, "build", BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := buildSinks(ctx, logsDir, processLog)
	Logger.Info("Run sinks ready", "sinks", sinks.Names())
	if err := sinks.StartRun(runInfo); err != nil {
		Logger.Warn("Failed to record run start", "error", err)
	}

	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		Logger.Error("Failed to create dispatcher", "error", err)
		return 1
	}
	workerManager := worker.NewManager(worker.Dependencies{Logger: Logger}, sinks)
	workerManager.RegisterHandlers(eventDispatcher)

	statuses := cache.NewSlots[vehicle.Status](fleetCfg.VehicleCount)
	monitorCfg := config.GetMonitorConfig()
	if monitorCfg.Enabled {
		monitorService := monitor.NewService(monitor.Dependencies{
			Statuses:       statuses,
			MissionContext: MissionContext,
			Logger:         Logger,
			OutputDir:      logsDir,
			Interval:       monitorCfg.Interval,
		})
		if err := monitorService.Start(); err != nil {
			Logger.Warn("Failed to start status monitor", "error", err)
		} else {
			defer monitorService.Stop()
		}
	}

	orchestrator, err := fleet.New(fleet.Options{
		Links:    mavlink.Factory(byte(fleetCfg.Link.SystemID), fleetCfg.Link.CommandTimeout, Logger),
		Events:   eventDispatcher,
		Logger:   Logger,
		Process:  processLog,
		Trace:    &trace,
		Statuses: statuses,
	})
	if err != nil {
		Logger.Error("Failed to create fleet orchestrator", "error", err)
		return 1
	}

	report, err := orchestrator.Run(ctx, fleetCfg)
	if err != nil {
		Logger.Error("Fleet run failed to start", "error", err)
		eventDispatcher.Close()
		closeSinks(sinks)
		return 1
	}

	// drain buffered events before the sinks see the end of the run
	eventDispatcher.Close()
	recorded, failed := workerManager.Stats()
	Logger.Info("Events recorded", "recorded", recorded, "failed", failed)

	summary := core.RunSummary{Run: runInfo, EndTime: time.Now(), Vehicles: report.Summaries()}
	if err := sinks.EndRun(summary); err != nil {
		Logger.Warn("Failed to record run end", "error", err)
	}
	logReport(report)
	logJournal(sinks)
	publishReport(logsDir, summary)
	closeSinks(sinks)

	if errors.Is(ctx.Err(), context.Canceled) {
		Logger.Warn("Run interrupted by signal")
	}
	return 0
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// setupLogging re-initializes slog with the log file, OTel and Graylog.
// The returned func flushes and releases them.
func setupLogging(logFile *os.File, logFilePath, level string, run core.Run) func() {
	var fileOut io.Writer
	if logFile != nil {
		fileOut = logFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(intOtel.FromSettings(otelCfg, fileOut, CurrentVersion, run))
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else if otelCfg.Endpoint != "" {
			Logger.Info("OTel provider initialized", "file", logFilePath, "endpoint", otelCfg.Endpoint)
		} else {
			Logger.Info("OTel provider initialized", "file", logFilePath)
		}
	}

	opts := []logging.Option{logging.WithContext(MissionContext.LogAttrs)}
	var closers []io.Closer
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.NewGraylogWriter(graylogCfg.Address)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", graylogCfg.Address)
		} else {
			opts = append(opts, logging.WithGraylog(w))
			closers = append(closers, w)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(fileOut, level, otelLogProvider, opts...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", logFilePath)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if OTelProvider != nil {
			if err := OTelProvider.Shutdown(ctx); err != nil {
				Logger.Warn("Failed to shut down OTel provider", "error", err)
			}
		}
		for _, c := range closers {
			c.Close()
		}
	}
}

func logReport(report fleet.Report) {
	for _, v := range report.Vehicles {
		attrs := []any{
			"vehicle", v.VehicleID,
			"state", v.State.String(),
			"setpoints", v.Setpoints,
			"modeChanges", v.ModeChanges,
			"yawCorrections", v.YawCorrections,
			"duration", v.Duration,
		}
		if v.HasHome {
			attrs = append(attrs, "homeNorthM", v.HomeNorthM, "homeEastM", v.HomeEastM)
		}
		if v.Err != nil {
			Logger.Error("Vehicle result", append(attrs, "error", v.Err)...)
			continue
		}
		Logger.Info("Vehicle result", attrs...)
	}
	Logger.Info("Fleet report",
		"done", report.Count(vehicle.Done),
		"aborted", report.Count(vehicle.Aborted),
		"failed", report.Count(vehicle.Failed),
		"bridges", report.BridgesStarted,
		"detectionsReceived", report.DetectionsReceived,
		"detectionsDropped", report.DetectionsDropped,
	)
}

func logJournal(s storage.Summarizer) {
	vehicles, err := s.Summary()
	if err != nil {
		Logger.Warn("Failed to read run journal", "error", err)
		return
	}
	for _, v := range vehicles {
		Logger.Info("Journal summary",
			"vehicle", v.VehicleID,
			"finalState", v.FinalState,
			"setpoints", v.Setpoints,
			"modeChanges", v.ModeChanges,
			"yawCorrections", v.YawCorrections,
			"elapsed", v.Elapsed,
		)
	}
}
