package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aerofleet/swarmctl/internal/api"
	"github.com/aerofleet/swarmctl/internal/config"
	"github.com/aerofleet/swarmctl/internal/influx"
	"github.com/aerofleet/swarmctl/internal/storage"
	sqlitestorage "github.com/aerofleet/swarmctl/internal/storage/sqlite"
	wsstorage "github.com/aerofleet/swarmctl/internal/storage/websocket"
	"github.com/aerofleet/swarmctl/pkg/core"
	"github.com/rs/zerolog"
)

// buildSinks initializes every enabled run sink. A sink that fails to
// initialize is logged and left out; the fleet flies regardless.
func buildSinks(ctx context.Context, logsDir string, processLog zerolog.Logger) *storage.Multi {
	sinks := storage.NewMulti()

	if config.GetJournalConfig().Enabled {
		journal := sqlitestorage.New(Logger)
		if err := journal.Init(); err != nil {
			Logger.Error("Failed to initialize run journal", "error", err)
		} else {
			sinks.Add("journal", journal)
		}
	}

	streamCfg := config.GetStreamConfig()
	if streamCfg.Enabled {
		client := api.New(streamCfg.HealthURL, streamCfg.Secret)
		if err := client.Healthcheck(ctx); err != nil {
			Logger.Warn("Ground station is offline, streaming disabled", "error", err)
		} else {
			wsURL := streamCfg.URL
			if wsURL == "" {
				wsURL = httpToWS(streamCfg.HealthURL) + "/api/v1/stream"
			}
			stream := wsstorage.New(wsstorage.Config{URL: wsURL, Secret: streamCfg.Secret, Logger: Logger})
			if err := stream.Init(); err != nil {
				Logger.Error("Failed to connect run stream", "error", err, "url", wsURL)
			} else {
				Logger.Info("Streaming run events", "url", wsURL)
				sinks.Add("stream", stream)
			}
		}
	}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := filepath.Join(logsDir,
			fmt.Sprintf("%s_influx_%s.lp.gz", ProgramName, SessionStartTime.Format("20060102_150405")))
		manager := influx.NewManager(influxCfg, processLog.With().Str("sink", "influx").Logger(), backupPath)
		if err := manager.Connect(ctx); err != nil {
			Logger.Error("Failed to initialize InfluxDB sink", "error", err)
		} else {
			sinks.Add("influx", manager)
		}
	}

	return sinks
}

func closeSinks(sinks *storage.Multi) {
	if err := sinks.Close(); err != nil {
		Logger.Warn("Failed to close run sinks", "error", err)
	}
}

// publishReport writes the end-of-run report next to the logs and uploads
// it to the ground station when streaming is configured.
func publishReport(logsDir string, summary core.RunSummary) {
	path, err := api.WriteReport(logsDir, summary)
	if err != nil {
		Logger.Error("Failed to write run report", "error", err)
		return
	}
	Logger.Info("Run report written", "path", path)

	streamCfg := config.GetStreamConfig()
	if !streamCfg.Enabled || !streamCfg.UploadReport {
		return
	}
	// the run context may already be cancelled by a signal
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	client := api.New(streamCfg.HealthURL, streamCfg.Secret)
	if err := client.Upload(ctx, path, api.Metadata(summary, streamCfg.Tag)); err != nil {
		Logger.Warn("Failed to upload run report", "error", err)
		return
	}
	Logger.Info("Run report uploaded", "url", streamCfg.HealthURL)
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
