package api

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aerofleet/swarmctl/pkg/core"
)

// WriteReport writes summary as gzipped JSON to dir and returns the file path.
func WriteReport(dir string, summary core.RunSummary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%s.json.gz", summary.Run.ID))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(summary); err != nil {
		gz.Close()
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}
	return path, nil
}

// Metadata derives the upload fields for summary.
func Metadata(summary core.RunSummary, tag string) UploadMetadata {
	meta := UploadMetadata{
		RunID:        summary.Run.ID,
		VehicleCount: summary.Run.VehicleCount,
		RunDuration:  summary.EndTime.Sub(summary.Run.StartTime).Seconds(),
		Tag:          tag,
	}
	for _, v := range summary.Vehicles {
		switch v.FinalState {
		case "Done":
			meta.Done++
		case "Aborted":
			meta.Aborted++
		case "Failed":
			meta.Failed++
		}
	}
	return meta
}
