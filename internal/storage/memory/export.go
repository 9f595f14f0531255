// internal/storage/memory/export.go
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	v1 "simbridge/internal/storage/memory/export/v1"
)

// exportJSON writes the run data to a (optionally gzipped) JSON file.
// Callers must hold b.mu.
func (b *Backend) exportJSON() error {
	run := v1.Build(&v1.RunData{
		Info:         b.info,
		Duration:     b.duration,
		Tracks:       b.tracks,
		Routes:       b.routes,
		SpeedChanges: b.speedChanges,
		Events:       b.events,
	})

	// Build filename
	sceneName := strings.ReplaceAll(b.info.SceneName, " ", "_")
	sceneName = strings.ReplaceAll(sceneName, ":", "_")
	timestamp := b.info.StartedAt.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", sceneName, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", sceneName, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, run); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, run); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) writeJSON(path string, data v1.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data v1.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
