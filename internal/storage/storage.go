// internal/storage/storage.go
package storage

import "simbridge/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management (StartSession assigns ID to the passed pointer)
	StartSession(info *core.SessionInfo) error
	EndSession(durationSeconds float64) error

	// Telemetry recording
	RecordTrack(s *core.TrackSample) error
	RecordRoute(r *core.RouteRecord) error
	RecordSpeedChange(c *core.SpeedChange) error
	RecordEvent(e *core.EventRecord) error
}

// Uploadable is an optional interface for storage backends that produce
// a run artifact suitable for upload to the orchestrator.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.RunMetadata
}
