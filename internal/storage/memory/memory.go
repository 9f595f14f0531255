// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"simbridge/internal/config"
	"simbridge/pkg/core"
)

// Backend stores run data in memory and exports it to a JSON file when the
// session ends
type Backend struct {
	cfg  config.MemoryConfig
	info core.SessionInfo

	tracks map[string][]core.TrackSample // keyed by target ID

	routes       []core.RouteRecord
	speedChanges []core.SpeedChange
	events       []core.EventRecord

	duration       float64
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		tracks: make(map[string][]core.TrackSample),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartSession begins recording a new run
func (b *Backend) StartSession(info *core.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.info = *info

	// Reset all collections
	b.tracks = make(map[string][]core.TrackSample)
	b.routes = nil
	b.speedChanges = nil
	b.events = nil
	b.duration = 0
	b.lastExportPath = ""

	return nil
}

// EndSession finalizes and exports the run data
func (b *Backend) EndSession(durationSeconds float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.duration = durationSeconds
	return b.exportJSON()
}

// RecordTrack appends a sample to its target's series. Targets are created
// on their first sample.
func (b *Backend) RecordTrack(s *core.TrackSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracks[s.TargetID] = append(b.tracks[s.TargetID], *s)
	return nil
}

// RecordRoute records a route lifecycle entry
func (b *Backend) RecordRoute(r *core.RouteRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, *r)
	return nil
}

// RecordSpeedChange records an applied cruise-speed command
func (b *Backend) RecordSpeedChange(c *core.SpeedChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speedChanges = append(b.speedChanges, *c)
	return nil
}

// RecordEvent records a protocol event
func (b *Backend) RecordEvent(e *core.EventRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *e)
	return nil
}

// GetExportedFilePath returns the last written export file, or "" if the
// session has not exported yet
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata describes the exported run for upload
func (b *Backend) GetExportMetadata() core.RunMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return core.RunMetadata{
		SceneName: b.info.SceneName,
		StartedAt: b.info.StartedAt,
		Duration:  b.duration,
		Tag:       b.info.Tag,
	}
}
