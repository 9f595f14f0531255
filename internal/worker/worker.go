// Package worker wires telemetry events from the dispatcher into the storage
// backend and the optional InfluxDB live export.
package worker

import (
	"time"

	"simbridge/internal/influx"
	"simbridge/internal/logging"
	"simbridge/internal/storage"
)

// Event names routed through the dispatcher.
const (
	// EventTrackSample carries a core.TrackSample from the world host.
	EventTrackSample = "track.sample"
	// EventRouteLog carries a core.RouteRecord (accepted, complete, canceled).
	EventRouteLog = "route.log"
	// EventSpeedLog carries a core.SpeedChange for an applied speed command.
	EventSpeedLog = "speed.log"
	// EventEventLog carries a core.EventRecord for protocol and link events.
	EventEventLog = "event.log"
)

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	SceneName  string
	LogManager *logging.SlogManager
	Influx     *influx.Manager // nil disables live export
}

// Manager fans recording events out to the storage backend and InfluxDB.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
}

// NewManager creates a new worker manager.
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	return &Manager{
		deps:    deps,
		backend: backend,
	}
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}

// PendingWritesProvider is an optional interface that backends can implement
// to expose how many records sit in their write queues.
type PendingWritesProvider interface {
	Pending() int
}

// PendingWrites returns the number of queued but unwritten records.
// Returns 0 if the backend writes synchronously.
func (m *Manager) PendingWrites() int {
	if p, ok := m.backend.(PendingWritesProvider); ok {
		return p.Pending()
	}
	return 0
}
