// Package monitor periodically reports the bridge's moving parts: link
// state, dispatcher queue depths, tick counter, simulated time and storage
// write health. Each report goes to the log and, when live export is
// enabled, to InfluxDB as a health point.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"simbridge/internal/dispatcher"
	"simbridge/internal/influx"
	"simbridge/internal/logging"
	"simbridge/internal/worker"
)

const defaultInterval = 10 * time.Second

// Link reports connection state.
type Link interface {
	Connected() bool
}

// TickCounter reports how many simulation ticks have run.
type TickCounter interface {
	Ticks() uint64
}

// Clock reads the simulated time.
type Clock interface {
	Now() float64
}

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Link       Link
	Host       TickCounter
	Clock      Clock
	Dispatcher *dispatcher.Dispatcher
	Worker     *worker.Manager
	Influx     *influx.Manager // nil disables the health export
	SceneName  string
	LogManager *logging.SlogManager
	Interval   time.Duration
}

// Status is one snapshot of the bridge's runtime state.
type Status struct {
	LinkUp        bool
	Ticks         uint64
	TSim          float64
	QueueDepths   map[string]int
	PendingWrites int
	LastWriteMs   float64
}

// Service manages status monitoring.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot collects the current runtime state.
func (s *Service) Snapshot() Status {
	return Status{
		LinkUp:        s.deps.Link.Connected(),
		Ticks:         s.deps.Host.Ticks(),
		TSim:          s.deps.Clock.Now(),
		QueueDepths:   s.deps.Dispatcher.QueueDepths(),
		PendingWrites: s.deps.Worker.PendingWrites(),
		LastWriteMs:   float64(s.deps.Worker.GetLastDBWriteDuration().Milliseconds()),
	}
}

// Start starts the status monitor goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.LogManager.Logger()
		logger.Debug("status monitor started", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.report(logger)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}

func (s *Service) report(logger *slog.Logger) {
	st := s.Snapshot()

	logger.Info("bridge status",
		"link_up", st.LinkUp,
		"ticks", st.Ticks,
		"t_sim", st.TSim,
		"queues", st.QueueDepths,
		"pending_writes", st.PendingWrites,
		"last_write_ms", st.LastWriteMs,
	)

	if s.deps.Influx != nil {
		s.deps.Influx.WriteHealth(s.deps.SceneName, healthFields(st))
	}
}

// healthFields flattens a status snapshot into InfluxDB point fields. Queue
// depths become one field per queue so they can be graphed independently.
func healthFields(st Status) map[string]any {
	fields := map[string]any{
		"link_up":        st.LinkUp,
		"ticks":          int64(st.Ticks),
		"t_sim":          st.TSim,
		"pending_writes": st.PendingWrites,
		"last_write_ms":  st.LastWriteMs,
	}
	for name, depth := range st.QueueDepths {
		fields[fmt.Sprintf("queue_%s", name)] = depth
	}
	return fields
}
