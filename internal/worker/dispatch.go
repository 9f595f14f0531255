package worker

import (
	"fmt"

	"simbridge/internal/dispatcher"
	"simbridge/pkg/core"
)

// RegisterHandlers registers all recording handlers with the dispatcher.
// Track samples arrive at the full sample rate and ride a large buffer;
// the rest is low-rate protocol bookkeeping.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(EventTrackSample, m.handleTrackSample, dispatcher.Buffered(10000), dispatcher.Logged())
	d.Register(EventRouteLog, m.handleRouteLog, dispatcher.Buffered(500), dispatcher.Logged())
	d.Register(EventSpeedLog, m.handleSpeedLog, dispatcher.Buffered(500), dispatcher.Logged())
	d.Register(EventEventLog, m.handleEventLog, dispatcher.Buffered(1000), dispatcher.Logged())
}

func (m *Manager) handleTrackSample(e dispatcher.Event) (any, error) {
	s, ok := e.Payload.(core.TrackSample)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", EventTrackSample, e.Payload)
	}

	if err := m.backend.RecordTrack(&s); err != nil {
		return nil, fmt.Errorf("failed to record track sample: %w", err)
	}

	if m.deps.Influx != nil {
		if err := m.deps.Influx.WriteTrackSample(m.deps.SceneName, &s); err != nil {
			m.deps.LogManager.Logger().Debug("Influx track write failed", "error", err)
		}
	}

	return nil, nil
}

func (m *Manager) handleRouteLog(e dispatcher.Event) (any, error) {
	r, ok := e.Payload.(core.RouteRecord)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", EventRouteLog, e.Payload)
	}

	if err := m.backend.RecordRoute(&r); err != nil {
		return nil, fmt.Errorf("failed to record route: %w", err)
	}

	return nil, nil
}

func (m *Manager) handleSpeedLog(e dispatcher.Event) (any, error) {
	c, ok := e.Payload.(core.SpeedChange)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", EventSpeedLog, e.Payload)
	}

	if err := m.backend.RecordSpeedChange(&c); err != nil {
		return nil, fmt.Errorf("failed to record speed change: %w", err)
	}

	return nil, nil
}

func (m *Manager) handleEventLog(e dispatcher.Event) (any, error) {
	ev, ok := e.Payload.(core.EventRecord)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", EventEventLog, e.Payload)
	}

	if err := m.backend.RecordEvent(&ev); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	if m.deps.Influx != nil {
		if err := m.deps.Influx.WriteEvent(m.deps.SceneName, &ev); err != nil {
			m.deps.LogManager.Logger().Debug("Influx event write failed", "error", err)
		}
	}

	return nil, nil
}
