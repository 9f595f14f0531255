package world

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"simbridge/internal/dispatcher"
	"simbridge/internal/motion"
	"simbridge/internal/registry"
	"simbridge/internal/worker"
	"simbridge/pkg/core"
)

// Dependencies holds what the host needs injected.
type Dependencies struct {
	Clock      *Clock
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
}

// Host drives the simulation at a fixed tick rate: each tick advances the
// clock by dt and ticks every engine once. At the sample rate it pushes a
// track sample per movable object into the telemetry pipeline. The tick
// path never touches network or disk; all I/O sits behind the dispatcher's
// buffered handlers.
type Host struct {
	deps        Dependencies
	tickRate    int
	sampleEvery uint64
	movable     []*registry.Entry

	ticks atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHost creates a host ticking at tickRateHz and sampling telemetry at
// sampleRateHz. Rates at or below zero fall back to 30 and 5 Hz.
func NewHost(deps Dependencies, tickRateHz, sampleRateHz int) *Host {
	if tickRateHz <= 0 {
		tickRateHz = 30
	}
	if sampleRateHz <= 0 {
		sampleRateHz = 5
	}
	sampleEvery := tickRateHz / sampleRateHz
	if sampleEvery < 1 {
		sampleEvery = 1
	}

	return &Host{
		deps:        deps,
		tickRate:    tickRateHz,
		sampleEvery: uint64(sampleEvery),
		movable:     deps.Registry.Movable(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the tick loop.
func (h *Host) Start() {
	go h.run()
}

// Stop halts the tick loop and waits for it to drain.
func (h *Host) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Ticks returns how many ticks have run.
func (h *Host) Ticks() uint64 {
	return h.ticks.Load()
}

func (h *Host) run() {
	defer close(h.done)

	interval := time.Duration(float64(time.Second) / float64(h.tickRate))
	dt := interval.Seconds()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.deps.Logger.Info("world host started",
		"tick_rate_hz", h.tickRate,
		"sample_every_ticks", h.sampleEvery,
		"movable_objects", len(h.movable),
	)

	for {
		select {
		case <-h.stop:
			h.deps.Logger.Info("world host stopped", "ticks", h.Ticks(), "t_sim", h.deps.Clock.Now())
			return
		case <-ticker.C:
			h.Step(dt)
		}
	}
}

// Step advances the world by one tick of dt seconds. Exposed so tests can
// drive the simulation deterministically without the wall-clock loop.
func (h *Host) Step(dt float64) {
	h.deps.Clock.Advance(dt)

	for _, e := range h.movable {
		e.Engine.Tick(dt)
	}

	if n := h.ticks.Add(1); n%h.sampleEvery == 0 {
		h.sample()
	}
}

func (h *Host) sample() {
	tSim := h.deps.Clock.Now()
	now := time.Now()

	for _, e := range h.movable {
		st := e.Engine.Status()
		s := core.TrackSample{
			TargetID:      e.Object.ID,
			TSim:          tSim,
			Position:      st.Pose.Position,
			Speed:         st.Speed,
			WaypointIndex: st.WaypointIndex,
			RouteActive:   st.State == motion.Following,
		}

		_, err := h.deps.Dispatcher.Dispatch(dispatcher.Event{
			Name:     worker.EventTrackSample,
			Payload:  s,
			Received: now,
		})
		if err != nil {
			// Queue pressure drops samples, never blocks the tick.
			h.deps.Logger.Debug("track sample dropped", "target", s.TargetID, "error", err)
		}
	}
}
