// internal/orchestrator/scenario.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"simbridge/internal/config"
	"simbridge/internal/geo"
	"simbridge/pkg/wire"
)

// Scenario drives the demo loop against a connected bridge: pick a target,
// send it the demo course, sample its position until the route completes,
// pick the next target. A rejected command aborts the leg with a logged
// error and the loop moves on.
type Scenario struct {
	cfg      config.OrchestratorConfig
	recorder *Recorder
	logger   *slog.Logger
	rng      *rand.Rand

	lastTarget string
}

// NewScenario builds a scenario driver. Zero config values fall back to the
// demo defaults.
func NewScenario(cfg config.OrchestratorConfig, recorder *Recorder, logger *slog.Logger) *Scenario {
	if cfg.PollRate <= 0 {
		cfg.PollRate = 5
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 2.0
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = []string{"CUBE_1", "CUBE_2", "CUBE_3"}
	}
	return &Scenario{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives legs until ctx is canceled or the bridge link goes away.
func (s *Scenario) Run(ctx context.Context, bus *Bus) {
	s.logger.Info("scenario started",
		"targets", s.cfg.Targets,
		"speed_mps", s.cfg.Speed,
		"poll_hz", s.cfg.PollRate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-bus.Done():
			return
		default:
		}

		target := s.pickTarget()
		if err := s.runLeg(ctx, bus, target); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("leg aborted", "target", target, "error", err)

			// Pause before the next attempt so a bridge that keeps
			// rejecting does not get hammered.
			select {
			case <-ctx.Done():
				return
			case <-bus.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// runLeg sends one route and polls the target until the bridge reports the
// route complete.
func (s *Scenario) runLeg(ctx context.Context, bus *Bus, target string) error {
	course := geo.DemoCourse()

	ack, err := bus.SendRoute(target, course, s.cfg.Speed)
	if err != nil {
		return fmt.Errorf("starting route: %w", err)
	}
	cmdID := ack.RefMsgID

	s.logger.Info("route started",
		"target", target, "waypoints", len(course), "cmd_id", cmdID)
	if err := s.recorder.RecordRouteEvent(target, RouteEventStart, &ack.TSim, cmdID); err != nil {
		s.logger.Warn("route log write failed", "error", err)
	}

	// Every few legs, retune the cruise speed mid-route.
	if s.rng.Intn(3) == 0 {
		s.adjustSpeed(bus, target)
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.PollRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-bus.Done():
			return ErrClosed
		case ev, ok := <-bus.Events().Receive():
			if !ok {
				return ErrClosed
			}
			if ev.Event == wire.EventRouteComplete && ev.TargetID == target {
				if err := s.recorder.RecordRouteEvent(target, RouteEventStop, &ev.TSim, cmdID); err != nil {
					s.logger.Warn("route log write failed", "error", err)
				}
				s.logger.Info("route complete", "target", target, "t_sim", ev.TSim)
				return nil
			}
			s.logger.Debug("ignoring event",
				"event", ev.Event, "target_id", ev.TargetID)
		case <-ticker.C:
			resp, err := bus.QueryPosition(target)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				s.logger.Warn("position poll failed", "target", target, "error", err)
				continue
			}
			if err := s.recorder.RecordPosition(target, &resp.TSim, *resp.Result); err != nil {
				s.logger.Warn("position log write failed", "error", err)
			}
		}
	}
}

// adjustSpeed nudges the cruise speed somewhere between 75% and 125% of the
// configured speed and records the applied command.
func (s *Scenario) adjustSpeed(bus *Bus, target string) {
	speed := s.cfg.Speed * (0.75 + s.rng.Float64()*0.5)

	ack, err := bus.SetSpeed(target, speed, nil, nil)
	if err != nil {
		s.logger.Warn("speed change rejected", "target", target, "error", err)
		return
	}
	if err := s.recorder.RecordSpeedCommand(target, ack.RefMsgID, speed, nil, nil); err != nil {
		s.logger.Warn("speed log write failed", "error", err)
	}
	s.logger.Info("cruise speed changed", "target", target, "speed_mps", speed)
}

// pickTarget draws a random target, never the same one twice in a row.
func (s *Scenario) pickTarget() string {
	candidates := make([]string, 0, len(s.cfg.Targets))
	for _, t := range s.cfg.Targets {
		if t != s.lastTarget {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		candidates = s.cfg.Targets
	}

	target := candidates[s.rng.Intn(len(candidates))]
	s.lastTarget = target
	return target
}
