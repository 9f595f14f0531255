// Package protocol implements the bridge's side of the duplex link: inbound
// frames are decoded type tag first, queries are answered from the registry,
// commands drive motion engines, and route completions go back out as
// unsolicited events. Replies always travel through the connection's send
// path, never a return value, because completions are produced
// asynchronously from the world tick.
package protocol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"simbridge/internal/dispatcher"
	"simbridge/internal/geo"
	"simbridge/internal/registry"
	"simbridge/internal/worker"
	"simbridge/pkg/core"
	"simbridge/pkg/wire"
)

// EventLinkFrame carries one raw inbound frame from the link.
const EventLinkFrame = "link.frame"

// Clock provides the simulated time stamped onto replies and records.
type Clock interface {
	Now() float64
}

// Sender puts an encoded frame on the link. Send must be safe for concurrent
// use and may drop frames while the link is down.
type Sender interface {
	Send(frame []byte)
}

// Dependencies holds the service's injected collaborators.
type Dependencies struct {
	Registry   *registry.Registry
	Clock      Clock
	Sender     Sender
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
}

// Service handles the link protocol. It is stateless except for the active
// route bookkeeping that correlates completions back to command msg_ids.
type Service struct {
	deps Dependencies

	mu           sync.Mutex
	activeRoutes map[string]string // target id -> msg_id of the accepted route
}

// New creates the protocol service.
func New(deps Dependencies) *Service {
	return &Service{
		deps:         deps,
		activeRoutes: make(map[string]string),
	}
}

// RegisterHandlers registers the inbound frame handler. Frames ride a
// blocking buffer so per-connection arrival order is preserved and nothing
// is dropped under load.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(EventLinkFrame, s.handleLinkFrame, dispatcher.Buffered(1024), dispatcher.Blocking(), dispatcher.Logged())
}

func (s *Service) handleLinkFrame(e dispatcher.Event) (any, error) {
	raw, ok := e.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected payload type %T", EventLinkFrame, e.Payload)
	}
	s.HandleFrame(raw)
	return nil, nil
}

// HandleFrame decodes one inbound frame and acts on it. Malformed frames and
// unknown names are dropped with a debug log, never a reply.
func (s *Service) HandleFrame(raw []byte) {
	typ, err := wire.DecodeType(raw)
	if err != nil {
		s.deps.Logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch typ {
	case wire.TypeQuery:
		q, err := wire.DecodeQuery(raw)
		if err != nil {
			s.deps.Logger.Debug("dropping malformed query", "error", err)
			return
		}
		s.handleQuery(q)
	case wire.TypeCommand:
		c, err := wire.DecodeCommand(raw)
		if err != nil {
			s.deps.Logger.Debug("dropping malformed command", "error", err)
			return
		}
		s.handleCommand(c)
	default:
		s.deps.Logger.Debug("ignoring frame of unknown type", "type", typ)
	}
}

func (s *Service) handleQuery(q wire.Query) {
	if q.Query != wire.QueryGetPosition {
		s.deps.Logger.Debug("ignoring unknown query", "query", q.Query)
		return
	}

	tSim := s.deps.Clock.Now()

	entry, ok := s.deps.Registry.Lookup(q.TargetID)
	if !ok {
		s.send(wire.NewErrorResponse(q, wire.ErrNotFound, tSim))
		return
	}
	s.send(wire.NewPositionResponse(q, entry.Position(), tSim))
}

func (s *Service) handleCommand(c wire.Command) {
	switch c.Command {
	case wire.CommandSpeedSet:
		s.handleSpeedSet(c)
	case wire.CommandSetRoute:
		s.handleSetRoute(c)
	default:
		s.deps.Logger.Debug("ignoring unknown command", "command", c.Command)
	}
}

func (s *Service) handleSpeedSet(c wire.Command) {
	tSim := s.deps.Clock.Now()

	eng, ok := s.deps.Registry.Engine(c.TargetID)
	if !ok {
		s.reject(c, wire.DetailInvalidTarget, tSim)
		return
	}

	// An absent speed keeps the engine's current target; accel overrides
	// apply independently.
	speed := eng.Status().TargetSpeed
	if c.Args.Speed != nil {
		speed = *c.Args.Speed
	}
	eng.SetTargetSpeed(speed, c.Args.AccelUp, c.Args.AccelDown)

	s.record(worker.EventSpeedLog, core.SpeedChange{
		TargetID:  c.TargetID,
		MsgID:     c.MsgID,
		Speed:     c.Args.Speed,
		AccelUp:   c.Args.AccelUp,
		AccelDown: c.Args.AccelDown,
		TSim:      tSim,
	})

	s.deps.Logger.Info("speed command applied", "target", c.TargetID, "speed_mps", speed)
	s.send(wire.NewCommandAck(c, tSim))
}

func (s *Service) handleSetRoute(c wire.Command) {
	tSim := s.deps.Clock.Now()

	eng, ok := s.deps.Registry.Engine(c.TargetID)
	if !ok || len(c.Args.Waypoints) == 0 {
		s.reject(c, wire.DetailInvalidTargetOrWaypoints, tSim)
		return
	}

	// Replacing an active route cancels it; the canceled route keeps its
	// own record row under the original msg_id.
	if prev := s.swapActiveRoute(c.TargetID, c.MsgID); prev != "" {
		s.record(worker.EventRouteLog, core.RouteRecord{
			TargetID: c.TargetID,
			MsgID:    prev,
			TSim:     tSim,
			Status:   core.RouteStatusCanceled,
		})
	}

	eng.StartRoute(c.Args.Waypoints, c.Args.Speed)

	length := geo.PathLength(c.Args.Waypoints)
	s.record(worker.EventRouteLog, core.RouteRecord{
		TargetID:  c.TargetID,
		MsgID:     c.MsgID,
		Waypoints: c.Args.Waypoints,
		Speed:     c.Args.Speed,
		Length:    length,
		TSim:      tSim,
		Status:    core.RouteStatusAccepted,
	})

	s.deps.Logger.Info("route accepted",
		"target", c.TargetID,
		"waypoints", len(c.Args.Waypoints),
		"length_m", length,
		"ground_track", geo.GroundTrack(c.Args.Waypoints),
	)
	s.send(wire.NewCommandAck(c, tSim))
}

// EmitRouteComplete sends the route.complete event for targetID and records
// the completion. Wire it to every engine's completion observer; it runs
// synchronously from the completing tick.
func (s *Service) EmitRouteComplete(targetID string) {
	tSim := s.deps.Clock.Now()
	msgID := s.takeActiveRoute(targetID)

	s.send(wire.NewRouteComplete(targetID, tSim))

	s.record(worker.EventRouteLog, core.RouteRecord{
		TargetID: targetID,
		MsgID:    msgID,
		TSim:     tSim,
		Status:   core.RouteStatusComplete,
	})
	s.record(worker.EventEventLog, core.EventRecord{
		Name:     wire.EventRouteComplete,
		TargetID: targetID,
		RefMsgID: msgID,
		TSim:     tSim,
		Time:     time.Now(),
	})

	s.deps.Logger.Info("route complete", "target", targetID, "t_sim", tSim)
}

// swapActiveRoute installs msgID as targetID's active route and returns the
// msg_id of the route it replaced, if any.
func (s *Service) swapActiveRoute(targetID, msgID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.activeRoutes[targetID]
	s.activeRoutes[targetID] = msgID
	return prev
}

// takeActiveRoute removes and returns targetID's active route msg_id.
func (s *Service) takeActiveRoute(targetID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgID := s.activeRoutes[targetID]
	delete(s.activeRoutes, targetID)
	return msgID
}

func (s *Service) reject(c wire.Command, detail string, tSim float64) {
	s.record(worker.EventEventLog, core.EventRecord{
		Name:     wire.EventCommandError,
		TargetID: c.TargetID,
		RefMsgID: c.MsgID,
		Detail:   detail,
		TSim:     tSim,
		Time:     time.Now(),
	})
	s.deps.Logger.Debug("command rejected",
		"command", c.Command,
		"target", c.TargetID,
		"detail", detail,
	)
	s.send(wire.NewCommandError(c, detail, tSim))
}

func (s *Service) send(frame any) {
	raw, err := wire.Encode(frame)
	if err != nil {
		s.deps.Logger.Error("frame encode failed", "error", err)
		return
	}
	s.deps.Sender.Send(raw)
}

// record hands a telemetry payload to the recording pipeline. Recording
// failures never affect protocol replies.
func (s *Service) record(event string, payload any) {
	_, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
		Name:     event,
		Payload:  payload,
		Received: time.Now(),
	})
	if err != nil {
		s.deps.Logger.Debug("telemetry record dropped", "event", event, "error", err)
	}
}
