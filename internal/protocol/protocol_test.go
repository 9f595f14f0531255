package protocol

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simbridge/internal/dispatcher"
	"simbridge/internal/motion"
	"simbridge/internal/registry"
	"simbridge/internal/scene"
	"simbridge/internal/worker"
	"simbridge/pkg/core"
	"simbridge/pkg/wire"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, keysAndValues ...any) {}
func (nopLogger) Info(msg string, keysAndValues ...any)  {}
func (nopLogger) Error(msg string, keysAndValues ...any) {}

type fakeClock struct{ t float64 }

func (c *fakeClock) Now() float64 { return c.t }

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.frames = append(f.frames, cp)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) frame(t *testing.T, i int) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.frames), i, "expected at least %d sent frames", i+1)
	return f.frames[i]
}

// recordSink captures telemetry records synchronously so tests can assert on
// them without polling.
type recordSink struct {
	mu     sync.Mutex
	routes []core.RouteRecord
	speeds []core.SpeedChange
	events []core.EventRecord
}

func (r *recordSink) register(d *dispatcher.Dispatcher) {
	d.Register(worker.EventRouteLog, func(e dispatcher.Event) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.routes = append(r.routes, e.Payload.(core.RouteRecord))
		return nil, nil
	})
	d.Register(worker.EventSpeedLog, func(e dispatcher.Event) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.speeds = append(r.speeds, e.Payload.(core.SpeedChange))
		return nil, nil
	})
	d.Register(worker.EventEventLog, func(e dispatcher.Event) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e.Payload.(core.EventRecord))
		return nil, nil
	})
}

type testRig struct {
	svc    *Service
	sender *fakeSender
	clock  *fakeClock
	sink   *recordSink
	reg    *registry.Registry
}

func fastLimits() motion.Limits {
	return motion.Limits{
		MaxSpeed:          10,
		AccelUp:           1000,
		AccelDown:         1000,
		WaypointTolerance: 0.25,
		SpeedEpsilon:      1e-4,
		RotateWhenStopped: true,
	}
}

func newRigWithScene(t *testing.T, sc *scene.Scene) *testRig {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.Build(sc, fastLimits(), logger)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	sink := &recordSink{}
	sink.register(d)

	sender := &fakeSender{}
	clock := &fakeClock{}

	svc := New(Dependencies{
		Registry:   reg,
		Clock:      clock,
		Sender:     sender,
		Dispatcher: d,
		Logger:     logger,
	})

	return &testRig{svc: svc, sender: sender, clock: clock, sink: sink, reg: reg}
}

func newRig(t *testing.T) *testRig {
	return newRigWithScene(t, scene.Demo())
}

func staticScene() *scene.Scene {
	return &scene.Scene{
		Name:   "apron-static",
		Anchor: scene.Anchor{Lat: 45.0, Lon: 8.0},
		Objects: []scene.Object{
			{ID: "TOWER_1", Class: "tower", Position: core.Vec3{X: 5, Y: 2, Z: 8}},
			{ID: "CUBE_1", Class: "cube", Movable: true},
		},
	}
}

func decodeResponse(t *testing.T, raw []byte) wire.Response {
	t.Helper()
	r, err := wire.DecodeResponse(raw)
	require.NoError(t, err)
	return r
}

func decodeEvent(t *testing.T, raw []byte) wire.Event {
	t.Helper()
	e, err := wire.DecodeEvent(raw)
	require.NoError(t, err)
	return e
}

func TestHandleFrame_MalformedFrameDropped(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":`))

	assert.Equal(t, 0, rig.sender.count(), "malformed frames must never produce a reply")
	assert.Empty(t, rig.sink.events)
}

func TestHandleFrame_UnknownTypeIgnored(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"telemetry","payload":1}`))

	assert.Equal(t, 0, rig.sender.count())
}

func TestHandleFrame_UnknownQueryIgnored(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"query","query":"get.speed","target_id":"CUBE_1","msg_id":"q-9"}`))

	assert.Equal(t, 0, rig.sender.count(), "unknown query names are dropped, not answered")
}

func TestHandleFrame_UnknownCommandIgnored(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"self.destruct","target_id":"CUBE_1","msg_id":"c-9"}`))

	assert.Equal(t, 0, rig.sender.count(), "unknown command names are dropped, not rejected")
	assert.Empty(t, rig.sink.events)
}

func TestGetPosition_AnswersForMovableObject(t *testing.T) {
	rig := newRig(t)
	rig.clock.t = 12.5

	rig.svc.HandleFrame([]byte(`{"type":"query","query":"get.position","target_id":"CUBE_2","msg_id":"q-1"}`))

	require.Equal(t, 1, rig.sender.count())
	resp := decodeResponse(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.QueryGetPosition, resp.Query)
	assert.Equal(t, "CUBE_2", resp.TargetID)
	assert.Equal(t, "q-1", resp.MsgID)
	assert.Equal(t, 12.5, resp.TSim)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 20.0, resp.Result.X)
	assert.Equal(t, 10.0, resp.Result.Z)
}

func TestGetPosition_AnswersForStaticObject(t *testing.T) {
	rig := newRigWithScene(t, staticScene())

	rig.svc.HandleFrame([]byte(`{"type":"query","query":"get.position","target_id":"TOWER_1","msg_id":"q-2"}`))

	require.Equal(t, 1, rig.sender.count())
	resp := decodeResponse(t, rig.sender.frame(t, 0))
	require.NotNil(t, resp.Result)
	assert.Equal(t, core.Vec3{X: 5, Y: 2, Z: 8}, *resp.Result)
}

func TestGetPosition_UnknownTargetErrors(t *testing.T) {
	rig := newRig(t)
	rig.clock.t = 3.0

	rig.svc.HandleFrame([]byte(`{"type":"query","query":"get.position","target_id":"GHOST","msg_id":"q-3"}`))

	require.Equal(t, 1, rig.sender.count())
	resp := decodeResponse(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.ErrNotFound, resp.Error)
	assert.Equal(t, "q-3", resp.MsgID)
	assert.Equal(t, 3.0, resp.TSim)
	assert.Nil(t, resp.Result)
}

func TestSpeedSet_AppliesTargetAndAcks(t *testing.T) {
	rig := newRig(t)
	rig.clock.t = 7.25

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"speed.set","target_id":"CUBE_1","msg_id":"c-1","args":{"speed":3.0}}`))

	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)
	assert.Equal(t, 3.0, eng.Status().TargetSpeed)

	require.Equal(t, 1, rig.sender.count())
	ev := decodeEvent(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.EventCommandAck, ev.Event)
	assert.Equal(t, wire.CommandSpeedSet, ev.Detail)
	assert.Equal(t, "c-1", ev.RefMsgID)
	assert.Equal(t, 7.25, ev.TSim)

	require.Len(t, rig.sink.speeds, 1)
	rec := rig.sink.speeds[0]
	assert.Equal(t, "CUBE_1", rec.TargetID)
	assert.Equal(t, "c-1", rec.MsgID)
	require.NotNil(t, rec.Speed)
	assert.Equal(t, 3.0, *rec.Speed)
}

func TestSpeedSet_AbsentSpeedKeepsCurrentTarget(t *testing.T) {
	rig := newRig(t)
	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)
	eng.SetTargetSpeed(2.0, nil, nil)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"speed.set","target_id":"CUBE_1","msg_id":"c-2","args":{"accel_up":2.5}}`))

	assert.Equal(t, 2.0, eng.Status().TargetSpeed, "omitted speed keeps the current target")

	require.Equal(t, 1, rig.sender.count())
	assert.Equal(t, wire.EventCommandAck, decodeEvent(t, rig.sender.frame(t, 0)).Event)

	require.Len(t, rig.sink.speeds, 1)
	rec := rig.sink.speeds[0]
	assert.Nil(t, rec.Speed)
	require.NotNil(t, rec.AccelUp)
	assert.Equal(t, 2.5, *rec.AccelUp)
}

func TestSpeedSet_SentinelSpeedMeansAbsent(t *testing.T) {
	rig := newRig(t)
	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)
	eng.SetTargetSpeed(2.0, nil, nil)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"speed.set","target_id":"CUBE_1","msg_id":"c-3","args":{"speed":-1}}`))

	assert.Equal(t, 2.0, eng.Status().TargetSpeed, "wire sentinel -1 means not supplied")
	assert.Equal(t, 1, rig.sender.count())
}

func TestSpeedSet_UnknownTargetRejected(t *testing.T) {
	rig := newRig(t)
	rig.clock.t = 4.5

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"speed.set","target_id":"GHOST","msg_id":"c-4","args":{"speed":3.0}}`))

	require.Equal(t, 1, rig.sender.count())
	ev := decodeEvent(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.EventCommandError, ev.Event)
	assert.Equal(t, wire.DetailInvalidTarget, ev.Detail)
	assert.Equal(t, "c-4", ev.RefMsgID)
	assert.Equal(t, 4.5, ev.TSim)

	assert.Empty(t, rig.sink.speeds)
	require.Len(t, rig.sink.events, 1)
	assert.Equal(t, wire.EventCommandError, rig.sink.events[0].Name)
	assert.Equal(t, wire.DetailInvalidTarget, rig.sink.events[0].Detail)
}

func TestSetRoute_StartsRouteAndAcks(t *testing.T) {
	rig := newRig(t)
	rig.clock.t = 1.0

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"CUBE_1","msg_id":"r-1",` +
		`"args":{"speed":5,"waypoints":[{"x":3,"y":0,"z":4},{"x":3,"y":0,"z":16}]}}`))

	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)
	assert.Equal(t, motion.Following, eng.State())
	assert.Equal(t, 5.0, eng.Status().TargetSpeed)

	require.Equal(t, 1, rig.sender.count())
	ev := decodeEvent(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.EventCommandAck, ev.Event)
	assert.Equal(t, wire.CommandSetRoute, ev.Detail)
	assert.Equal(t, "r-1", ev.RefMsgID)

	require.Len(t, rig.sink.routes, 1)
	rec := rig.sink.routes[0]
	assert.Equal(t, core.RouteStatusAccepted, rec.Status)
	assert.Equal(t, "r-1", rec.MsgID)
	assert.Len(t, rec.Waypoints, 2)
	assert.InDelta(t, 12.0, rec.Length, 1e-9, "length sums the waypoint segments")
	require.NotNil(t, rec.Speed)
	assert.Equal(t, 5.0, *rec.Speed)
	assert.Equal(t, 1.0, rec.TSim)
}

func TestSetRoute_EmptyWaypointsRejected(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"CUBE_1","msg_id":"r-2","args":{"speed":5}}`))

	require.Equal(t, 1, rig.sender.count())
	ev := decodeEvent(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.EventCommandError, ev.Event)
	assert.Equal(t, wire.DetailInvalidTargetOrWaypoints, ev.Detail)

	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)
	assert.Equal(t, motion.Idle, eng.State())
	assert.Empty(t, rig.sink.routes)
}

func TestSetRoute_UnknownTargetRejected(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"GHOST","msg_id":"r-3",` +
		`"args":{"waypoints":[{"x":1,"y":0,"z":0}]}}`))

	require.Equal(t, 1, rig.sender.count())
	assert.Equal(t, wire.DetailInvalidTargetOrWaypoints, decodeEvent(t, rig.sender.frame(t, 0)).Detail)
}

func TestSetRoute_StaticTargetRejected(t *testing.T) {
	rig := newRigWithScene(t, staticScene())

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"TOWER_1","msg_id":"r-4",` +
		`"args":{"waypoints":[{"x":1,"y":0,"z":0}]}}`))

	require.Equal(t, 1, rig.sender.count())
	ev := decodeEvent(t, rig.sender.frame(t, 0))
	assert.Equal(t, wire.EventCommandError, ev.Event)
	assert.Equal(t, wire.DetailInvalidTargetOrWaypoints, ev.Detail)
}

func TestSetRoute_ReplacementCancelsActiveRoute(t *testing.T) {
	rig := newRig(t)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"CUBE_1","msg_id":"r-1",` +
		`"args":{"waypoints":[{"x":100,"y":0,"z":0}]}}`))
	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"CUBE_1","msg_id":"r-2",` +
		`"args":{"waypoints":[{"x":0,"y":0,"z":100}]}}`))

	assert.Equal(t, 2, rig.sender.count(), "both commands are acked")

	require.Len(t, rig.sink.routes, 3)
	assert.Equal(t, core.RouteStatusAccepted, rig.sink.routes[0].Status)
	assert.Equal(t, "r-1", rig.sink.routes[0].MsgID)
	assert.Equal(t, core.RouteStatusCanceled, rig.sink.routes[1].Status)
	assert.Equal(t, "r-1", rig.sink.routes[1].MsgID, "the canceled row keeps the replaced route's msg_id")
	assert.Equal(t, core.RouteStatusAccepted, rig.sink.routes[2].Status)
	assert.Equal(t, "r-2", rig.sink.routes[2].MsgID)
}

func TestRouteComplete_SendsEventAndRecords(t *testing.T) {
	rig := newRig(t)
	rig.reg.WireCompletions(rig.svc.EmitRouteComplete)

	rig.svc.HandleFrame([]byte(`{"type":"command","command":"set.route","target_id":"CUBE_1","msg_id":"r-1",` +
		`"args":{"speed":5,"waypoints":[{"x":1,"y":0,"z":0}]}}`))

	eng, ok := rig.reg.Engine("CUBE_1")
	require.True(t, ok)

	rig.clock.t = 9.0
	eng.Tick(1.0)

	require.Equal(t, 2, rig.sender.count(), "ack plus completion event")
	ev := decodeEvent(t, rig.sender.frame(t, 1))
	assert.Equal(t, wire.EventRouteComplete, ev.Event)
	assert.Equal(t, "CUBE_1", ev.TargetID)
	assert.Empty(t, ev.RefMsgID, "completion is correlated by target, not ref_msg_id")
	assert.Equal(t, 9.0, ev.TSim)

	require.Len(t, rig.sink.routes, 2)
	complete := rig.sink.routes[1]
	assert.Equal(t, core.RouteStatusComplete, complete.Status)
	assert.Equal(t, "r-1", complete.MsgID, "the completion row carries the accepted route's msg_id")
	assert.Equal(t, 9.0, complete.TSim)

	require.Len(t, rig.sink.events, 1)
	assert.Equal(t, wire.EventRouteComplete, rig.sink.events[0].Name)
	assert.Equal(t, "r-1", rig.sink.events[0].RefMsgID)

	eng.Tick(1.0)
	assert.Equal(t, 2, rig.sender.count(), "completion fires exactly once per route")
}

func TestRegisterHandlers_WiresLinkFrames(t *testing.T) {
	rig := newRig(t)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	rig.svc.RegisterHandlers(d)

	assert.True(t, d.HasHandler(EventLinkFrame))

	_, err = rig.svc.handleLinkFrame(dispatcher.Event{Name: EventLinkFrame, Payload: 42})
	assert.Error(t, err, "non-frame payloads are a programming error")
}
