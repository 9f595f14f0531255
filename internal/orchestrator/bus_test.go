package orchestrator

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simbridge/pkg/core"
	"simbridge/pkg/wire"
)

// bridgeScript is the behavior of a fake bridge endpoint for one test. It
// runs in the server handler goroutine, so failures must be reported with
// t.Errorf, never require.
type bridgeScript func(t *testing.T, conn *ws.Conn)

func newBridgeEndpoint(t *testing.T, script bridgeScript) string {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		script(t, c)
	}))

	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialBus(t *testing.T, url string, queryTimeout, ackTimeout time.Duration) *Bus {
	t.Helper()

	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	b := NewBus(conn, queryTimeout, ackTimeout, testLogger())
	t.Cleanup(b.Close)
	return b
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func ptr(v float64) *float64 { return &v }

func writeFrame(t *testing.T, conn *ws.Conn, frame any) bool {
	raw, err := wire.Encode(frame)
	if err != nil {
		t.Errorf("encoding reply: %v", err)
		return false
	}
	return conn.WriteMessage(ws.TextMessage, raw) == nil
}

// answerPositions replies to every query with the same position.
func answerPositions(pos core.Vec3, tSim float64) bridgeScript {
	return func(t *testing.T, conn *ws.Conn) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			q, err := wire.DecodeQuery(raw)
			if err != nil {
				t.Errorf("expected a query frame, got: %s", raw)
				return
			}
			if !writeFrame(t, conn, wire.NewPositionResponse(q, pos, tSim)) {
				return
			}
		}
	}
}

// captureCommands decodes every command into out and acks it.
func captureCommands(out chan<- wire.Command, tSim float64) bridgeScript {
	return func(t *testing.T, conn *ws.Conn) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c, err := wire.DecodeCommand(raw)
			if err != nil {
				t.Errorf("expected a command frame, got: %s", raw)
				return
			}
			out <- c
			if !writeFrame(t, conn, wire.NewCommandAck(c, tSim)) {
				return
			}
		}
	}
}

func TestQueryPosition_ReturnsPositionAndTSim(t *testing.T) {
	url := newBridgeEndpoint(t, answerPositions(core.Vec3{X: 1, Y: 2, Z: 3}, 4.5))
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	resp, err := bus.QueryPosition("CUBE_1")
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, core.Vec3{X: 1, Y: 2, Z: 3}, *resp.Result)
	assert.Equal(t, 4.5, resp.TSim)
}

func TestQueryPosition_ErrorResponseSurfaced(t *testing.T) {
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		q, err := wire.DecodeQuery(raw)
		if err != nil {
			t.Errorf("expected a query frame, got: %s", raw)
			return
		}
		writeFrame(t, conn, wire.NewErrorResponse(q, wire.ErrNotFound, 1.0))
		conn.ReadMessage() // hold the link open until the client is done
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	_, err := bus.QueryPosition("GHOST_9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestQueryPosition_TimesOut(t *testing.T) {
	// The bridge swallows the query and never answers.
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	bus := dialBus(t, url, 50*time.Millisecond, 2*time.Second)

	_, err := bus.QueryPosition("CUBE_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response")
}

func TestQueryPosition_InterleavedRepliesCorrelate(t *testing.T) {
	// The bridge gathers both in-flight queries, then answers them in
	// reverse arrival order with target-specific positions.
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		var queries []wire.Query
		for len(queries) < 2 {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			q, err := wire.DecodeQuery(raw)
			if err != nil {
				t.Errorf("expected a query frame, got: %s", raw)
				return
			}
			queries = append(queries, q)
		}
		for i := len(queries) - 1; i >= 0; i-- {
			q := queries[i]
			x := 1.0
			if q.TargetID == "CUBE_2" {
				x = 2.0
			}
			if !writeFrame(t, conn, wire.NewPositionResponse(q, core.Vec3{X: x}, 1.0)) {
				return
			}
		}
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	type result struct {
		target string
		x      float64
		err    error
	}
	results := make(chan result, 2)
	for _, target := range []string{"CUBE_1", "CUBE_2"} {
		go func() {
			resp, err := bus.QueryPosition(target)
			if err != nil {
				results <- result{target: target, err: err}
				return
			}
			results <- result{target: target, x: resp.Result.X}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NoError(t, res.err)
			switch res.target {
			case "CUBE_1":
				assert.Equal(t, 1.0, res.x)
			case "CUBE_2":
				assert.Equal(t, 2.0, res.x)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("query never resolved")
		}
	}
}

func TestSendRoute_ReturnsAck(t *testing.T) {
	commands := make(chan wire.Command, 1)
	url := newBridgeEndpoint(t, captureCommands(commands, 2.25))
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	course := []core.Vec3{{X: 1}, {X: 2}}
	ack, err := bus.SendRoute("CUBE_1", course, 2.0)
	require.NoError(t, err)
	assert.Equal(t, wire.EventCommandAck, ack.Event)
	assert.Equal(t, wire.CommandSetRoute, ack.Detail)
	assert.NotEmpty(t, ack.RefMsgID)
	assert.Equal(t, 2.25, ack.TSim)

	sent := <-commands
	assert.Equal(t, wire.CommandSetRoute, sent.Command)
	assert.Equal(t, "CUBE_1", sent.TargetID)
	assert.Equal(t, sent.MsgID, ack.RefMsgID)
	assert.Equal(t, course, sent.Args.Waypoints)
	require.NotNil(t, sent.Args.Speed)
	assert.Equal(t, 2.0, *sent.Args.Speed)
}

func TestSendRoute_NonPositiveSpeedOmitted(t *testing.T) {
	commands := make(chan wire.Command, 1)
	url := newBridgeEndpoint(t, captureCommands(commands, 0))
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	_, err := bus.SendRoute("CUBE_1", []core.Vec3{{X: 1}}, 0)
	require.NoError(t, err)

	sent := <-commands
	assert.Nil(t, sent.Args.Speed)
}

func TestSendRoute_CommandErrorSurfaced(t *testing.T) {
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c, err := wire.DecodeCommand(raw)
		if err != nil {
			t.Errorf("expected a command frame, got: %s", raw)
			return
		}
		writeFrame(t, conn, wire.NewCommandError(c, wire.DetailInvalidTargetOrWaypoints, 0.5))
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	ev, err := bus.SendRoute("GHOST_9", []core.Vec3{{X: 1}}, 2.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), wire.DetailInvalidTargetOrWaypoints)
	assert.Equal(t, wire.EventCommandError, ev.Event)
}

func TestSetSpeed_CarriesOptionalAccels(t *testing.T) {
	commands := make(chan wire.Command, 1)
	url := newBridgeEndpoint(t, captureCommands(commands, 1.0))
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	_, err := bus.SetSpeed("CUBE_2", 3.5, ptr(2.0), nil)
	require.NoError(t, err)

	sent := <-commands
	assert.Equal(t, wire.CommandSpeedSet, sent.Command)
	require.NotNil(t, sent.Args.Speed)
	assert.Equal(t, 3.5, *sent.Args.Speed)
	require.NotNil(t, sent.Args.AccelUp)
	assert.Equal(t, 2.0, *sent.Args.AccelUp)
	assert.Nil(t, sent.Args.AccelDown)
}

func TestEvents_DeliversUnsolicited(t *testing.T) {
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		writeFrame(t, conn, wire.NewRouteComplete("CUBE_3", 9.0))
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	select {
	case ev := <-bus.Events().Receive():
		assert.Equal(t, wire.EventRouteComplete, ev.Event)
		assert.Equal(t, "CUBE_3", ev.TargetID)
		assert.Equal(t, 9.0, ev.TSim)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestEvents_UnclaimedAckFallsThrough(t *testing.T) {
	// An ack nobody is waiting on must land on the event stream instead of
	// vanishing.
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		ev := wire.Event{
			Type:     wire.TypeEvent,
			Event:    wire.EventCommandAck,
			TargetID: "CUBE_1",
			RefMsgID: "nobody-waits-here",
			Detail:   wire.CommandSetRoute,
			TSim:     1.5,
		}
		writeFrame(t, conn, ev)
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	select {
	case ev := <-bus.Events().Receive():
		assert.Equal(t, wire.EventCommandAck, ev.Event)
		assert.Equal(t, "nobody-waits-here", ev.RefMsgID)
	case <-time.After(2 * time.Second):
		t.Fatal("unclaimed ack never delivered")
	}
}

func TestBus_DoneOnDisconnect(t *testing.T) {
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		// Drop the link straight away.
	})
	bus := dialBus(t, url, 2*time.Second, 2*time.Second)

	select {
	case <-bus.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed after disconnect")
	}

	// The event stream ends with the link.
	select {
	case _, ok := <-bus.Events().Receive():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream never closed")
	}
}

func TestQueryPosition_ErrClosedWhenLinkDrops(t *testing.T) {
	// The bridge reads the query, then hangs up without answering.
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 10*time.Second, 10*time.Second)

	_, err := bus.QueryPosition("CUBE_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNewBus_DefaultsTimeouts(t *testing.T) {
	url := newBridgeEndpoint(t, func(t *testing.T, conn *ws.Conn) {
		conn.ReadMessage()
	})
	bus := dialBus(t, url, 0, 0)

	assert.Equal(t, defaultQueryTimeout, bus.queryTimeout)
	assert.Equal(t, defaultAckTimeout, bus.ackTimeout)
}
