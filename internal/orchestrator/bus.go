// Package orchestrator is the driving side of the duplex link: it serves
// the WebSocket endpoint the bridge dials, correlates outgoing queries and
// commands with their replies, records run telemetry to CSV, and drives the
// demo scenario.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"simbridge/internal/channel"
	"simbridge/pkg/core"
	"simbridge/pkg/wire"
)

// ErrClosed reports that the bridge link went away while a caller was
// waiting on it.
var ErrClosed = errors.New("bridge link closed")

const (
	defaultQueryTimeout = 5 * time.Second
	defaultAckTimeout   = 10 * time.Second

	// Unsolicited events (route completions and unclaimed acks) buffer here
	// until the scenario drains them.
	eventBuffer = 64

	busWriteWait = 10 * time.Second
)

// Bus multiplexes one bridge connection: concurrent callers issue queries
// and commands, the read loop matches replies back to them by msg_id and
// ref_msg_id. Events nobody is waiting on land on the Events channel.
type Bus struct {
	conn   *ws.Conn
	logger *slog.Logger

	queryTimeout time.Duration
	ackTimeout   time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	queries map[string]chan wire.Response
	acks    map[string]chan wire.Event

	events channel.Channel[wire.Event]

	done      chan struct{}
	closeOnce sync.Once
}

// NewBus wraps an established bridge connection and starts its read loop.
// Non-positive timeouts fall back to the defaults.
func NewBus(conn *ws.Conn, queryTimeout, ackTimeout time.Duration, logger *slog.Logger) *Bus {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	b := &Bus{
		conn:         conn,
		logger:       logger,
		queryTimeout: queryTimeout,
		ackTimeout:   ackTimeout,
		queries:      make(map[string]chan wire.Response),
		acks:         make(map[string]chan wire.Event),
		events:       channel.New[wire.Event](eventBuffer),
		done:         make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Events exposes the unsolicited event stream. The channel closes when the
// link goes down.
func (b *Bus) Events() channel.Receiver[wire.Event] {
	return b.events
}

// Done closes when the link is gone and no further replies will arrive.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close tears the link down. Waiting callers get ErrClosed.
func (b *Bus) Close() {
	b.shutdown()
}

// QueryPosition asks the bridge for targetID's current position and waits
// for the matching response. An error-coded response is returned as an
// error; on success the response carries the position and its t_sim.
func (b *Bus) QueryPosition(targetID string) (wire.Response, error) {
	msgID := uuid.NewString()
	ch := make(chan wire.Response, 1)

	b.mu.Lock()
	b.queries[msgID] = ch
	b.mu.Unlock()

	q := wire.Query{
		Type:     wire.TypeQuery,
		Query:    wire.QueryGetPosition,
		TargetID: targetID,
		MsgID:    msgID,
	}
	if err := b.write(q); err != nil {
		b.forgetQuery(msgID)
		return wire.Response{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return wire.Response{}, fmt.Errorf("get.position %s: %s", targetID, resp.Error)
		}
		if resp.Result == nil {
			return wire.Response{}, fmt.Errorf("get.position %s: response carried no result", targetID)
		}
		return resp, nil
	case <-time.After(b.queryTimeout):
		b.forgetQuery(msgID)
		return wire.Response{}, fmt.Errorf("get.position %s: no response after %s", targetID, b.queryTimeout)
	case <-b.done:
		return wire.Response{}, ErrClosed
	}
}

// SendRoute orders targetID onto a route and waits for the ack. A positive
// speed rides along as the cruise speed; zero or negative means "engine
// default". The returned ack carries the bridge's t_sim and echoes the
// command's msg_id in RefMsgID.
func (b *Bus) SendRoute(targetID string, waypoints []core.Vec3, speed float64) (wire.Event, error) {
	args := wire.CommandArgs{Waypoints: waypoints}
	if speed > 0 {
		args.Speed = &speed
	}
	cmd := wire.Command{
		Type:     wire.TypeCommand,
		Command:  wire.CommandSetRoute,
		TargetID: targetID,
		MsgID:    uuid.NewString(),
		Args:     args,
	}
	return b.sendCommand(cmd)
}

// SetSpeed retunes targetID's cruise speed and waits for the ack. Nil accel
// overrides leave the engine's current ramp limits in place.
func (b *Bus) SetSpeed(targetID string, speed float64, accelUp, accelDown *float64) (wire.Event, error) {
	cmd := wire.Command{
		Type:     wire.TypeCommand,
		Command:  wire.CommandSpeedSet,
		TargetID: targetID,
		MsgID:    uuid.NewString(),
		Args: wire.CommandArgs{
			Speed:     &speed,
			AccelUp:   accelUp,
			AccelDown: accelDown,
		},
	}
	return b.sendCommand(cmd)
}

func (b *Bus) sendCommand(cmd wire.Command) (wire.Event, error) {
	ch := make(chan wire.Event, 1)

	b.mu.Lock()
	b.acks[cmd.MsgID] = ch
	b.mu.Unlock()

	if err := b.write(cmd); err != nil {
		b.forgetAck(cmd.MsgID)
		return wire.Event{}, err
	}

	select {
	case ev := <-ch:
		if ev.Event == wire.EventCommandError {
			return ev, fmt.Errorf("%s %s rejected: %s", cmd.Command, cmd.TargetID, ev.Detail)
		}
		return ev, nil
	case <-time.After(b.ackTimeout):
		b.forgetAck(cmd.MsgID)
		return wire.Event{}, fmt.Errorf("%s %s: no ack after %s", cmd.Command, cmd.TargetID, b.ackTimeout)
	case <-b.done:
		return wire.Event{}, ErrClosed
	}
}

// readLoop is the sole reader of the connection and the sole sender on the
// events channel; it closes the channel on exit so consumers see the end of
// the stream.
func (b *Bus) readLoop() {
	defer func() {
		b.shutdown()
		b.events.Close()
	}()

	for {
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			b.logger.Info("bridge link closed", "error", err)
			return
		}

		typ, err := wire.DecodeType(raw)
		if err != nil {
			b.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		switch typ {
		case wire.TypeResponse:
			resp, err := wire.DecodeResponse(raw)
			if err != nil {
				b.logger.Debug("dropping bad response frame", "error", err)
				continue
			}
			b.resolveQuery(resp)
		case wire.TypeEvent:
			ev, err := wire.DecodeEvent(raw)
			if err != nil {
				b.logger.Debug("dropping bad event frame", "error", err)
				continue
			}
			// Correlated events settle their waiter; everything else,
			// route completions included, goes to the event stream.
			if ev.RefMsgID != "" && b.resolveAck(ev) {
				continue
			}
			if !b.events.TrySend(ev) {
				b.logger.Warn("event buffer full, dropping event",
					"event", ev.Event, "target_id", ev.TargetID)
			}
		default:
			b.logger.Debug("ignoring frame of unexpected type", "frame_type", typ)
		}
	}
}

func (b *Bus) resolveQuery(resp wire.Response) {
	b.mu.Lock()
	ch := b.queries[resp.MsgID]
	delete(b.queries, resp.MsgID)
	b.mu.Unlock()

	if ch == nil {
		b.logger.Debug("response without a waiter", "msg_id", resp.MsgID)
		return
	}
	ch <- resp
}

func (b *Bus) resolveAck(ev wire.Event) bool {
	b.mu.Lock()
	ch := b.acks[ev.RefMsgID]
	delete(b.acks, ev.RefMsgID)
	b.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- ev
	return true
}

func (b *Bus) forgetQuery(msgID string) {
	b.mu.Lock()
	delete(b.queries, msgID)
	b.mu.Unlock()
}

func (b *Bus) forgetAck(msgID string) {
	b.mu.Lock()
	delete(b.acks, msgID)
	b.mu.Unlock()
}

func (b *Bus) write(frame any) error {
	raw, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.conn.SetWriteDeadline(time.Now().Add(busWriteWait)); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	if err := b.conn.WriteMessage(ws.TextMessage, raw); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

func (b *Bus) shutdown() {
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.conn.Close()
	})
}
