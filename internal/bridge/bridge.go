// Package bridge maintains the duplex WebSocket link to the orchestrator.
// The bridge is the dialing side: it connects, hands every inbound frame to
// the frame callback, and redials forever on a fixed delay when the link
// drops. The object registry and the motion engines live outside the link
// lifecycle, so a reconnect never rebuilds world state.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"simbridge/internal/config"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultSendBuffer     = 256
	writeWait             = 10 * time.Second
)

// session is the state of one established connection. A new session is
// built per dial; the old one is abandoned on teardown.
type session struct {
	conn   *ws.Conn
	sendCh chan []byte
	stop   chan struct{}
}

// ConnectionManager owns the link lifecycle: dial, pump, teardown, redial.
// Frames sent while the link is down are discarded; the protocol has no
// replay semantics.
type ConnectionManager struct {
	cfg     config.LinkConfig
	onFrame func(raw []byte)
	logger  *slog.Logger

	mu   sync.Mutex
	sess *session

	connects       metric.Int64Counter
	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	framesDropped  metric.Int64Counter
}

// New creates a connection manager. onFrame receives every inbound frame,
// called from the receive loop, so it must hand work off quickly.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(cfg config.LinkConfig, onFrame func(raw []byte), logger *slog.Logger) (*ConnectionManager, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	m := &ConnectionManager{
		cfg:     cfg,
		onFrame: onFrame,
		logger:  logger,
	}

	mt := meter()

	var err error
	if m.connects, err = mt.Int64Counter("link.connects",
		metric.WithDescription("Successful link dials")); err != nil {
		return nil, fmt.Errorf("creating connects counter: %w", err)
	}
	if m.framesSent, err = mt.Int64Counter("link.frames.sent",
		metric.WithDescription("Frames written to the link")); err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	if m.framesReceived, err = mt.Int64Counter("link.frames.received",
		metric.WithDescription("Frames read from the link")); err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}
	if m.framesDropped, err = mt.Int64Counter("link.frames.dropped",
		metric.WithDescription("Outbound frames dropped on a full send buffer")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return m, nil
}

// Run dials the configured endpoint and keeps the link alive until ctx is
// canceled. Dial failures and dropped connections both wait out the fixed
// reconnect delay before the next attempt; the delay never grows.
func (m *ConnectionManager) Run(ctx context.Context) error {
	for {
		conn, err := m.dialOnce()
		if err != nil {
			m.logger.Warn("link dial failed", "url", m.cfg.URL, "error", err)
		} else {
			m.connects.Add(ctx, 1)
			m.pump(ctx, conn)
		}

		if err := sleepCtx(ctx, m.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

// Send queues one frame for the write loop. A no-op while the link is down;
// a full buffer drops the frame with a warning.
func (m *ConnectionManager) Send(frame []byte) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()

	if sess == nil {
		return
	}

	select {
	case sess.sendCh <- frame:
	default:
		m.framesDropped.Add(context.Background(), 1)
		m.logger.Warn("link send buffer full, dropping frame")
	}
}

// Connected reports whether a connection is currently established.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// dialOnce performs a single dial, attaching the shared secret as a query
// parameter when configured.
func (m *ConnectionManager) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %w", err)
	}
	if m.cfg.Secret != "" {
		q := u.Query()
		q.Set("secret", m.cfg.Secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("link dial: %w", err)
	}
	return conn, nil
}

// pump services one established connection: it installs the session, starts
// the write loop, and reads frames inline until the connection dies. Any
// read error, a clean close included, ends the session the same way.
func (m *ConnectionManager) pump(ctx context.Context, conn *ws.Conn) {
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, m.cfg.SendBuffer),
		stop:   make(chan struct{}),
	}

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	go m.writeLoop(sess)

	// Close the socket on shutdown so the blocking read returns.
	unwatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer unwatch()

	m.logger.Info("link up", "url", m.cfg.URL)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("link down", "error", err)
			break
		}
		m.framesReceived.Add(context.Background(), 1)
		if m.onFrame != nil {
			m.onFrame(frame)
		}
	}

	close(sess.stop)
	_ = conn.Close()

	m.mu.Lock()
	m.sess = nil
	m.mu.Unlock()
}

// writeLoop drains the session's send channel onto the socket. It exits on
// session teardown or the first write error; a write error also closes the
// socket so the receive loop notices and tears the session down.
func (m *ConnectionManager) writeLoop(sess *session) {
	for {
		select {
		case <-sess.stop:
			return
		case frame := <-sess.sendCh:
			if err := sess.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				m.logger.Warn("link write deadline error", "error", err)
				_ = sess.conn.Close()
				return
			}
			if err := sess.conn.WriteMessage(ws.TextMessage, frame); err != nil {
				m.logger.Warn("link write error", "error", err)
				_ = sess.conn.Close()
				return
			}
			m.framesSent.Add(context.Background(), 1)
		}
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
