package bridge

import (
	"context"
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

	"simbridge/internal/config"
)

// linkServer is an httptest WebSocket endpoint that records inbound frames
// and connection metadata, and can push frames to the connected client.
type linkServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	frames  []string
	secrets []string
	conns   int

	// closeFirst makes the handler drop the first connection right after
	// the upgrade, to exercise the redial path.
	closeFirst bool
	// greeting, when set, is sent to every client after the upgrade.
	greeting string
}

func newLinkServer(t *testing.T) *linkServer {
	t.Helper()
	ls := &linkServer{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		ls.mu.Lock()
		ls.conns++
		n := ls.conns
		ls.secrets = append(ls.secrets, r.URL.Query().Get("secret"))
		closeNow := ls.closeFirst && n == 1
		greeting := ls.greeting
		ls.mu.Unlock()

		if closeNow {
			return
		}
		if greeting != "" {
			if err := c.WriteMessage(ws.TextMessage, []byte(greeting)); err != nil {
				return
			}
		}

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			ls.mu.Lock()
			ls.frames = append(ls.frames, string(msg))
			ls.mu.Unlock()
		}
	}))

	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *linkServer) url() string {
	return "ws" + strings.TrimPrefix(ls.srv.URL, "http")
}

func (ls *linkServer) frameCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.frames)
}

func (ls *linkServer) connCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.conns
}

func (ls *linkServer) firstSecret() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if len(ls.secrets) == 0 {
		return ""
	}
	return ls.secrets[0]
}

// frameSink collects frames handed to the manager's callback.
type frameSink struct {
	mu     sync.Mutex
	frames []string
}

func (s *frameSink) add(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(raw))
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) contains(frame string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if f == frame {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, cfg config.LinkConfig, onFrame func([]byte)) *ConnectionManager {
	t.Helper()
	m, err := New(cfg, onFrame, testLogger())
	require.NoError(t, err)
	return m
}

// startManager runs the manager until the test ends and asserts a clean exit.
func startManager(t *testing.T, m *ConnectionManager) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Run did not exit after cancel")
		}
	})
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

func fastLink(url string) config.LinkConfig {
	return config.LinkConfig{
		URL:            url,
		ReconnectDelay: 20 * time.Millisecond,
		SendBuffer:     8,
	}
}

func TestRun_DeliversInboundFrames(t *testing.T) {
	ls := newLinkServer(t)
	ls.greeting = `{"type":"query","query":"get.position"}`

	sink := &frameSink{}
	m := newManager(t, fastLink(ls.url()), sink.add)
	startManager(t, m)

	waitFor(t, 2*time.Second, func() bool { return sink.count() > 0 }, "no inbound frame delivered")
	assert.True(t, sink.contains(ls.greeting))
}

func TestSend_WritesFrameToServer(t *testing.T) {
	ls := newLinkServer(t)

	m := newManager(t, fastLink(ls.url()), nil)
	startManager(t, m)

	waitFor(t, 2*time.Second, m.Connected, "link never came up")

	m.Send([]byte(`{"type":"event","event":"route.complete"}`))

	waitFor(t, 2*time.Second, func() bool { return ls.frameCount() == 1 }, "frame never reached the server")
}

func TestSend_NoopWhileDisconnected(t *testing.T) {
	m := newManager(t, fastLink("ws://127.0.0.1:1/ws"), nil)

	// Never ran: must neither block nor panic.
	m.Send([]byte("dropped"))
	assert.False(t, m.Connected())
}

func TestRun_RedialsAfterServerClose(t *testing.T) {
	ls := newLinkServer(t)
	ls.closeFirst = true

	m := newManager(t, fastLink(ls.url()), nil)
	startManager(t, m)

	waitFor(t, 2*time.Second, func() bool { return ls.connCount() >= 2 }, "manager never redialed")
	waitFor(t, 2*time.Second, m.Connected, "second connection never established")

	m.Send([]byte("after-redial"))
	waitFor(t, 2*time.Second, func() bool { return ls.frameCount() == 1 }, "frame not delivered on the redialed link")
}

func TestRun_SurvivesUnreachableEndpoint(t *testing.T) {
	// Nothing listens here; every dial fails.
	m := newManager(t, fastLink("ws://127.0.0.1:1/ws"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(60 * time.Millisecond) // a few failed dial cycles
	assert.False(t, m.Connected())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestConnected_TracksLinkState(t *testing.T) {
	ls := newLinkServer(t)

	m := newManager(t, fastLink(ls.url()), nil)
	assert.False(t, m.Connected())

	startManager(t, m)
	waitFor(t, 2*time.Second, m.Connected, "link never came up")
}

func TestDial_AttachesSecret(t *testing.T) {
	ls := newLinkServer(t)

	cfg := fastLink(ls.url())
	cfg.Secret = "hush"
	m := newManager(t, cfg, nil)
	startManager(t, m)

	waitFor(t, 2*time.Second, m.Connected, "link never came up")
	assert.Equal(t, "hush", ls.firstSecret())
}

func TestNew_AppliesDefaults(t *testing.T) {
	m, err := New(config.LinkConfig{URL: "ws://example.invalid/ws"}, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, defaultReconnectDelay, m.cfg.ReconnectDelay)
	assert.Equal(t, defaultSendBuffer, m.cfg.SendBuffer)
}
