// internal/orchestrator/server.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	ws "github.com/gorilla/websocket"

	"simbridge/internal/channel"
	"simbridge/internal/config"
)

// Server owns the orchestrator's HTTP listener: the WebSocket endpoint the
// bridge dials, a healthcheck, and the run-artifact ingest. Exactly one
// bridge is served at a time; a newly connecting bridge replaces the old
// one, whose connection is closed.
type Server struct {
	cfg      config.OrchestratorConfig
	logger   *slog.Logger
	upgrader ws.Upgrader

	// Accepted bridge connections, handed to whoever drives the scenario.
	bridges channel.Channel[*ws.Conn]

	mu      sync.Mutex
	current *ws.Conn

	httpSrv *http.Server
}

// NewServer builds the server around its listen address and data directory.
func NewServer(cfg config.OrchestratorConfig, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bridges: channel.New[*ws.Conn](1),
	}
	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: s.Handler()}
	return s
}

// Bridges exposes accepted bridge connections in arrival order.
func (s *Server) Bridges() channel.Receiver[*ws.Conn] {
	return s.bridges
}

// Handler returns the route table; exposed so tests can serve it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.HandleFunc("POST /api/v1/runs/add", s.handleRunAdd)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("orchestrator listening", "addr", s.cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener and closes the active bridge connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRunAdd ingests a finished run archive uploaded by the bridge and
// stores it under the data directory.
func (s *Server) handleRunAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}
	if s.cfg.Secret != "" && r.FormValue("secret") != s.cfg.Secret {
		s.logger.Warn("run upload rejected, bad secret", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(r.FormValue("filename"))
	if name == "" || name == "." {
		name = filepath.Base(hdr.Filename)
	}
	if name == "" || name == "." {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		s.logger.Error("creating data dir failed", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	dst, err := os.Create(filepath.Join(s.cfg.DataDir, name))
	if err != nil {
		s.logger.Error("creating run file failed", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	n, err := io.Copy(dst, file)
	if err != nil {
		s.logger.Error("writing run file failed", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("run artifact stored",
		"file", name,
		"bytes", n,
		"scene", r.FormValue("sceneName"),
		"duration_s", r.FormValue("durationSeconds"),
		"tag", r.FormValue("tag"))
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

// handleWS upgrades a bridge connection and hands it over. The previous
// bridge, if any, is closed so its bus winds down and the scenario picks up
// the new link.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret != "" && r.URL.Query().Get("secret") != s.cfg.Secret {
		s.logger.Warn("bridge rejected, bad secret", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.current != nil {
		s.logger.Info("new bridge replaces the previous one", "remote", r.RemoteAddr)
		_ = s.current.Close()
	}
	s.current = conn
	s.mu.Unlock()

	s.logger.Info("bridge connected", "remote", r.RemoteAddr)
	s.bridges.Send(conn)
}
