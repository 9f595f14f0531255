package world

import (
	"sync"
	"time"

	"simbridge/internal/scene"
)

// Session holds the live run: the loaded scene and when it started. It is
// the world-scoped state stamped onto persisted rows.
type Session struct {
	mu      sync.RWMutex
	scene   *scene.Scene
	started time.Time
}

// NewSession creates a session starting now, with no scene loaded yet.
func NewSession() *Session {
	return &Session{started: time.Now()}
}

// SetScene installs the loaded scene.
func (s *Session) SetScene(sc *scene.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scene = sc
}

// Scene returns the loaded scene, or nil before SetScene.
func (s *Session) Scene() *scene.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scene
}

// SceneName returns the loaded scene's name, or a placeholder before one
// is set.
func (s *Session) SceneName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.scene == nil {
		return "no scene loaded"
	}
	return s.scene.Name
}

// StartedAt returns the wall-clock session start.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Elapsed returns wall time since the session started.
func (s *Session) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.started)
}
