// Package registry indexes the scene's objects by identifier and owns the
// motion engines of the movable ones. It is built exactly once at startup,
// before the link comes up, and is read-only afterwards, so protocol
// handlers can look objects up without locking.
package registry

import (
	"log/slog"

	"simbridge/internal/motion"
	"simbridge/internal/scene"
	"simbridge/pkg/core"
)

// Entry pairs a scene object with its motion engine. Static objects carry
// a nil engine.
type Entry struct {
	Object scene.Object
	Engine *motion.Engine
}

// Position returns the object's current position: engine-driven for
// movable objects, authored for static ones.
func (e *Entry) Position() core.Vec3 {
	if e.Engine != nil {
		return e.Engine.Position()
	}
	return e.Object.Position
}

// Registry maps object identifiers to entries.
type Registry struct {
	entries map[string]*Entry
	order   []string
	logger  *slog.Logger
}

// Build constructs the registry from a scene scan. Objects with empty
// identifiers are skipped. On duplicate identifiers the last registration
// wins; earlier ones are discarded with a warning.
func Build(sc *scene.Scene, limits motion.Limits, logger *slog.Logger) *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}

	for _, obj := range sc.Scan() {
		if obj.ID == "" {
			logger.Debug("skipping object with empty identifier", "class", obj.Class)
			continue
		}

		if _, dup := r.entries[obj.ID]; dup {
			logger.Warn("duplicate object identifier, last registration wins", "id", obj.ID)
		} else {
			r.order = append(r.order, obj.ID)
		}

		entry := &Entry{Object: obj}
		if obj.Movable {
			entry.Engine = motion.New(withOverrides(limits, obj.Motion), obj.Position, obj.YawDeg)
		}
		r.entries[obj.ID] = entry
	}

	logger.Info("object registry built",
		"scene", sc.Name,
		"objects", len(r.entries),
		"movable", len(r.Movable()),
	)
	return r
}

// withOverrides layers per-object motion parameters over the configured
// defaults.
func withOverrides(limits motion.Limits, m *scene.MotionOverrides) motion.Limits {
	if m == nil {
		return limits
	}
	if m.MinSpeed != nil {
		limits.MinSpeed = *m.MinSpeed
	}
	if m.MaxSpeed != nil {
		limits.MaxSpeed = *m.MaxSpeed
	}
	if m.AccelUp != nil {
		limits.AccelUp = *m.AccelUp
	}
	if m.AccelDown != nil {
		limits.AccelDown = *m.AccelDown
	}
	return limits
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Engine returns the motion engine for id. ok is false when the object is
// unknown or static.
func (r *Registry) Engine(id string) (*motion.Engine, bool) {
	e, ok := r.entries[id]
	if !ok || e.Engine == nil {
		return nil, false
	}
	return e.Engine, true
}

// Movable returns the entries that carry engines, in scene order.
func (r *Registry) Movable() []*Entry {
	var out []*Entry
	for _, id := range r.order {
		if e := r.entries[id]; e.Engine != nil {
			out = append(out, e)
		}
	}
	return out
}

// IDs returns every identifier in scene order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	return len(r.entries)
}

// WireCompletions subscribes fn to every movable object's route
// completions, passing the object's identifier. Call once during startup,
// before the world host starts ticking.
func (r *Registry) WireCompletions(fn func(targetID string)) {
	for _, id := range r.order {
		e := r.entries[id]
		if e.Engine == nil {
			continue
		}
		targetID := id
		e.Engine.OnRouteComplete(func() {
			fn(targetID)
		})
	}
}
