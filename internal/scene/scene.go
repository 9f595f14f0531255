// Package scene loads the world content the registry is built from: placed
// objects with identifiers, poses, and motion overrides, plus the geodetic
// anchor that georeferences the local frame.
package scene

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"simbridge/pkg/core"
)

// MotionOverrides are optional per-object kinematic limits. Nil fields keep
// the configured defaults.
type MotionOverrides struct {
	MinSpeed  *float64 `json:"min_speed,omitempty"`
	MaxSpeed  *float64 `json:"max_speed,omitempty"`
	AccelUp   *float64 `json:"accel_up,omitempty"`
	AccelDown *float64 `json:"accel_down,omitempty"`
}

// Object is one placed thing in the scene. Movable objects get a motion
// engine; static ones only answer position queries.
type Object struct {
	ID       string           `json:"id"`
	Class    string           `json:"class"`
	Position core.Vec3        `json:"position"`
	YawDeg   float64          `json:"yaw_deg"`
	Movable  bool             `json:"movable"`
	Motion   *MotionOverrides `json:"motion,omitempty"`
}

// Anchor georeferences the scene's local metric frame.
type Anchor struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Scene is a named collection of placed objects.
type Scene struct {
	Name    string   `json:"name"`
	Anchor  Anchor   `json:"anchor"`
	Objects []Object `json:"objects"`
}

// Load reads a scene document from disk. A scene without a name takes the
// file's base name.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}

	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scene file %s: %w", path, err)
	}

	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(s.Objects) == 0 {
		return nil, fmt.Errorf("scene %s contains no objects", s.Name)
	}

	return &s, nil
}

// Demo returns the built-in three-cube apron scene used when no scene file
// is configured.
func Demo() *Scene {
	return &Scene{
		Name:   "demo-apron",
		Anchor: Anchor{Lat: 45.6306, Lon: 8.7281},
		Objects: []Object{
			{ID: "CUBE_1", Class: "cube", Position: core.Vec3{}, Movable: true},
			{ID: "CUBE_2", Class: "cube", Position: core.Vec3{X: 20, Z: 10}, YawDeg: 90, Movable: true},
			{ID: "CUBE_3", Class: "cube", Position: core.Vec3{X: -15, Z: 25}, Movable: true},
		},
	}
}

// Scan returns the placed objects in declaration order.
func (s *Scene) Scan() []Object {
	out := make([]Object, len(s.Objects))
	copy(out, s.Objects)
	return out
}
