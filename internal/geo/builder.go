// Package geo holds the route toolkit: waypoint path builders, path
// metrics, and the geodetic anchor that maps the scene's local frame
// (X east, Z north, Y up) into web-mercator coordinates.
package geo

import (
	"math"

	"simbridge/pkg/core"
)

// dedupeEpsilon collapses consecutive points that agree within this
// distance on every axis, so sampled segment seams don't produce
// duplicate waypoints.
const dedupeEpsilon = 1e-6

// Builder accumulates a waypoint path from sampled segments.
type Builder struct {
	points []core.Vec3
}

// NewBuilder creates an empty path builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a point, skipping it when it coincides with the previous one.
func (b *Builder) Add(p core.Vec3) *Builder {
	if n := len(b.points); n > 0 {
		last := b.points[n-1]
		if math.Abs(last.X-p.X) < dedupeEpsilon &&
			math.Abs(last.Y-p.Y) < dedupeEpsilon &&
			math.Abs(last.Z-p.Z) < dedupeEpsilon {
			return b
		}
	}
	b.points = append(b.points, p)
	return b
}

// Line samples the segment from start to end, inclusive of both endpoints.
func (b *Builder) Line(start, end core.Vec3, segments int) *Builder {
	if segments < 1 {
		segments = 1
	}
	for step := 0; step <= segments; step++ {
		t := float64(step) / float64(segments)
		b.Add(start.Lerp(end, t))
	}
	return b
}

// Arc samples a circular arc in the XZ plane around center, inclusive of
// both endpoints; Y is taken from the center. Angles are in degrees.
func (b *Builder) Arc(center core.Vec3, radius, startDeg, endDeg float64, segments int) *Builder {
	if segments < 1 {
		segments = 1
	}
	startRad := startDeg * math.Pi / 180
	endRad := endDeg * math.Pi / 180
	for step := 0; step <= segments; step++ {
		t := float64(step) / float64(segments)
		angle := startRad + (endRad-startRad)*t
		b.Add(core.Vec3{
			X: center.X + radius*math.Cos(angle),
			Y: center.Y,
			Z: center.Z + radius*math.Sin(angle),
		})
	}
	return b
}

// Last returns the most recently added point.
func (b *Builder) Last() (core.Vec3, bool) {
	if len(b.points) == 0 {
		return core.Vec3{}, false
	}
	return b.points[len(b.points)-1], true
}

// Points returns a copy of the accumulated path.
func (b *Builder) Points() []core.Vec3 {
	out := make([]core.Vec3, len(b.points))
	copy(out, b.points)
	return out
}

// FromOffsets builds an absolute path from a start position and a chain of
// cumulative offsets.
func FromOffsets(start core.Vec3, offsets []core.Vec3) []core.Vec3 {
	points := make([]core.Vec3, 0, len(offsets)+1)
	points = append(points, start)
	cur := start
	for _, off := range offsets {
		cur = cur.Add(off)
		points = append(points, cur)
	}
	return points
}

// DemoCourse returns the built-in apron circuit: a straight, a tight turn,
// a climbing straight, a wide turn, and a descent back across the apron.
func DemoCourse() []core.Vec3 {
	b := NewBuilder()

	b.Line(core.Vec3{}, core.Vec3{X: 7}, 5)
	b.Arc(core.Vec3{X: 7, Z: 2.5}, 2.5, -90, 45, 10)

	turn1, _ := b.Last()
	b.Line(turn1, core.Vec3{X: 15, Y: 3, Z: 20}, 10)
	b.Arc(core.Vec3{X: 10, Y: 3, Z: 24}, 5, -60, 120, 16)

	turn2, _ := b.Last()
	b.Line(turn2, core.Vec3{Y: 2.5, Z: 28}, 8)

	return b.Points()
}
