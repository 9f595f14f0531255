// pkg/core/types.go
package core

import "math"

// Vec3 is a position or displacement in the world's local frame, metres.
// Axis keys are lowercase to match the wire protocol.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Length returns the euclidean norm of v.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// DistanceTo returns the euclidean distance between v and w.
func (v Vec3) DistanceTo(w Vec3) float64 { return w.Sub(v).Length() }

// Lerp returns the point a fraction t of the way from v to w.
func (v Vec3) Lerp(w Vec3, t float64) Vec3 {
	return Vec3{
		X: v.X + (w.X-v.X)*t,
		Y: v.Y + (w.Y-v.Y)*t,
		Z: v.Z + (w.Z-v.Z)*t,
	}
}

// Pose is a position plus a yaw heading in degrees.
type Pose struct {
	Position Vec3
	YawDeg   float64
}
