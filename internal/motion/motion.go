// Package motion implements per-object route-following kinematics.
//
// Each Engine owns one object's motion state behind its own mutex; the
// world host calls Tick once per object per simulation step and never
// holds more than one engine's lock at a time.
package motion

import (
	"math"
	"slices"
	"sync"

	"simbridge/pkg/core"
)

// State is the engine's route-following state.
type State int

const (
	// Idle means no active route; Tick is a no-op.
	Idle State = iota
	// Following means the engine is moving along its waypoint list.
	Following
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Following:
		return "following"
	default:
		return "unknown"
	}
}

// Limits bound an engine's kinematics. MinSpeed and MaxSpeed clamp the
// current speed every tick; AccelUp and AccelDown are the default ramp
// rates (m/s²) until a command overrides them.
type Limits struct {
	MinSpeed          float64
	MaxSpeed          float64
	AccelUp           float64
	AccelDown         float64
	WaypointTolerance float64
	SpeedEpsilon      float64
	RotateWhenStopped bool
}

// Status is a consistent snapshot of an engine, taken under one lock.
type Status struct {
	Pose          core.Pose
	Speed         float64
	TargetSpeed   float64
	State         State
	WaypointIndex int
}

// Engine drives one object along routes. Zero or one route is active at a
// time; starting a new route replaces the old one.
type Engine struct {
	mu sync.Mutex

	limits    Limits
	yawOffset float64 // authored rotation, added to the travel heading

	pose  core.Pose
	state State

	waypoints []core.Vec3
	wpIndex   int

	current   float64
	target    float64
	accelUp   float64
	accelDown float64

	// completion latch for the active route
	completed bool
	observers []func()
}

// New creates an engine at the given start position. yawOffsetDeg is the
// object's authored rotation; it is also the initial yaw.
func New(limits Limits, start core.Vec3, yawOffsetDeg float64) *Engine {
	return &Engine{
		limits:    limits,
		yawOffset: yawOffsetDeg,
		pose:      core.Pose{Position: start, YawDeg: yawOffsetDeg},
		state:     Idle,
		accelUp:   limits.AccelUp,
		accelDown: limits.AccelDown,
	}
}

// OnRouteComplete subscribes fn to route completions. Observers run
// synchronously from the completing Tick, in registration order, exactly
// once per completed route.
func (e *Engine) OnRouteComplete(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// StartRoute replaces any active route with the given waypoints and arms
// the completion latch. An empty waypoint list is ignored. A positive
// speed override sets the target speed, clamped into the limits.
func (e *Engine) StartRoute(waypoints []core.Vec3, speedOverride *float64) bool {
	if len(waypoints) == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.waypoints = slices.Clone(waypoints)
	e.wpIndex = 0
	e.state = Following
	e.completed = false

	if speedOverride != nil && *speedOverride > 0 {
		e.target = e.clampSpeed(*speedOverride)
	}
	return true
}

// SetTargetSpeed sets the speed the ramp converges to, clamped into the
// limits. Non-nil accel overrides replace the ramp rates (negative values
// are treated as zero). Callable any time, including while idle; takes
// effect on the next tick.
func (e *Engine) SetTargetSpeed(speed float64, accelUp, accelDown *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.target = e.clampSpeed(speed)
	if accelUp != nil {
		e.accelUp = math.Max(0, *accelUp)
	}
	if accelDown != nil {
		e.accelDown = math.Max(0, *accelDown)
	}
}

// StopNow zeroes the current and target speed immediately. The active
// route is kept; raising the target speed resumes it.
func (e *Engine) StopNow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = 0
	e.target = 0
}

// CancelRoute drops the active route without firing completion. Calling it
// on an idle engine is a no-op.
func (e *Engine) CancelRoute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	e.waypoints = nil
	e.wpIndex = 0
}

// Tick advances the engine by dt seconds. It ramps the speed, moves along
// the route, and fires completion observers when the last waypoint is
// reached. Observers run after the engine's lock is released so they may
// call back into the engine.
func (e *Engine) Tick(dt float64) {
	if dt <= 0 {
		return
	}

	e.mu.Lock()

	if e.state != Following {
		e.mu.Unlock()
		return
	}

	e.ramp(dt)

	if e.current < e.limits.SpeedEpsilon {
		if e.limits.RotateWhenStopped {
			e.face()
		}
		e.mu.Unlock()
		return
	}

	done := e.advance(dt)

	var observers []func()
	if done {
		observers = e.observers
	}
	e.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Pose returns the current position and yaw.
func (e *Engine) Pose() core.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// Position returns the current position.
func (e *Engine) Position() core.Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose.Position
}

// Speed returns the current speed in m/s.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// State returns the route-following state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a consistent snapshot for telemetry sampling.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Pose:          e.pose,
		Speed:         e.current,
		TargetSpeed:   e.target,
		State:         e.state,
		WaypointIndex: e.wpIndex,
	}
}

// ramp moves the current speed toward the target without overshooting,
// then clamps it into the limits. Caller holds the lock.
func (e *Engine) ramp(dt float64) {
	delta := e.target - e.current
	if delta != 0 {
		accel := e.accelUp
		if delta < 0 {
			accel = e.accelDown
		}
		step := math.Min(accel*dt, math.Abs(delta))
		if delta < 0 {
			e.current -= step
		} else {
			e.current += step
		}
	}
	e.current = e.clampSpeed(e.current)
}

// face rotates in place toward the current waypoint. Caller holds the lock.
func (e *Engine) face() {
	to := e.waypoints[e.wpIndex].Sub(e.pose.Position)
	if heading, ok := headingDeg(to); ok {
		e.pose.YawDeg = heading + e.yawOffset
	}
}

// advance moves toward the current waypoint by at most current·dt and
// advances the waypoint index at most once. Returns true when the route
// just completed. Caller holds the lock.
func (e *Engine) advance(dt float64) bool {
	wp := e.waypoints[e.wpIndex]
	to := wp.Sub(e.pose.Position)
	dist := to.Length()

	if heading, ok := headingDeg(to); ok {
		e.pose.YawDeg = heading + e.yawOffset
	}

	if step := e.current * dt; step < dist {
		e.pose.Position = e.pose.Position.Add(to.Scale(step / dist))
		dist -= step
	} else {
		e.pose.Position = wp
		dist = 0
	}

	if dist <= e.limits.WaypointTolerance {
		e.wpIndex++
		if e.wpIndex >= len(e.waypoints) {
			e.state = Idle
			if !e.completed {
				e.completed = true
				return true
			}
		}
	}
	return false
}

func (e *Engine) clampSpeed(v float64) float64 {
	return math.Min(math.Max(v, e.limits.MinSpeed), e.limits.MaxSpeed)
}

// headingDeg returns the direction of v in the horizontal XZ plane,
// degrees counterclockwise from +X. ok is false when v has no horizontal
// component to point along.
func headingDeg(v core.Vec3) (float64, bool) {
	if math.Abs(v.X) < 1e-9 && math.Abs(v.Z) < 1e-9 {
		return 0, false
	}
	return math.Atan2(v.Z, v.X) * 180 / math.Pi, true
}
