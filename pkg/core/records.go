// pkg/core/records.go
package core

import "time"

// SessionInfo identifies the run that records are persisted under.
// Database backends assign ID from the inserted session row.
type SessionInfo struct {
	ID        uint
	SceneName string
	AnchorLat float64
	AnchorLon float64
	StartedAt time.Time
	Tag       string
}

// TrackSample is one position/speed sample of a movable object.
type TrackSample struct {
	TargetID      string
	TSim          float64
	Position      Vec3
	Speed         float64
	WaypointIndex int
	RouteActive   bool
}

// RouteRecord statuses.
const (
	RouteStatusAccepted = "accepted"
	RouteStatusComplete = "complete"
	RouteStatusCanceled = "canceled"
)

// RouteRecord captures a route accepted by an object, and later its
// completion or cancellation.
type RouteRecord struct {
	TargetID  string
	MsgID     string
	Waypoints []Vec3
	Speed     *float64
	Length    float64
	TSim      float64
	Status    string
}

// SpeedChange captures an applied cruise-speed command.
type SpeedChange struct {
	TargetID  string
	MsgID     string
	Speed     *float64
	AccelUp   *float64
	AccelDown *float64
	TSim      float64
}

// EventRecord is a protocol event worth persisting (acks, errors, completions).
type EventRecord struct {
	Name     string
	TargetID string
	RefMsgID string
	Detail   string
	TSim     float64
	Time     time.Time
}

// RunMetadata describes an exported run artifact for upload.
type RunMetadata struct {
	SceneName string
	StartedAt time.Time
	Duration  float64 // simulated seconds covered by the run
	Tag       string
}
