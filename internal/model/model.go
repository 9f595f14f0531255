package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent
// tables in the database schema.
var DatabaseModels = []interface{}{
	&Session{},
	&TrackSample{},
	&RouteRecord{},
	&SpeedChange{},
	&EventRecord{},
}

// Session is one bridge run against a loaded scene.
type Session struct {
	gorm.Model
	SceneName       string    `json:"sceneName" gorm:"size:200"`
	AnchorLatitude  float64   `json:"anchorLatitude"`
	AnchorLongitude float64   `json:"anchorLongitude"`
	StartTime       time.Time `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	DurationSeconds float64   `json:"durationSeconds"` // simulated seconds covered by the run
	Tag             string    `json:"tag" gorm:"size:127"`

	TrackSamples []TrackSample
	RouteRecords []RouteRecord
	SpeedChanges []SpeedChange
	EventRecords []EventRecord
}

func (*Session) TableName() string {
	return "sessions"
}

// TrackSample is one position/speed sample of a movable object.
type TrackSample struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;index:idx_tracksample_time"` // Host time when the sample was taken
	SessionID uint      `json:"sessionId" gorm:"index:idx_tracksample_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	TargetID  string    `json:"targetId" gorm:"size:64;index:idx_tracksample_target_id"` // Scene identifier of the object
	TSim      float64   `json:"tSim" gorm:"index:idx_tracksample_t_sim"`                 // Simulation seconds since run start

	Position      geom.Point `json:"position"`     // Ground position as EPSG:3857 point
	ElevationM    float64    `json:"elevationM"`   // Height above the scene plane in metres
	SpeedMps      float64    `json:"speedMps"`     // Current speed along the route
	WaypointIndex int        `json:"waypointIndex"`
	RouteActive   bool       `json:"routeActive" gorm:"default:false"` // Whether the object was following a route
}

func (*TrackSample) TableName() string {
	return "track_samples"
}

// RouteRecord captures a route accepted by an object, and later its
// completion or cancellation.
type RouteRecord struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"` // Host time when the status was recorded
	SessionID uint      `json:"sessionId" gorm:"index:idx_routerecord_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	TargetID  string    `json:"targetId" gorm:"size:64;index:idx_routerecord_target_id"`
	MsgID     string    `json:"msgId" gorm:"size:64;index:idx_routerecord_msg_id"` // Command token of the set.route that started it
	TSim      float64   `json:"tSim"`

	Waypoints    datatypes.JSON  `json:"waypoints" gorm:"type:jsonb;default:'[]'"` // Local-frame waypoints as JSON array
	GroundTrack  geom.LineString `json:"-"`                                        // EPSG:3857 projection of the route
	LengthMeters float64         `json:"lengthMeters"`                             // 3D path length in the local frame
	SpeedMps     sql.NullFloat64 `json:"speedMps" gorm:"default:NULL"`             // Commanded speed (null = ride the current cruise target)
	Status       string          `json:"status" gorm:"size:16;index:idx_routerecord_status"` // accepted, complete, canceled
}

func (*RouteRecord) TableName() string {
	return "route_records"
}

// SpeedChange captures an applied cruise-speed command.
type SpeedChange struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_speedchange_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	TargetID  string    `json:"targetId" gorm:"size:64;index:idx_speedchange_target_id"`
	MsgID     string    `json:"msgId" gorm:"size:64"`
	TSim      float64   `json:"tSim"`

	SpeedMps      sql.NullFloat64 `json:"speedMps" gorm:"default:NULL"`  // null = command only touched acceleration
	AccelUpMps2   sql.NullFloat64 `json:"accelUp" gorm:"default:NULL"`   // null = limit left unchanged
	AccelDownMps2 sql.NullFloat64 `json:"accelDown" gorm:"default:NULL"` // null = limit left unchanged
}

func (*SpeedChange) TableName() string {
	return "speed_changes"
}

// EventRecord is a protocol event worth persisting: acks, errors and route
// completions.
type EventRecord struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_eventrecord_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	TSim      float64   `json:"tSim"`

	Name     string `json:"name" gorm:"size:64;index:idx_eventrecord_name"` // Wire event name, e.g. route.complete
	TargetID string `json:"targetId" gorm:"size:64"`
	RefMsgID string `json:"refMsgId" gorm:"size:64"` // Echoed command token, empty for unsolicited events
	Detail   string `json:"detail" gorm:"size:256"`
}

func (*EventRecord) TableName() string {
	return "event_records"
}
