// Package v1 contains the v1 export format for recorded runs.
// Samples and events are positional arrays to keep long track files compact.
package v1

// Run is the root JSON structure for the v1 format
type Run struct {
	FormatVersion   int      `json:"formatVersion"`
	SceneName       string   `json:"sceneName"`
	AnchorLatitude  float64  `json:"anchorLat"`
	AnchorLongitude float64  `json:"anchorLon"`
	StartedAt       string   `json:"startedAt"` // RFC3339, UTC
	DurationSeconds float64  `json:"durationSeconds"`
	Tag             string   `json:"tag"`
	Targets         []Target `json:"targets"`
	Routes          [][]any  `json:"routes"`
	SpeedChanges    [][]any  `json:"speedChanges"`
	Events          [][]any  `json:"events"`
}

// Target is one movable object with its track samples
type Target struct {
	ID      string  `json:"id"`
	Samples [][]any `json:"samples"`
}

// FormatVersion is stamped into every export so readers can dispatch on it.
const FormatVersion = 1
