package v1

import (
	"sort"
	"time"

	"simbridge/pkg/core"
)

// RunData contains all the data needed to build an export
type RunData struct {
	Info         core.SessionInfo
	Duration     float64
	Tracks       map[string][]core.TrackSample // keyed by target ID
	Routes       []core.RouteRecord
	SpeedChanges []core.SpeedChange
	Events       []core.EventRecord
}

// Build creates a Run from the recorded data
func Build(data *RunData) Run {
	run := Run{
		FormatVersion:   FormatVersion,
		SceneName:       data.Info.SceneName,
		AnchorLatitude:  data.Info.AnchorLat,
		AnchorLongitude: data.Info.AnchorLon,
		StartedAt:       data.Info.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds: data.Duration,
		Tag:             data.Info.Tag,
		Targets:         make([]Target, 0, len(data.Tracks)),
		Routes:          make([][]any, 0, len(data.Routes)),
		SpeedChanges:    make([][]any, 0, len(data.SpeedChanges)),
		Events:          make([][]any, 0, len(data.Events)),
	}

	// Stable target order so repeated exports of the same run are comparable
	ids := make([]string, 0, len(data.Tracks))
	for id := range data.Tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		samples := data.Tracks[id]
		target := Target{
			ID:      id,
			Samples: make([][]any, 0, len(samples)),
		}

		for _, s := range samples {
			// Format: [tSim, [x, y, z], speedMps, waypointIndex, routeActive]
			target.Samples = append(target.Samples, []any{
				s.TSim,
				[]float64{s.Position.X, s.Position.Y, s.Position.Z},
				s.Speed,
				s.WaypointIndex,
				boolToInt(s.RouteActive),
			})
		}

		run.Targets = append(run.Targets, target)
	}

	// Format: [tSim, targetId, msgId, status, lengthM, speedMps|null, [[x,y,z], ...]]
	for _, r := range data.Routes {
		waypoints := make([][]float64, len(r.Waypoints))
		for i, wp := range r.Waypoints {
			waypoints[i] = []float64{wp.X, wp.Y, wp.Z}
		}

		run.Routes = append(run.Routes, []any{
			r.TSim,
			r.TargetID,
			r.MsgID,
			r.Status,
			r.Length,
			floatOrNil(r.Speed),
			waypoints,
		})
	}

	// Format: [tSim, targetId, msgId, speedMps|null, accelUp|null, accelDown|null]
	for _, c := range data.SpeedChanges {
		run.SpeedChanges = append(run.SpeedChanges, []any{
			c.TSim,
			c.TargetID,
			c.MsgID,
			floatOrNil(c.Speed),
			floatOrNil(c.AccelUp),
			floatOrNil(c.AccelDown),
		})
	}

	// Format: [tSim, name, targetId, refMsgId, detail]
	for _, e := range data.Events {
		run.Events = append(run.Events, []any{
			e.TSim,
			e.Name,
			e.TargetID,
			e.RefMsgID,
			e.Detail,
		})
	}

	return run
}

// floatOrNil keeps optional numbers as JSON null rather than a sentinel.
func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
