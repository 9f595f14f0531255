// Package convert maps in-memory run records onto GORM rows. Positions are
// projected through the scene anchor on the way in, so rows carry
// GIS-friendly EPSG:3857 coordinates.
package convert

import (
	"database/sql"
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"simbridge/internal/geo"
	"simbridge/internal/model"
	"simbridge/pkg/core"
)

// localToPoint projects a local position into an EPSG:3857 point.
func localToPoint(anchor *geo.Anchor, p core.Vec3) geom.Point {
	e, n := anchor.ToMercator(p)
	coords := geom.Coordinates{XY: geom.XY{X: e, Y: n}}
	return geom.NewPoint(coords)
}

// waypointsToLineString projects a waypoint path into an EPSG:3857 ground
// track, dropping altitude.
func waypointsToLineString(anchor *geo.Anchor, wps []core.Vec3) geom.LineString {
	if len(wps) < 2 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(wps)*2)
	for _, wp := range wps {
		e, n := anchor.ToMercator(wp)
		coords = append(coords, e, n)
	}
	seq := geom.NewSequence(coords, geom.DimXY)
	return geom.NewLineString(seq)
}

// waypointsToJSON keeps the raw local-frame waypoints for replay.
func waypointsToJSON(wps []core.Vec3) datatypes.JSON {
	if len(wps) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(wps)
	return datatypes.JSON(data)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// TrackSampleToRow converts a core.TrackSample to a GORM model.TrackSample.
// at is the host time the sample was taken.
func TrackSampleToRow(anchor *geo.Anchor, s core.TrackSample, at time.Time) model.TrackSample {
	return model.TrackSample{
		Time:          at,
		TargetID:      s.TargetID,
		TSim:          s.TSim,
		Position:      localToPoint(anchor, s.Position),
		ElevationM:    s.Position.Y,
		SpeedMps:      s.Speed,
		WaypointIndex: s.WaypointIndex,
		RouteActive:   s.RouteActive,
	}
}

// RouteToRow converts a core.RouteRecord to a GORM model.RouteRecord.
func RouteToRow(anchor *geo.Anchor, r core.RouteRecord, at time.Time) model.RouteRecord {
	return model.RouteRecord{
		Time:         at,
		TargetID:     r.TargetID,
		MsgID:        r.MsgID,
		TSim:         r.TSim,
		Waypoints:    waypointsToJSON(r.Waypoints),
		GroundTrack:  waypointsToLineString(anchor, r.Waypoints),
		LengthMeters: r.Length,
		SpeedMps:     nullFloat(r.Speed),
		Status:       r.Status,
	}
}

// SpeedChangeToRow converts a core.SpeedChange to a GORM model.SpeedChange.
func SpeedChangeToRow(c core.SpeedChange, at time.Time) model.SpeedChange {
	return model.SpeedChange{
		Time:          at,
		TargetID:      c.TargetID,
		MsgID:         c.MsgID,
		TSim:          c.TSim,
		SpeedMps:      nullFloat(c.Speed),
		AccelUpMps2:   nullFloat(c.AccelUp),
		AccelDownMps2: nullFloat(c.AccelDown),
	}
}

// EventToRow converts a core.EventRecord to a GORM model.EventRecord.
func EventToRow(e core.EventRecord) model.EventRecord {
	return model.EventRecord{
		Time:     e.Time,
		TSim:     e.TSim,
		Name:     e.Name,
		TargetID: e.TargetID,
		RefMsgID: e.RefMsgID,
		Detail:   e.Detail,
	}
}
