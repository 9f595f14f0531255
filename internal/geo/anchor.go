// internal/geo/anchor.go

package geo

import (
	"math"

	"github.com/wroge/wgs84"

	"simbridge/pkg/core"
)

// Anchor georeferences the scene's local frame at a geodetic point. Local
// offsets are metres on the ground; web-mercator coordinates stretch with
// latitude, so offsets are scaled by 1/cos(lat) before being added to the
// projected anchor.
//
// Everything is stored as EPSG:3857 because SQLite has no spatial
// awareness and we need plain numeric columns that survive migrations.
type Anchor struct {
	lat, lon float64
	easting  float64
	northing float64
	scale    float64
}

// NewAnchor projects the given latitude/longitude and precomputes the
// mercator scale factor.
func NewAnchor(lat, lon float64) *Anchor {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	e, n, _ := f(lon, lat, 0)
	return &Anchor{
		lat:      lat,
		lon:      lon,
		easting:  e,
		northing: n,
		scale:    1 / math.Cos(lat*math.Pi/180),
	}
}

// ToMercator maps a local position (X east, Z north) to EPSG:3857.
func (a *Anchor) ToMercator(p core.Vec3) (easting, northing float64) {
	return a.easting + p.X*a.scale, a.northing + p.Z*a.scale
}

// Lat returns the anchor latitude in degrees.
func (a *Anchor) Lat() float64 { return a.lat }

// Lon returns the anchor longitude in degrees.
func (a *Anchor) Lon() float64 { return a.lon }
