// internal/geo/track.go

package geo

import (
	"github.com/peterstace/simplefeatures/geom"

	"simbridge/pkg/core"
)

// PathLength returns the 3D length of a waypoint path.
func PathLength(points []core.Vec3) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += points[i-1].DistanceTo(points[i])
	}
	return total
}

// GroundTrack returns the horizontal projection of a path as WKT, for
// GIS-friendly storage of planned routes. Altitude is dropped. Paths with
// fewer than two points produce an empty linestring.
func GroundTrack(points []core.Vec3) string {
	if len(points) < 2 {
		return geom.LineString{}.AsText()
	}
	coords := make([]float64, 0, len(points)*2)
	for _, p := range points {
		coords = append(coords, p.X, p.Z)
	}
	seq := geom.NewSequence(coords, geom.DimXY)
	return geom.NewLineString(seq).AsText()
}
