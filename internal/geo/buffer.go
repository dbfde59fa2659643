package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultSegments matches a quarter-circle resolution of 16.
const DefaultSegments = 64

// Circle approximates the disc of radius r around c with a closed ring of
// segments vertices, counter-clockwise. Units are those of c.
func Circle(c orb.Point, r float64, segments int) orb.Polygon {
	if segments < 4 {
		segments = DefaultSegments
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		a := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// BufferLonLat buffers a lon/lat point by metres in Web Mercator and
// returns the polygon in lon/lat.
func BufferLonLat(p orb.Point, metres float64, segments int) orb.Polygon {
	circle := Circle(PointToMercator(p), metres, segments)
	return ToWGS84(circle).(orb.Polygon)
}
