package geo

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v3"
)

// CellPolygon returns the boundary of an H3 cell as a closed lon/lat polygon.
func CellPolygon(hexID string) (orb.Polygon, error) {
	idx := h3.FromString(hexID)
	if !h3.IsValid(idx) {
		return nil, eris.Errorf("geo: invalid h3 cell %q", hexID)
	}
	boundary := h3.ToGeoBoundary(idx)
	ring := make(orb.Ring, 0, len(boundary)+1)
	for _, c := range boundary {
		ring = append(ring, orb.Point{c.Longitude, c.Latitude})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}, nil
}

// CellAt returns the H3 cell id containing a lon/lat point at resolution
// res, or "" when res is outside 0..15.
func CellAt(p orb.Point, res int) string {
	if res < 0 || res > 15 {
		return ""
	}
	idx := h3.FromGeo(h3.GeoCoord{Latitude: p[1], Longitude: p[0]}, res)
	if !h3.IsValid(idx) {
		return ""
	}
	return h3.ToString(idx)
}
