package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Distance returns the planar distance from p to g. Points inside a
// polygon are at distance 0. An empty geometry is infinitely far.
func Distance(p orb.Point, g orb.Geometry) float64 {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) > 0 && planar.PolygonContains(g, p) {
			return 0
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(g, p) {
			return 0
		}
	case orb.Collection:
		best := math.Inf(1)
		for _, c := range g {
			best = math.Min(best, Distance(p, c))
		}
		return best
	}
	if g == nil || isEmpty(g) {
		return math.Inf(1)
	}
	return planar.DistanceFrom(g, p)
}

// WithinRadius reports whether g lies entirely inside the open disc of
// radius r around c. The disc is convex, so checking vertices suffices.
func WithinRadius(c orb.Point, g orb.Geometry, r float64) bool {
	if g == nil || isEmpty(g) {
		return false
	}
	r2 := r * r
	within := true
	eachPoint(g, func(p orb.Point) {
		if within && planar.DistanceSquared(c, p) >= r2 {
			within = false
		}
	})
	return within
}

func isEmpty(g orb.Geometry) bool {
	empty := true
	eachPoint(g, func(orb.Point) { empty = false })
	return empty
}

// eachPoint visits every vertex of g.
func eachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			eachPoint(ls, fn)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.Polygon:
		for _, r := range g {
			eachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			eachPoint(poly, fn)
		}
	case orb.Collection:
		for _, c := range g {
			eachPoint(c, fn)
		}
	case orb.Bound:
		eachPoint(g.ToPolygon(), fn)
	}
}
