package geo

import (
	"math"
	"sort"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// minRingArea drops slivers left by shared boundaries (square degrees).
const minRingArea = 1e-12

// Difference returns a minus the union of subtract. The result may be empty.
func Difference(a orb.Geometry, subtract []orb.Geometry) orb.MultiPolygon {
	res := geom.Polygonal(toPolygon(a))
	for _, s := range subtract {
		sp := toPolygon(s)
		if len(sp) == 0 {
			continue
		}
		res = res.Difference(sp)
		if res == nil {
			return nil
		}
	}
	return fromPolygons(res.Polygons())
}

// Union merges polygonal geometries into one multipolygon.
func Union(gs []orb.Geometry) orb.MultiPolygon {
	var res geom.Polygonal
	for _, g := range gs {
		p := toPolygon(g)
		if len(p) == 0 {
			continue
		}
		if res == nil {
			res = p
			continue
		}
		res = res.Union(p)
	}
	if res == nil {
		return nil
	}
	return fromPolygons(res.Polygons())
}

// toPolygon flattens the rings of a polygonal orb geometry into one
// ctessum polygon; overlay treats the paths as even-odd contours.
func toPolygon(g orb.Geometry) geom.Polygon {
	var out geom.Polygon
	addRing := func(r orb.Ring) {
		if len(r) < 3 {
			return
		}
		path := make(geom.Path, 0, len(r))
		for _, p := range r {
			path = append(path, geom.Point{X: p[0], Y: p[1]})
		}
		out = append(out, path)
	}
	switch g := g.(type) {
	case orb.Polygon:
		for _, r := range g {
			addRing(r)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, r := range poly {
				addRing(r)
			}
		}
	case orb.Ring:
		addRing(g)
	case orb.Bound:
		addRing(g.ToRing())
	}
	return out
}

// fromPolygons rebuilds shells and holes from overlay output by ring
// nesting depth: even depth is a shell, odd depth a hole of the innermost
// enclosing shell.
func fromPolygons(polys []geom.Polygon) orb.MultiPolygon {
	var rings []orb.Ring
	for _, poly := range polys {
		for _, path := range poly {
			if len(path) < 3 {
				continue
			}
			r := make(orb.Ring, 0, len(path)+1)
			for _, p := range path {
				r = append(r, orb.Point{p.X, p.Y})
			}
			if !r.Closed() {
				r = append(r, r[0])
			}
			if math.Abs(planar.Area(r)) < minRingArea {
				continue
			}
			rings = append(rings, r)
		}
	}

	areas := make([]float64, len(rings))
	for i, r := range rings {
		areas[i] = math.Abs(planar.Area(r))
	}
	// parent[i] is the smallest ring containing ring i, or -1
	depth := make([]int, len(rings))
	parent := make([]int, len(rings))
	for i, r := range rings {
		parent[i] = -1
		inner := interiorPoint(r)
		for j, other := range rings {
			if i == j || areas[j] <= areas[i] || !planar.RingContains(other, inner) {
				continue
			}
			depth[i]++
			if parent[i] < 0 || areas[j] < areas[parent[i]] {
				parent[i] = j
			}
		}
	}

	shellIdx := make(map[int]int)
	var mp orb.MultiPolygon
	order := make([]int, len(rings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return areas[order[a]] > areas[order[b]] })

	for _, i := range order {
		if depth[i]%2 != 0 {
			continue
		}
		r := rings[i]
		if r.Orientation() != orb.CCW {
			r.Reverse()
		}
		shellIdx[i] = len(mp)
		mp = append(mp, orb.Polygon{r})
	}
	for _, i := range order {
		if depth[i]%2 == 0 || parent[i] < 0 {
			continue
		}
		k, ok := shellIdx[parent[i]]
		if !ok {
			continue
		}
		r := rings[i]
		if r.Orientation() != orb.CW {
			r.Reverse()
		}
		mp[k] = append(mp[k], r)
	}
	return mp
}

// interiorPoint returns a point just inside the first edge of r, used to
// test nesting without landing on a shared vertex.
func interiorPoint(r orb.Ring) orb.Point {
	a, b := r[0], r[1]
	mid := orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return mid
	}
	// nudge to the left of the edge for CCW rings, right for CW
	s := 1e-9 * l
	if r.Orientation() == orb.CW {
		s = -s
	}
	return orb.Point{mid[0] - dy/l*s, mid[1] + dx/l*s}
}
