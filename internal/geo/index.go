package geo

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"
)

// HazardIndex answers nearest-distance and radius queries over a fixed set
// of planar geometries. Callers project to EPSG:3857 before indexing.
type HazardIndex struct {
	tree   *rtree.Rtree
	geoms  []orb.Geometry
	extent orb.Bound
	seed   float64
}

type indexEntry struct {
	geom.Polygonal
	id int
}

// NewHazardIndex indexes geoms by bounding box. Nil or empty geometries are
// skipped but keep their id slot.
func NewHazardIndex(geoms []orb.Geometry) *HazardIndex {
	ix := &HazardIndex{tree: rtree.NewTree(25, 50), geoms: geoms}
	n := 0
	for i, g := range geoms {
		if g == nil || isEmpty(g) {
			continue
		}
		b := g.Bound()
		if n == 0 {
			ix.extent = b
		} else {
			ix.extent = ix.extent.Union(b)
		}
		n++
		ix.tree.Insert(&indexEntry{Polygonal: toBounds(b), id: i})
	}
	if n > 0 {
		w := ix.extent.Max[0] - ix.extent.Min[0]
		h := ix.extent.Max[1] - ix.extent.Min[1]
		ix.seed = math.Max(math.Sqrt(w*h/float64(n)), 100)
	}
	return ix
}

// Len returns the number of indexed slots.
func (ix *HazardIndex) Len() int { return len(ix.geoms) }

// Geometry returns the geometry stored under id.
func (ix *HazardIndex) Geometry(id int) orb.Geometry { return ix.geoms[id] }

// Nearest returns the distance from p to the closest geometry and its id.
// An empty index or a non-finite p returns +Inf and -1.
func (ix *HazardIndex) Nearest(p orb.Point) (float64, int) {
	if ix.seed == 0 || !finite(p[0]) || !finite(p[1]) {
		return math.Inf(1), -1
	}
	r := ix.seed
	for finite(r) {
		d, id := ix.closestIn(p, r)
		if id >= 0 {
			if d <= r {
				return d, id
			}
			// everything at distance <= d has a bbox touching box(p, d)
			return ix.closestIn(p, d)
		}
		if ix.covers(p, r) {
			return math.Inf(1), -1
		}
		r *= 4
	}
	return math.Inf(1), -1
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// CountWithin counts geometries lying entirely inside the disc of radius r around p.
func (ix *HazardIndex) CountWithin(p orb.Point, r float64) int {
	n := 0
	for _, id := range ix.candidates(p, r) {
		if WithinRadius(p, ix.geoms[id], r) {
			n++
		}
	}
	return n
}

// Intersecting returns the ids of geometries at distance <= r from p.
func (ix *HazardIndex) Intersecting(p orb.Point, r float64) []int {
	var ids []int
	for _, id := range ix.candidates(p, r) {
		if Distance(p, ix.geoms[id]) <= r {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ix *HazardIndex) closestIn(p orb.Point, r float64) (float64, int) {
	best, bestID := math.Inf(1), -1
	for _, id := range ix.candidates(p, r) {
		if d := Distance(p, ix.geoms[id]); d < best || (d == best && id < bestID) {
			best, bestID = d, id
		}
	}
	return best, bestID
}

func (ix *HazardIndex) candidates(p orb.Point, r float64) []int {
	pad := r*1e-9 + 1e-9
	box := &geom.Bounds{
		Min: geom.Point{X: p[0] - r - pad, Y: p[1] - r - pad},
		Max: geom.Point{X: p[0] + r + pad, Y: p[1] + r + pad},
	}
	hits := ix.tree.SearchIntersect(box)
	ids := make([]int, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.(*indexEntry).id)
	}
	return ids
}

func (ix *HazardIndex) covers(p orb.Point, r float64) bool {
	return p[0]-r <= ix.extent.Min[0] && p[1]-r <= ix.extent.Min[1] &&
		p[0]+r >= ix.extent.Max[0] && p[1]+r >= ix.extent.Max[1]
}

func toBounds(b orb.Bound) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.Min[0], Y: b.Min[1]},
		Max: geom.Point{X: b.Max[0], Y: b.Max[1]},
	}
}
