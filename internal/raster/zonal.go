package raster

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Stats summarises the valid pixels of a zone. Std is the population
// standard deviation. With Count == 0 every other field is NaN.
type Stats struct {
	Count int
	Sum   float64
	Mean  float64
	Min   float64
	Max   float64
	Std   float64
}

// ZonalStats reduces the valid pixels whose centres lie inside the polygon.
func (g *Grid) ZonalStats(zone orb.Geometry) Stats {
	var vals []float64
	g.EachInside(zone, func(_, _ int, v float64) {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	})
	return Summarize(vals)
}

// Mean returns the mean of valid pixels with centres inside zone. When no
// pixel centre falls inside, the pixel containing the zone centroid is
// used. NaN when nothing valid remains.
func (g *Grid) Mean(zone orb.Geometry) float64 {
	var sum float64
	var n, inside int
	g.EachInside(zone, func(_, _ int, v float64) {
		inside++
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	})
	if inside == 0 {
		c, _ := planar.CentroidArea(zone)
		col, row, ok := g.Index(c[0], c[1])
		if !ok {
			return math.NaN()
		}
		return g.At(col, row)
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// EachInside calls fn for every pixel whose centre lies inside zone.
func (g *Grid) EachInside(zone orb.Geometry, fn func(col, row int, v float64)) {
	if zone == nil {
		return
	}
	c0, r0, c1, r1, ok := g.Window(zone.Bound())
	if !ok {
		return
	}
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			if Contains(zone, g.PixelCenter(col, row)) {
				fn(col, row, g.Data[row*g.Width+col])
			}
		}
	}
}

// Mask returns a copy of g with pixels outside every zone set to NaN.
func (g *Grid) Mask(zones []orb.Geometry) *Grid {
	out := New(g.GeoTransform, g.Width, g.Height)
	for _, z := range zones {
		g.EachInside(z, func(col, row int, v float64) {
			out.Data[row*g.Width+col] = v
		})
	}
	return out
}

// Contains reports whether p lies inside a polygonal geometry.
func Contains(zone orb.Geometry, p orb.Point) bool {
	switch z := zone.(type) {
	case orb.Polygon:
		return planar.PolygonContains(z, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(z, p)
	case orb.Bound:
		return z.Contains(p)
	case orb.Collection:
		for _, g := range z {
			if Contains(g, p) {
				return true
			}
		}
	}
	return false
}

// Summarize computes Stats over vals.
func Summarize(vals []float64) Stats {
	if len(vals) == 0 {
		nan := math.NaN()
		return Stats{Sum: nan, Mean: nan, Min: nan, Max: nan, Std: nan}
	}
	s := Stats{Count: len(vals), Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range vals {
		s.Sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = s.Sum / float64(s.Count)
	var ss float64
	for _, v := range vals {
		d := v - s.Mean
		ss += d * d
	}
	s.Std = math.Sqrt(ss / float64(s.Count))
	return s
}
