// Package raster holds single-band grids in memory and reads them from
// GeoTIFF (godal) and NetCDF (go-netcdf).
package raster

import (
	"math"

	"github.com/paulmach/orb"
)

// Grid is a north-up single-band raster. GeoTransform follows the GDAL
// convention: x = gt[0] + col*gt[1], y = gt[3] + row*gt[5]. Rotation terms
// are ignored. NaN marks nodata.
type Grid struct {
	GeoTransform [6]float64
	Width        int
	Height       int
	Data         []float64
}

// New returns a width×height grid filled with NaN.
func New(gt [6]float64, width, height int) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{GeoTransform: gt, Width: width, Height: height, Data: data}
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Data = append([]float64(nil), g.Data...)
	return &out
}

// SameShape reports whether o has the same size and georeferencing as g.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.GeoTransform == o.GeoTransform
}

// At returns the value at col,row or NaN when outside the grid.
func (g *Grid) At(col, row int) float64 {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return math.NaN()
	}
	return g.Data[row*g.Width+col]
}

// Set stores v at col,row; out-of-range writes are ignored.
func (g *Grid) Set(col, row int, v float64) {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return
	}
	g.Data[row*g.Width+col] = v
}

// Index returns the pixel containing x,y.
func (g *Grid) Index(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - g.GeoTransform[0]) / g.GeoTransform[1]))
	row = int(math.Floor((y - g.GeoTransform[3]) / g.GeoTransform[5]))
	ok = col >= 0 && row >= 0 && col < g.Width && row < g.Height
	return col, row, ok
}

// Nearest returns the pixel whose centre is nearest to x,y on each axis
// independently, clamped to the grid edge.
func (g *Grid) Nearest(x, y float64) (col, row int) {
	col = int(math.Floor((x - g.GeoTransform[0]) / g.GeoTransform[1]))
	row = int(math.Floor((y - g.GeoTransform[3]) / g.GeoTransform[5]))
	return clamp(col, g.Width-1), clamp(row, g.Height-1)
}

// Sample returns the nearest pixel value to x,y.
func (g *Grid) Sample(x, y float64) float64 {
	col, row := g.Nearest(x, y)
	return g.At(col, row)
}

// PixelCenter returns the coordinate of a pixel centre.
func (g *Grid) PixelCenter(col, row int) orb.Point {
	return orb.Point{
		g.GeoTransform[0] + (float64(col)+0.5)*g.GeoTransform[1],
		g.GeoTransform[3] + (float64(row)+0.5)*g.GeoTransform[5],
	}
}

// Bounds returns the grid extent.
func (g *Grid) Bounds() orb.Bound {
	x0 := g.GeoTransform[0]
	x1 := x0 + float64(g.Width)*g.GeoTransform[1]
	y0 := g.GeoTransform[3]
	y1 := y0 + float64(g.Height)*g.GeoTransform[5]
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Window returns the half-open pixel range [c0,c1)×[r0,r1) covering b,
// clipped to the grid. ok is false when b misses the grid.
func (g *Grid) Window(b orb.Bound) (c0, r0, c1, r1 int, ok bool) {
	ca := (b.Min[0] - g.GeoTransform[0]) / g.GeoTransform[1]
	cb := (b.Max[0] - g.GeoTransform[0]) / g.GeoTransform[1]
	ra := (b.Min[1] - g.GeoTransform[3]) / g.GeoTransform[5]
	rb := (b.Max[1] - g.GeoTransform[3]) / g.GeoTransform[5]

	c0 = max(int(math.Floor(math.Min(ca, cb))), 0)
	c1 = min(int(math.Floor(math.Max(ca, cb)))+1, g.Width)
	r0 = max(int(math.Floor(math.Min(ra, rb))), 0)
	r1 = min(int(math.Floor(math.Max(ra, rb)))+1, g.Height)
	ok = c0 < c1 && r0 < r1
	return c0, r0, c1, r1, ok
}

// Crop returns the sub-grid covering b, or nil when b misses the grid.
func (g *Grid) Crop(b orb.Bound) *Grid {
	c0, r0, c1, r1, ok := g.Window(b)
	if !ok {
		return nil
	}
	gt := g.GeoTransform
	gt[0] += float64(c0) * gt[1]
	gt[3] += float64(r0) * gt[5]
	out := &Grid{GeoTransform: gt, Width: c1 - c0, Height: r1 - r0}
	out.Data = make([]float64, out.Width*out.Height)
	for r := r0; r < r1; r++ {
		copy(out.Data[(r-r0)*out.Width:(r-r0+1)*out.Width], g.Data[r*g.Width+c0:r*g.Width+c1])
	}
	return out
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
