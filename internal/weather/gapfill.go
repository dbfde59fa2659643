package weather

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// neighbourOffsets is the fill order: three steps back, then three ahead.
var neighbourOffsets = []int{-1, -2, -3, 1, 2, 3}

// GapFill sorts c by time and, for each image and variable, adds a
// "<variable>_filled" band. Masked pixels take the value of the first
// neighbour in neighbourOffsets that has one; neighbours outside the
// collection contribute nothing. Pixels still masked get the mean of the
// image's unfilled band over region, or stay masked when that mean is
// undefined. A nil region averages the whole grid. c is not modified.
func GapFill(c Collection, region orb.Geometry, variables []string) (Collection, error) {
	if len(c) == 0 {
		return Collection{}, nil
	}
	if len(variables) == 0 {
		variables = CoreVariables
	}
	sorted := c.Sorted()

	out := make(Collection, len(sorted))
	for i, img := range sorted {
		filled := make([]Band, 0, len(variables))
		for _, v := range variables {
			g, err := fillBand(sorted, i, v, region)
			if err != nil {
				return nil, err
			}
			filled = append(filled, Band{Name: v + FilledSuffix, Grid: g})
		}
		out[i] = img.WithBands(filled...)
	}
	return out, nil
}

func fillBand(c Collection, i int, variable string, region orb.Geometry) (*raster.Grid, error) {
	orig, ok := c[i].Band(variable)
	if !ok {
		return nil, eris.Wrapf(ErrMissingBand, "gap fill %s at index %d", variable, i)
	}
	out := orig.Clone()
	if !hasMasked(out) {
		return out, nil
	}

	for _, off := range neighbourOffsets {
		j := i + off
		if j < 0 || j >= len(c) {
			continue
		}
		nb, ok := c[j].Band(variable)
		if !ok {
			continue
		}
		if !nb.SameShape(out) {
			return nil, eris.Errorf("weather: gap fill %s: image %d and %d differ in shape", variable, i, j)
		}
		remaining := 0
		for k, v := range out.Data {
			if !math.IsNaN(v) {
				continue
			}
			if nv := nb.Data[k]; !math.IsNaN(nv) {
				out.Data[k] = nv
			} else {
				remaining++
			}
		}
		if remaining == 0 {
			return out, nil
		}
	}

	mean := spatialMean(orig, region)
	if math.IsNaN(mean) {
		return out, nil
	}
	for k, v := range out.Data {
		if math.IsNaN(v) {
			out.Data[k] = mean
		}
	}
	return out, nil
}

func spatialMean(g *raster.Grid, region orb.Geometry) float64 {
	if region != nil {
		return g.Mean(region)
	}
	var sum float64
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func hasMasked(g *raster.Grid) bool {
	for _, v := range g.Data {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
