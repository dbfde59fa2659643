package weather

import (
	"context"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// Request selects the hourly images a Source returns.
type Request struct {
	Bound     orb.Bound
	Start     time.Time // inclusive
	End       time.Time // exclusive
	Variables []string
	Scale     float64 // pixel size in metres
}

// Source produces hourly ERA5-Land collections.
type Source interface {
	Fetch(ctx context.Context, req Request) (Collection, error)
}

// metresPerDegree is the length of one degree of latitude.
const metresPerDegree = 111_320.0

// SampleGrid lays a lon/lat grid with roughly scale-metre pixels over b.
// The grid is never empty.
func SampleGrid(b orb.Bound, scale float64) *raster.Grid {
	if scale <= 0 {
		scale = 9000
	}
	midLat := (b.Min[1] + b.Max[1]) / 2
	dLat := scale / metresPerDegree
	dLon := dLat / math.Max(math.Cos(midLat*math.Pi/180), 0.01)

	w := max(int(math.Ceil((b.Max[0]-b.Min[0])/dLon)), 1)
	h := max(int(math.Ceil((b.Max[1]-b.Min[1])/dLat)), 1)
	gt := [6]float64{b.Min[0], dLon, 0, b.Max[1], 0, -dLat}
	return raster.New(gt, w, h)
}
