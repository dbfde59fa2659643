package contamination

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// DefaultClipBufferM is the household radius used by ClipRoads.
const DefaultClipBufferM = 1000

// ClipRoads keeps the road features that come within bufferM metres of at
// least one household, in their original order.
func ClipRoads(hhs *survey.Table, roads *geojson.FeatureCollection, bufferM float64) *geojson.FeatureCollection {
	if bufferM <= 0 {
		bufferM = DefaultClipBufferM
	}

	// index slots follow feature positions; nil geometries stay unindexed
	geoms := make([]orb.Geometry, len(roads.Features))
	for i, f := range roads.Features {
		if f.Geometry != nil {
			geoms[i] = geo.ToMercator(f.Geometry)
		}
	}
	ix := geo.NewHazardIndex(geoms)

	keep := make(map[int]bool)
	for _, p := range mercatorPoints(hhs) {
		for _, id := range ix.Intersecting(p, bufferM) {
			keep[id] = true
		}
	}
	ids := make([]int, 0, len(keep))
	for id := range keep {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := geojson.NewFeatureCollection()
	for _, id := range ids {
		out.Append(roads.Features[id])
	}
	zap.L().Info("contamination: clipped roads",
		zap.String("component", "contamination.clip"),
		zap.Int("roads_in", len(roads.Features)),
		zap.Int("roads_out", len(out.Features)),
		zap.Float64("buffer_m", bufferM),
	)
	return out
}
