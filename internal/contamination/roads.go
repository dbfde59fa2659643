package contamination

import (
	"math"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// RoadDistanceColumn is the output column of RoadDistances.
const RoadDistanceColumn = "distance_to_nearest_road_mts"

// RoadDistances adds the distance in metres from each household to the
// nearest road. The household geometry is not written.
func RoadDistances(hhs *survey.Table, roads *geojson.FeatureCollection) (*Table, Summary, error) {
	log := zap.L().With(zap.String("component", "contamination.roads"))

	out, err := baseTable(hhs, false, []string{RoadDistanceColumn})
	if err != nil {
		return nil, Summary{}, err
	}

	ix := geo.NewHazardIndex(projectFeatures(roads, nil))
	dists := make([]float64, hhs.Len())
	for i, p := range mercatorPoints(hhs) {
		d, _ := ix.Nearest(p)
		if math.IsInf(d, 1) {
			d = math.NaN()
		}
		dists[i] = d
		out.Rows[i] = append(out.Rows[i], FormatFloat(d))
	}

	summary := Describe(dists)
	log.Info("contamination: road distance statistics (metres)", summary.Fields()...)
	return out, summary, nil
}
