package contamination

import (
	"math"
	"slices"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// DefaultAmenities are the healthcare classes measured by HealthDistances.
var DefaultAmenities = []string{"hospital", "clinic"}

// HealthDistances adds distance_to_<amenity>_km for each amenity class.
// Facilities whose amenityField is not in amenities are ignored. A class
// with no facilities yields empty cells.
func HealthDistances(hhs *survey.Table, facilities *geojson.FeatureCollection, amenityField string, amenities []string) (*Table, error) {
	log := zap.L().With(zap.String("component", "contamination.health"))
	if len(amenities) == 0 {
		amenities = DefaultAmenities
	}
	if amenityField == "" {
		amenityField = "amenity"
	}

	cols := make([]string, len(amenities))
	indexes := make([]*geo.HazardIndex, len(amenities))
	for i, a := range amenities {
		cols[i] = "distance_to_" + a + "_km"
		geoms := projectFeatures(facilities, func(f *geojson.Feature) bool {
			return vector.PropString(f.Properties, amenityField) == a
		})
		indexes[i] = geo.NewHazardIndex(geoms)
		log.Info("contamination: indexed facilities",
			zap.String("amenity", a),
			zap.Int("facilities", len(geoms)),
		)
	}
	if kept := countMatching(facilities, amenityField, amenities); kept < len(facilities.Features) {
		log.Debug("contamination: ignored facilities of other classes",
			zap.Int("ignored", len(facilities.Features)-kept),
		)
	}

	out, err := baseTable(hhs, true, cols)
	if err != nil {
		return nil, err
	}
	for i, p := range mercatorPoints(hhs) {
		for _, ix := range indexes {
			d, _ := ix.Nearest(p)
			out.Rows[i] = append(out.Rows[i], FormatFloat(km(d)))
		}
	}
	return out, nil
}

func countMatching(fc *geojson.FeatureCollection, field string, values []string) int {
	n := 0
	for _, f := range fc.Features {
		if slices.Contains(values, vector.PropString(f.Properties, field)) {
			n++
		}
	}
	return n
}

func km(m float64) float64 {
	if math.IsInf(m, 1) {
		return math.NaN()
	}
	return m / 1000
}
