package contamination

import (
	"strconv"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// DefaultBuffersM are the radii counted by MiningExposure.
var DefaultBuffersM = []float64{1000, 3000, 5000, 10000}

// Categories returns the distinct values of field in first-seen order.
// Features without a value are skipped.
func Categories(fc *geojson.FeatureCollection, field string) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, f := range fc.Features {
		c := vector.PropString(f.Properties, field)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	return cats
}

// CountColumn names the count of category features within buffer metres.
func CountColumn(category string, bufferM float64) string {
	return "count_" + category + "_within_" + strconv.FormatFloat(bufferM/1000, 'f', 0, 64) + "km"
}

// MiningExposure adds, buffer-major then category, the number of mining
// features lying entirely within each buffer around the household, then
// the distance in km to the closest feature of each category.
func MiningExposure(hhs *survey.Table, sites *geojson.FeatureCollection, categoryField string, buffersM []float64) (*Table, error) {
	log := zap.L().With(zap.String("component", "contamination.mining"))
	if len(buffersM) == 0 {
		buffersM = DefaultBuffersM
	}
	if categoryField == "" {
		categoryField = "category"
	}

	cats := Categories(sites, categoryField)
	indexes := make([]*geo.HazardIndex, len(cats))
	for i, c := range cats {
		geoms := projectFeatures(sites, func(f *geojson.Feature) bool {
			return vector.PropString(f.Properties, categoryField) == c
		})
		indexes[i] = geo.NewHazardIndex(geoms)
	}
	log.Info("contamination: mining categories",
		zap.Strings("categories", cats),
		zap.Float64s("buffers_m", buffersM),
	)

	var cols []string
	for _, b := range buffersM {
		for _, c := range cats {
			cols = append(cols, CountColumn(c, b))
		}
	}
	for _, c := range cats {
		cols = append(cols, "distance_to_closest_"+c+"_km")
	}

	out, err := baseTable(hhs, true, cols)
	if err != nil {
		return nil, err
	}
	for i, p := range mercatorPoints(hhs) {
		for _, b := range buffersM {
			for _, ix := range indexes {
				out.Rows[i] = append(out.Rows[i], strconv.Itoa(ix.CountWithin(p, b)))
			}
		}
		for _, ix := range indexes {
			d, _ := ix.Nearest(p)
			out.Rows[i] = append(out.Rows[i], FormatFloat(km(d)))
		}
	}
	return out, nil
}
