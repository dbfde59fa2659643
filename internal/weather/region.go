package weather

import (
	"os"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/exposure-cli/internal/survey"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// Feature is one reduction zone of a region.
type Feature struct {
	ID       string
	Geometry orb.Geometry
}

// SurveySource builds a region from household points: rows are grouped by
// the region's id property and each group centroid is buffered.
type SurveySource struct {
	Path      string   `yaml:"path"`
	IDColumn  string   `yaml:"id_column"`
	LonColumn string   `yaml:"lon_column"`
	LatColumn string   `yaml:"lat_column"`
	DropIDs   []string `yaml:"drop_ids"`
	BufferM   float64  `yaml:"buffer_m"`
	Segments  int      `yaml:"segments"`
}

// Region is a named set of zones exported together.
type Region struct {
	Name       string            `yaml:"name"`
	IDProperty string            `yaml:"id_property"`
	Path       string            `yaml:"path"`
	Filter     map[string]string `yaml:"filter"`
	Survey     *SurveySource     `yaml:"survey"`
	H3         []string          `yaml:"h3"`
	StartYear  int               `yaml:"start_year"`
	EndYear    int               `yaml:"end_year"`

	Features []Feature `yaml:"-"`
}

// Catalog is the regions file layout.
type Catalog struct {
	Regions []*Region `yaml:"regions"`
}

// LoadCatalog reads a regions YAML file. Region zones are not loaded.
func LoadCatalog(path string) ([]*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "weather: read regions %s", path)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "weather: parse regions %s", path)
	}
	for i, r := range cat.Regions {
		if r.Name == "" {
			return nil, eris.Errorf("weather: region %d has no name", i)
		}
		if r.Path == "" && r.Survey == nil && len(r.H3) == 0 {
			return nil, eris.Errorf("weather: region %s needs path, survey or h3", r.Name)
		}
	}
	return cat.Regions, nil
}

// Find returns the region named name.
func Find(regions []*Region, name string) (*Region, bool) {
	for _, r := range regions {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Load reads the region's zones from its boundary file, survey or H3 cells.
func (r *Region) Load() error {
	log := zap.L().With(zap.String("component", "weather.region"), zap.String("region", r.Name))

	switch {
	case r.Path != "":
		fc, err := vector.Read(r.Path)
		if err != nil {
			return eris.Wrapf(err, "weather: region %s", r.Name)
		}
		r.Features = r.Features[:0]
		for _, f := range fc.Features {
			if f.Geometry == nil || !matches(f.Properties, r.Filter) {
				continue
			}
			r.Features = append(r.Features, Feature{
				ID:       vector.PropString(f.Properties, r.IDProperty),
				Geometry: f.Geometry,
			})
		}
	case r.Survey != nil:
		roi, err := r.surveyROI()
		if err != nil {
			return err
		}
		r.Features = roiFeatures(roi)
	default:
		roi, err := survey.H3Cells(r.H3)
		if err != nil {
			return eris.Wrapf(err, "weather: region %s", r.Name)
		}
		if r.IDProperty == "" {
			r.IDProperty = "hex_id"
		}
		r.Features = roiFeatures(roi)
	}

	if len(r.Features) == 0 {
		return eris.Errorf("weather: region %s has no zones", r.Name)
	}
	log.Info("weather: loaded region", zap.Int("zones", len(r.Features)))
	return nil
}

func (r *Region) surveyROI() (*survey.ROI, error) {
	s := r.Survey
	t, err := survey.Load(s.Path, survey.Options{
		IDColumn:  s.IDColumn,
		LonColumn: s.LonColumn,
		LatColumn: s.LatColumn,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "weather: region %s", r.Name)
	}
	t = survey.DropIDs(t, t.IDColumn, s.DropIDs)
	groups, err := survey.GroupCentroids(t, r.IDProperty)
	if err != nil {
		return nil, eris.Wrapf(err, "weather: region %s", r.Name)
	}
	buffer := s.BufferM
	if buffer == 0 {
		buffer = survey.DefaultBufferM
	}
	roi, err := survey.BuildROI(groups, buffer, s.Segments)
	if err != nil {
		return nil, eris.Wrapf(err, "weather: region %s", r.Name)
	}
	return roi, nil
}

func roiFeatures(roi *survey.ROI) []Feature {
	out := make([]Feature, len(roi.Areas))
	for i, a := range roi.Areas {
		out[i] = Feature{ID: a.ID, Geometry: a.Polygon}
	}
	return out
}

func matches(props map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		if vector.PropString(props, k) != want {
			return false
		}
	}
	return true
}

// Bound returns the extent of all zones.
func (r *Region) Bound() orb.Bound {
	var b orb.Bound
	for i, f := range r.Features {
		if i == 0 {
			b = f.Geometry.Bound()
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// Geometry returns every zone as one collection.
func (r *Region) Geometry() orb.Geometry {
	c := make(orb.Collection, len(r.Features))
	for i, f := range r.Features {
		c[i] = f.Geometry
	}
	return c
}

// Reduce returns, for every zone, the mean of each band over the zone.
func Reduce(img Image, features []Feature, bands []string) ([][]float64, error) {
	grids := make([]Band, len(bands))
	for i, name := range bands {
		g, ok := img.Band(name)
		if !ok {
			return nil, eris.Wrapf(ErrMissingBand, "reduce %s", name)
		}
		grids[i] = Band{Name: name, Grid: g}
	}
	out := make([][]float64, len(features))
	for i, f := range features {
		row := make([]float64, len(grids))
		for j, b := range grids {
			row[j] = b.Grid.Mean(f.Geometry)
		}
		out[i] = row
	}
	return out, nil
}
