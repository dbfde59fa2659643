package worldpop

import (
	"fmt"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// DefaultShapefilePattern names the OCHA COD-AB boundaries for Ukraine; %d
// is the admin level.
const DefaultShapefilePattern = "ukr_admbnda_adm%d_sspe_20230201.shp"

// Output names under the AOI directory.
const (
	ADM3File          = "adm3.geojson"
	ADM4OutskirtsFile = "adm4_w_outskirts.geojson"
	OutskirtSuffix    = "_outskirts"
	OutskirtProperty  = "outskirt"
	maxAdminLevel     = 4
	adm3PcodeProperty = "ADM3_PCODE"
	adm4PcodeProperty = "ADM4_PCODE"
)

// ErrNotFound is returned when a boundary shapefile is missing.
var ErrNotFound = vector.ErrNotFound

// PcodeProperty is the pcode attribute of an admin level.
func PcodeProperty(level int) string {
	return fmt.Sprintf("ADM%d_PCODE", level)
}

// Shapes locates the admin boundary shapefiles.
type Shapes struct {
	Dir     string
	Pattern string
}

// Path is the shapefile of level.
func (s Shapes) Path(level int) string {
	pattern := s.Pattern
	if pattern == "" {
		pattern = DefaultShapefilePattern
	}
	return filepath.Join(s.Dir, fmt.Sprintf(pattern, level))
}

// LoadAdminArea reads the boundaries of level 0..4.
func (s Shapes) LoadAdminArea(level int) (*geojson.FeatureCollection, error) {
	if level < 0 || level > maxAdminLevel {
		return nil, eris.Errorf("worldpop: admin level %d not in 0-%d", level, maxAdminLevel)
	}
	fc, err := vector.ReadShapefile(s.Path(level))
	if err != nil {
		return nil, eris.Wrapf(err, "worldpop: load adm%d", level)
	}
	return fc, nil
}

// pcodes copies ADM0_PCODE..ADM<level>_PCODE from props.
func pcodes(props geojson.Properties, level int) geojson.Properties {
	out := make(geojson.Properties, level+2)
	for l := 0; l <= level; l++ {
		key := PcodeProperty(l)
		out[key] = vector.PropString(props, key)
	}
	return out
}

// CreateADM3 writes aoiDir/adm3.geojson with the ADM0..ADM3 pcodes of
// every ADM3 unit.
func (s Shapes) CreateADM3(aoiDir string) (string, *geojson.FeatureCollection, error) {
	adm3, err := s.LoadAdminArea(3)
	if err != nil {
		return "", nil, err
	}
	out := geojson.NewFeatureCollection()
	for _, f := range adm3.Features {
		nf := geojson.NewFeature(f.Geometry)
		nf.Properties = pcodes(f.Properties, 3)
		out.Append(nf)
	}
	path := filepath.Join(aoiDir, ADM3File)
	if err := vector.WriteGeoJSON(path, out); err != nil {
		return "", nil, err
	}
	zap.L().Info("worldpop: created adm3 aoi",
		zap.String("component", "worldpop.shapes"),
		zap.String("path", path),
		zap.Int("features", len(out.Features)),
	)
	return path, out, nil
}

// CreateADM4WithOutskirts writes aoiDir/adm4_w_outskirts.geojson: every
// ADM4 unit with outskirt=0, and for each ADM3 unit that has ADM4 children
// the part of it no child covers, as <ADM3_PCODE>_outskirts with
// outskirt=1. ADM4 units whose ADM3 is unknown are dropped.
func (s Shapes) CreateADM4WithOutskirts(aoiDir string) (string, *geojson.FeatureCollection, error) {
	adm3, err := s.LoadAdminArea(3)
	if err != nil {
		return "", nil, err
	}
	adm4, err := s.LoadAdminArea(4)
	if err != nil {
		return "", nil, err
	}
	fc := BuildOutskirts(adm3, adm4)

	path := filepath.Join(aoiDir, ADM4OutskirtsFile)
	if err := vector.WriteGeoJSON(path, fc); err != nil {
		return "", nil, err
	}
	zap.L().Info("worldpop: created adm4 aoi with outskirts",
		zap.String("component", "worldpop.shapes"),
		zap.String("path", path),
		zap.Int("features", len(fc.Features)),
	)
	return path, fc, nil
}

// BuildOutskirts groups adm4 under adm3 by ADM3_PCODE and appends each
// group's outskirts after its children.
func BuildOutskirts(adm3, adm4 *geojson.FeatureCollection) *geojson.FeatureCollection {
	children := make(map[string][]*geojson.Feature)
	for _, f := range adm4.Features {
		code := vector.PropString(f.Properties, adm3PcodeProperty)
		children[code] = append(children[code], f)
	}

	out := geojson.NewFeatureCollection()
	seen := make(map[string]bool)
	for _, parent := range adm3.Features {
		code := vector.PropString(parent.Properties, adm3PcodeProperty)
		if seen[code] {
			continue
		}
		seen[code] = true

		kids := children[code]
		geoms := make([]orb.Geometry, 0, len(kids))
		for _, k := range kids {
			nf := geojson.NewFeature(k.Geometry)
			nf.Properties = pcodes(k.Properties, 4)
			nf.Properties[OutskirtProperty] = 0
			out.Append(nf)
			geoms = append(geoms, k.Geometry)
		}
		if len(kids) == 0 {
			continue
		}

		rest := geo.Difference(parent.Geometry, geoms)
		if len(rest) == 0 {
			continue
		}
		var g orb.Geometry = rest
		if len(rest) == 1 {
			g = rest[0]
		}
		nf := geojson.NewFeature(g)
		nf.Properties = pcodes(parent.Properties, 2)
		nf.Properties[adm3PcodeProperty] = code
		nf.Properties[adm4PcodeProperty] = code + OutskirtSuffix
		nf.Properties[OutskirtProperty] = 1
		out.Append(nf)
	}
	return out
}
