package survey

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// DefaultBufferM is the ROI radius around each group centroid.
const DefaultBufferM = 50_000

// Area is one region of interest polygon with its attributes.
type Area struct {
	ID      string
	Values  map[string]string
	Polygon orb.Polygon
}

// ROI is an ordered set of areas sharing the same attribute columns.
type ROI struct {
	Columns []string
	Areas   []Area
}

// BuildROI buffers each centroid by bufferM metres in Web Mercator.
func BuildROI(groups *Table, bufferM float64, segments int) (*ROI, error) {
	if bufferM <= 0 {
		return nil, eris.Errorf("survey: roi buffer must be > 0 (got %g)", bufferM)
	}
	roi := &ROI{Columns: append([]string(nil), groups.Columns...)}
	for _, h := range groups.Households {
		roi.Areas = append(roi.Areas, Area{
			ID:      h.ID,
			Values:  h.Values,
			Polygon: geo.BufferLonLat(h.Point, bufferM, segments),
		})
	}
	return roi, nil
}

// H3Cells builds an ROI from H3 cell ids, one hexagon per cell.
func H3Cells(ids []string) (*ROI, error) {
	roi := &ROI{Columns: []string{"hex_id"}}
	for _, id := range ids {
		poly, err := geo.CellPolygon(id)
		if err != nil {
			return nil, eris.Wrap(err, "survey: h3 roi")
		}
		roi.Areas = append(roi.Areas, Area{
			ID:      id,
			Values:  map[string]string{"hex_id": id},
			Polygon: poly,
		})
	}
	return roi, nil
}

// H3Cover returns the distinct H3 cells at res that contain a household,
// sorted.
func H3Cover(t *Table, res int) []string {
	seen := make(map[string]bool)
	var cells []string
	for _, h := range t.Households {
		c := geo.CellAt(h.Point, res)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cells = append(cells, c)
	}
	sort.Strings(cells)
	return cells
}

// FeatureCollection returns the areas as GeoJSON features whose properties
// are the attribute columns.
func (r *ROI) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, a := range r.Areas {
		f := geojson.NewFeature(a.Polygon)
		for _, c := range r.Columns {
			f.Properties[c] = a.Values[c]
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes the areas as a region file.
func (r *ROI) WriteGeoJSON(path string) error {
	return vector.WriteGeoJSON(path, r.FeatureCollection())
}

// WriteShapefile writes the areas as a polygon shapefile.
func (r *ROI) WriteShapefile(path string) error {
	return vector.WriteShapefile(path, r.FeatureCollection(), r.Columns)
}

// WriteWKTCSV writes the attribute columns plus a WKT geometry column, the
// layout kepler.gl loads directly.
func (r *ROI) WriteWKTCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "survey: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "survey: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(append(append([]string(nil), r.Columns...), "geometry")); err != nil {
		return eris.Wrap(err, "survey: write header")
	}
	for _, a := range r.Areas {
		wkt, err := geo.EncodeWKT(a.Polygon)
		if err != nil {
			return eris.Wrapf(err, "survey: encode area %s", a.ID)
		}
		row := make([]string, 0, len(r.Columns)+1)
		for _, c := range r.Columns {
			row = append(row, a.Values[c])
		}
		if err := w.Write(append(row, wkt)); err != nil {
			return eris.Wrap(err, "survey: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "survey: flush csv")
	}
	return f.Close()
}
