// Package contamination computes household exposure features against
// environmental hazard layers: roads, healthcare facilities, mining sites
// and PM2.5 grids. Distances are planar in Web Mercator metres.
package contamination

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/fetcher"
	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// GeometryColumn holds the household location as WKT.
const GeometryColumn = "geometry"

// Table is a CSV-shaped feature table.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t *Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// WriteCSV writes the table with a header row, creating parent directories.
func (t *Table) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "contamination: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "contamination: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return eris.Wrap(err, "contamination: write header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return eris.Wrapf(err, "contamination: write %s", path)
	}
	return f.Close()
}

// ReadTable loads a feature CSV written by WriteCSV.
func ReadTable(path string) (*Table, error) {
	header, rows, err := fetcher.ReadCSVFile(path, fetcher.CSVOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "contamination: read table")
	}
	return &Table{Header: header, Rows: rows}, nil
}

// FormatFloat renders v for CSV output; NaN and infinities are empty.
func FormatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// baseTable starts a feature table from the survey columns, optionally
// followed by the household location as WKT, then the extra column names.
func baseTable(hhs *survey.Table, withGeometry bool, extra []string) (*Table, error) {
	header := append([]string(nil), hhs.Columns...)
	if withGeometry {
		header = append(header, GeometryColumn)
	}
	header = append(header, extra...)

	t := &Table{Header: header, Rows: make([][]string, hhs.Len())}
	for i, h := range hhs.Households {
		row := make([]string, len(hhs.Columns), len(header))
		copy(row, hhs.Row(i))
		if withGeometry {
			wkt, err := geo.EncodeWKT(h.Point)
			if err != nil {
				return nil, eris.Wrapf(err, "contamination: encode household %s", h.ID)
			}
			row = append(row, wkt)
		}
		t.Rows[i] = row
	}
	return t, nil
}

// projectFeatures returns the Web Mercator geometry of every feature that
// keep accepts. A nil keep accepts all.
func projectFeatures(fc *geojson.FeatureCollection, keep func(*geojson.Feature) bool) []orb.Geometry {
	var out []orb.Geometry
	for _, f := range fc.Features {
		if f.Geometry == nil || (keep != nil && !keep(f)) {
			continue
		}
		out = append(out, geo.ToMercator(f.Geometry))
	}
	return out
}

func mercatorPoints(hhs *survey.Table) []orb.Point {
	pts := make([]orb.Point, hhs.Len())
	for i, h := range hhs.Households {
		pts[i] = geo.PointToMercator(h.Point)
	}
	return pts
}
