// Package survey loads household survey locations and turns them into
// grouped centroids and buffered regions of interest.
package survey

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
)

var (
	// ErrNotFound is returned when the survey file does not exist.
	ErrNotFound = eris.New("survey: file not found")
	// ErrMissingCoords is returned when the lon/lat columns are absent.
	ErrMissingCoords = eris.New("survey: coordinate columns missing")
)

// Options names the columns Load reads. Empty values take the defaults.
type Options struct {
	IDColumn  string // default "hhid"
	LonColumn string // default "longitude"
	LatColumn string // default "latitude"
	Sheet     string // xlsx sheet name; first sheet when empty
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "hhid"
	}
	if o.LonColumn == "" {
		o.LonColumn = "longitude"
	}
	if o.LatColumn == "" {
		o.LatColumn = "latitude"
	}
	return o
}

// Household is one survey row located in EPSG:4326.
type Household struct {
	ID     string
	Point  orb.Point
	Values map[string]string
}

// Get returns the raw value of column, "" when absent.
func (h Household) Get(column string) string {
	return h.Values[column]
}

// Table is a set of households with the original column order.
type Table struct {
	Columns    []string
	IDColumn   string
	LonColumn  string
	LatColumn  string
	Households []Household
}

// Len returns the number of households.
func (t *Table) Len() int { return len(t.Households) }

// Row returns household i's values in column order.
func (t *Table) Row(i int) []string {
	h := t.Households[i]
	row := make([]string, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = h.Values[c]
	}
	return row
}

// Points returns every household location in row order.
func (t *Table) Points() []orb.Point {
	pts := make([]orb.Point, len(t.Households))
	for i, h := range t.Households {
		pts[i] = h.Point
	}
	return pts
}

// Load reads a household CSV or XLSX file. Rows with empty or unparseable
// coordinates are dropped and logged.
func Load(path string, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "survey"), zap.String("path", path))

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "%s", path)
	}

	header, records, err := readRecords(path, opts)
	if err != nil {
		return nil, err
	}

	lonIdx := slices.Index(header, opts.LonColumn)
	latIdx := slices.Index(header, opts.LatColumn)
	if lonIdx < 0 || latIdx < 0 {
		return nil, eris.Wrapf(ErrMissingCoords, "want %q and %q in %s", opts.LonColumn, opts.LatColumn, path)
	}
	idIdx := slices.Index(header, opts.IDColumn)

	t := &Table{
		Columns:   header,
		IDColumn:  opts.IDColumn,
		LonColumn: opts.LonColumn,
		LatColumn: opts.LatColumn,
	}
	var dropped []string
	for n, rec := range records {
		values := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				values[col] = rec[i]
			}
		}
		id := strconv.Itoa(n)
		if idIdx >= 0 {
			id = values[opts.IDColumn]
		}

		lon, lonErr := parseCoord(values[opts.LonColumn], 180)
		lat, latErr := parseCoord(values[opts.LatColumn], 90)
		if lonErr != nil || latErr != nil {
			dropped = append(dropped, id)
			continue
		}
		t.Households = append(t.Households, Household{
			ID:     id,
			Point:  orb.Point{lon, lat},
			Values: values,
		})
	}

	if len(dropped) > 0 {
		log.Warn("survey: dropped households without valid coordinates",
			zap.Int("dropped", len(dropped)),
			zap.Strings("ids", dropped),
		)
	}
	log.Info("survey: loaded households", zap.Int("households", len(t.Households)))
	return t, nil
}

func readRecords(path string, opts Options) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, nil, eris.Wrapf(err, "survey: read %s", path)
		}
		if len(rows) == 0 {
			return nil, nil, eris.Errorf("survey: %s is empty", path)
		}
		for i := range rows[0] {
			rows[0][i] = strings.TrimSpace(rows[0][i])
		}
		return rows[0], rows[1:], nil
	default:
		header, rows, err := fetcher.ReadCSVFile(path, fetcher.CSVOptions{TrimSpace: true})
		if err != nil {
			return nil, nil, eris.Wrapf(err, "survey: read %s", path)
		}
		return header, rows, nil
	}
}

// parseCoord parses a degree value and rejects anything outside [-limit, limit].
func parseCoord(s string, limit float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("empty coordinate")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.New("non-finite coordinate")
	}
	if math.Abs(v) > limit {
		return 0, eris.Errorf("coordinate %g outside [-%g, %g]", v, limit, limit)
	}
	return v, nil
}

// DropIDs returns a copy of t without rows whose column value is in ids.
func DropIDs(t *Table, column string, ids []string) *Table {
	if len(ids) == 0 {
		return t
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[strings.TrimSpace(id)] = true
	}

	out := *t
	out.Households = make([]Household, 0, len(t.Households))
	var removed int
	for _, h := range t.Households {
		if drop[h.Get(column)] {
			removed++
			continue
		}
		out.Households = append(out.Households, h)
	}
	zap.L().Info("survey: dropped households by id",
		zap.String("component", "survey"),
		zap.String("column", column),
		zap.Int("removed", removed),
	)
	return &out
}
