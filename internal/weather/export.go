package weather

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TimeStartColumn holds the image timestamp in epoch milliseconds.
const TimeStartColumn = "time_start"

// ExportOptions configures one hourly or seasonal export.
type ExportOptions struct {
	Source     Source
	Region     *Region
	Year       int
	StartMonth int
	EndMonth   int
	GapFill    bool
	Scale      float64
	OutputDir  string
	Variables  []string
}

// Result describes a written export.
type Result struct {
	Path string
	Rows int
}

func (o ExportOptions) validate() error {
	if o.Source == nil {
		return eris.New("weather: export needs a source")
	}
	if o.Region == nil || len(o.Region.Features) == 0 {
		return eris.New("weather: export needs a loaded region")
	}
	if o.StartMonth < 1 || o.EndMonth > 12 || o.StartMonth > o.EndMonth {
		return eris.Errorf("weather: invalid month range %d-%d", o.StartMonth, o.EndMonth)
	}
	return nil
}

func (o ExportOptions) variables() []string {
	if len(o.Variables) == 0 {
		return CoreVariables
	}
	return o.Variables
}

// Window returns [year-startMonth-01, first day after endMonth).
func Window(year, startMonth, endMonth int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.Month(endMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return start, end
}

// MonthSuffix is "_mMM-MM", or "" for a full year.
func MonthSuffix(startMonth, endMonth int) string {
	if startMonth == 1 && endMonth == 12 {
		return ""
	}
	return fmt.Sprintf("_m%02d-%02d", startMonth, endMonth)
}

// HourlyFileName names an hourly export.
func HourlyFileName(region string, year, startMonth, endMonth int) string {
	return fmt.Sprintf("weather_hourly_%s_%d%s.csv", region, year, MonthSuffix(startMonth, endMonth))
}

// SeasonalFileName names a seasonal export.
func SeasonalFileName(region string, year, startMonth, endMonth int) string {
	return fmt.Sprintf("weather_stats_%s_%d%s.csv", region, year, MonthSuffix(startMonth, endMonth))
}

// prepared fetches [fetchStart, fetchEnd), gap filling it when enabled, and
// returns images carrying the core band names.
func prepared(ctx context.Context, o ExportOptions, fetchStart, fetchEnd time.Time) (Collection, error) {
	vars := o.variables()
	coll, err := o.Source.Fetch(ctx, Request{
		Bound:     o.Region.Bound(),
		Start:     fetchStart,
		End:       fetchEnd,
		Variables: vars,
		Scale:     o.Scale,
	})
	if err != nil {
		return nil, eris.Wrap(err, "weather: fetch")
	}
	if !o.GapFill {
		return coll.Sorted(), nil
	}

	filled, err := GapFill(coll, o.Region.Geometry(), vars)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v + FilledSuffix
	}
	return filled.Map(func(img Image) (Image, error) { return img.Select(names, vars) })
}

// ExportHourly writes one row per zone and hour: the zone id, the mean of
// every core and derived band, then year, month, day, hour and time_start.
func ExportHourly(ctx context.Context, o ExportOptions) (Result, error) {
	if err := o.validate(); err != nil {
		return Result{}, err
	}
	log := zap.L().With(
		zap.String("component", "weather.hourly"),
		zap.String("region", o.Region.Name),
		zap.Int("year", o.Year),
	)
	start, end := Window(o.Year, o.StartMonth, o.EndMonth)
	fetchStart, fetchEnd := start, end
	if o.GapFill {
		fetchStart, fetchEnd = start.AddDate(0, -1, 0), end.AddDate(0, 1, 0)
	}
	coll, err := prepared(ctx, o, fetchStart, fetchEnd)
	if err != nil {
		return Result{}, err
	}
	coll = coll.Filter(start, end)

	bands := append(append([]string(nil), o.variables()...), DerivedVariables...)
	header := append([]string{idColumn(o.Region)}, bands...)
	header = append(header, "year", "month", "day", "hour", TimeStartColumn)

	var rows [][]string
	for _, img := range coll {
		derived, err := Derive(img)
		if err != nil {
			return Result{}, err
		}
		means, err := Reduce(derived, o.Region.Features, bands)
		if err != nil {
			return Result{}, err
		}
		t := img.Time.UTC()
		for i, f := range o.Region.Features {
			row := make([]string, 0, len(header))
			row = append(row, f.ID)
			for _, v := range means[i] {
				row = append(row, formatValue(v))
			}
			row = append(row,
				strconv.Itoa(t.Year()),
				strconv.Itoa(int(t.Month())),
				strconv.Itoa(t.Day()),
				strconv.Itoa(t.Hour()),
				strconv.FormatInt(t.UnixMilli(), 10),
			)
			rows = append(rows, row)
		}
	}

	path := filepath.Join(o.OutputDir, HourlyFileName(o.Region.Name, o.Year, o.StartMonth, o.EndMonth))
	if err := writeCSV(path, header, rows); err != nil {
		return Result{}, err
	}
	log.Info("weather: hourly export written",
		zap.String("path", path),
		zap.Int("images", len(coll)),
		zap.Int("rows", len(rows)),
	)
	return Result{Path: path, Rows: len(rows)}, nil
}

func idColumn(r *Region) string {
	if r.IDProperty == "" {
		return "id"
	}
	return r.IDProperty
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "weather: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "weather: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "weather: write header")
	}
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrapf(err, "weather: write %s", path)
	}
	return f.Close()
}
