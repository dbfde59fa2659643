package weather

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// Exposure bins counted per season.
const (
	TempBinMin = -50
	TempBinMax = 50
	WindBinMin = 0
	WindBinMax = 25
)

// Season is a named three-month period.
type Season struct {
	Code   string
	Months [3]int
}

// Seasons in export order. Winter runs from December of the previous year.
var Seasons = []Season{
	{Code: "aut", Months: [3]int{9, 10, 11}},
	{Code: "spr", Months: [3]int{3, 4, 5}},
	{Code: "smr", Months: [3]int{6, 7, 8}},
	{Code: "wtr", Months: [3]int{12, 1, 2}},
}

// Range returns the season's [start, end) in year.
func (s Season) Range(year int) (time.Time, time.Time) {
	startYear := year
	if s.Months[0] > s.Months[2] {
		startYear--
	}
	start := time.Date(startYear, time.Month(s.Months[0]), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.Month(s.Months[2])+1, 1, 0, 0, 0, 0, time.UTC)
	return start, end
}

// statBands lists the per-season band names before the season suffix.
func statBands(vars []string) []string {
	var out []string
	for _, b := range append(append([]string(nil), vars...), DerivedVariables...) {
		out = append(out, b+"_mean", b+"_median", b+"_sum")
	}
	for t := TempBinMin; t <= TempBinMax; t++ {
		out = append(out, "temp_h_"+strconv.Itoa(t))
	}
	for w := WindBinMin; w <= WindBinMax; w++ {
		out = append(out, "wind_h_"+strconv.Itoa(w))
	}
	return out
}

// SeasonalColumns returns the band columns of a seasonal export.
func SeasonalColumns(vars []string) []string {
	if len(vars) == 0 {
		vars = CoreVariables
	}
	base := statBands(vars)
	out := make([]string, 0, len(base)*len(Seasons))
	for _, s := range Seasons {
		for _, b := range base {
			out = append(out, b+"_"+s.Code)
		}
	}
	return out
}

// SeasonalFetchWindow is the span a seasonal export reads. With gap filling
// it is the month window plus a month of context before it, and a month
// after it only when the window ends in December; seasons are then cut
// from the filled window. Without gap filling every season is read in
// full, from December of the previous year to the end of November.
func SeasonalFetchWindow(year, startMonth, endMonth int, gapFill bool) (time.Time, time.Time) {
	if gapFill {
		start, end := Window(year, startMonth, endMonth)
		if endMonth == 12 {
			end = end.AddDate(0, 1, 0)
		}
		return start.AddDate(0, -1, 0), end
	}
	var start, end time.Time
	for i, s := range Seasons {
		sStart, sEnd := s.Range(year)
		if i == 0 || sStart.Before(start) {
			start = sStart
		}
		if i == 0 || sEnd.After(end) {
			end = sEnd
		}
	}
	return start, end
}

// ExportSeasonal writes one row per zone with, for every season, the mean,
// median and sum of each core and derived band and the hourly temperature
// and wind speed exposure counts, each averaged over the zone. Seasons are
// cut from SeasonalFetchWindow; a season without images has empty cells.
func ExportSeasonal(ctx context.Context, o ExportOptions) (Result, error) {
	if err := o.validate(); err != nil {
		return Result{}, err
	}
	log := zap.L().With(
		zap.String("component", "weather.seasonal"),
		zap.String("region", o.Region.Name),
		zap.Int("year", o.Year),
	)
	start, end := SeasonalFetchWindow(o.Year, o.StartMonth, o.EndMonth, o.GapFill)
	coll, err := prepared(ctx, o, start, end)
	if err != nil {
		return Result{}, err
	}
	vars := o.variables()
	base := statBands(vars)

	rows := make([][]string, len(o.Region.Features))
	for i, f := range o.Region.Features {
		rows[i] = []string{f.ID}
	}
	for _, s := range Seasons {
		sStart, sEnd := s.Range(o.Year)
		images := coll.Filter(sStart, sEnd)
		if len(images) == 0 {
			for i := range rows {
				for range base {
					rows[i] = append(rows[i], "")
				}
			}
			log.Debug("weather: season has no images", zap.String("season", s.Code))
			continue
		}
		derived, err := images.Map(Derive)
		if err != nil {
			return Result{}, err
		}
		stats, err := seasonImage(derived, vars)
		if err != nil {
			return Result{}, err
		}
		means, err := Reduce(stats, o.Region.Features, base)
		if err != nil {
			return Result{}, err
		}
		for i := range rows {
			for _, v := range means[i] {
				rows[i] = append(rows[i], formatValue(v))
			}
		}
		log.Debug("weather: season reduced", zap.String("season", s.Code), zap.Int("images", len(images)))
	}

	header := append([]string{idColumn(o.Region)}, SeasonalColumns(vars)...)
	path := filepath.Join(o.OutputDir, SeasonalFileName(o.Region.Name, o.Year, o.StartMonth, o.EndMonth))
	if err := writeCSV(path, header, rows); err != nil {
		return Result{}, err
	}
	log.Info("weather: seasonal export written", zap.String("path", path), zap.Int("rows", len(rows)))
	return Result{Path: path, Rows: len(rows)}, nil
}

// seasonImage computes the per-pixel statistics of a derived collection
// as one image whose bands follow statBands.
func seasonImage(c Collection, vars []string) (Image, error) {
	out := Image{Time: c[0].Time}
	for _, b := range append(append([]string(nil), vars...), DerivedVariables...) {
		grids := make([]*raster.Grid, len(c))
		for i, img := range c {
			g, err := band(img, b)
			if err != nil {
				return Image{}, err
			}
			grids[i] = g
		}
		mean, median, sum := pixelStats(grids)
		out.Bands = append(out.Bands,
			Band{Name: b + "_mean", Grid: mean},
			Band{Name: b + "_median", Grid: median},
			Band{Name: b + "_sum", Grid: sum},
		)
	}

	temp := make([]*raster.Grid, len(c))
	wind := make([]*raster.Grid, len(c))
	for i, img := range c {
		temp[i], _ = img.Band(TemperatureC)
		wind[i], _ = img.Band(WindSpeed)
	}
	out.Bands = append(out.Bands, binCounts(temp, "temp_h_", TempBinMin, TempBinMax)...)
	out.Bands = append(out.Bands, binCounts(wind, "wind_h_", WindBinMin, WindBinMax)...)
	return out, nil
}

// pixelStats reduces a stack of grids per pixel, skipping masked values.
func pixelStats(grids []*raster.Grid) (mean, median, sum *raster.Grid) {
	t := grids[0]
	mean = raster.New(t.GeoTransform, t.Width, t.Height)
	median = raster.New(t.GeoTransform, t.Width, t.Height)
	sum = raster.New(t.GeoTransform, t.Width, t.Height)
	vals := make([]float64, 0, len(grids))
	for px := range t.Data {
		vals = vals[:0]
		for _, g := range grids {
			if px < len(g.Data) && !math.IsNaN(g.Data[px]) {
				vals = append(vals, g.Data[px])
			}
		}
		if len(vals) == 0 {
			continue
		}
		var s float64
		for _, v := range vals {
			s += v
		}
		sum.Data[px] = s
		mean.Data[px] = s / float64(len(vals))
		median.Data[px] = medianOf(vals)
	}
	return mean, median, sum
}

func medianOf(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// binCounts counts, per pixel, the images whose rounded value equals each
// integer in [lo, hi]. Pixels never valid stay masked.
func binCounts(grids []*raster.Grid, prefix string, lo, hi int) []Band {
	t := grids[0]
	counts := make([]*raster.Grid, hi-lo+1)
	for i := range counts {
		counts[i] = raster.New(t.GeoTransform, t.Width, t.Height)
	}
	valid := make([]bool, len(t.Data))
	for _, g := range grids {
		for px, v := range g.Data {
			if math.IsNaN(v) || px >= len(valid) {
				continue
			}
			if !valid[px] {
				valid[px] = true
				for _, c := range counts {
					c.Data[px] = 0
				}
			}
			if k := int(math.Round(v)); k >= lo && k <= hi {
				counts[k-lo].Data[px]++
			}
		}
	}
	out := make([]Band, len(counts))
	for i, c := range counts {
		out[i] = Band{Name: prefix + strconv.Itoa(lo+i), Grid: c}
	}
	return out
}
