package worldpop

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exposure-cli/internal/model"
	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/store"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// Value is a statistic that is written as an empty cell when undefined.
type Value float64

// MarshalCSV implements gocsv.TypeMarshaller.
func (v Value) MarshalCSV() (string, error) {
	if math.IsNaN(float64(v)) {
		return "", nil
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (v *Value) UnmarshalCSV(s string) error {
	if s == "" || strings.EqualFold(s, "nan") {
		*v = Value(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// Row is one admin unit's statistics for one raster.
type Row struct {
	ADM0Pcode string `csv:"ADM0_PCODE"`
	ADM1Pcode string `csv:"ADM1_PCODE"`
	ADM2Pcode string `csv:"ADM2_PCODE"`
	ADM3Pcode string `csv:"ADM3_PCODE"`
	ADM4Pcode string `csv:"ADM4_PCODE"`
	Outskirt  string `csv:"outskirt"`
	Sex       string `csv:"sex"`
	AgeGroup  string `csv:"age_group"`
	Year      int    `csv:"year"`
	Sum       Value  `csv:"sum"`
	Mean      Value  `csv:"mean"`
	Min       Value  `csv:"min"`
	Max       Value  `csv:"max"`
	Std       Value  `csv:"std"`
	Count     int    `csv:"count"`
}

// RasterInfo is what a WorldPop age/sex file name encodes, e.g.
// ukr_f_05_2020_CN_100m_R2025A_v1.tif.
type RasterInfo struct {
	Stem     string
	Country  string
	Sex      string
	AgeGroup string
	Year     int
}

// ParseRasterName reads <iso3>_<a>_<b>_<year>_... . Totals named
// <iso3>_t_<f|m>_... come out as sex F or M with age group T.
func ParseRasterName(name string) (RasterInfo, error) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return RasterInfo{}, eris.Errorf("worldpop: unrecognised raster name %q", name)
	}
	year, err := strconv.Atoi(parts[3])
	if err != nil {
		return RasterInfo{}, eris.Errorf("worldpop: no year in raster name %q", name)
	}
	sex, age := strings.ToUpper(parts[1]), strings.ToUpper(parts[2])
	sex, age = normalizeSexAge(sex, age)
	return RasterInfo{
		Stem:     stem,
		Country:  strings.ToUpper(parts[0]),
		Sex:      sex,
		AgeGroup: age,
		Year:     year,
	}, nil
}

func normalizeSexAge(sex, age string) (string, string) {
	if sex == "T" && (age == "F" || age == "M") {
		return age, sex
	}
	return sex, age
}

// OutputName is the statistics CSV of a raster at an admin level.
func OutputName(stem string, level int) string {
	return fmt.Sprintf("%s_adm%d.csv", stem, level)
}

// ClippedName is the clipped GeoTIFF of a raster.
func ClippedName(stem string) string {
	return stem + "_clipped.tif"
}

// ZonalRows reduces g over every zone.
func ZonalRows(g *raster.Grid, info RasterInfo, zones *geojson.FeatureCollection) []*Row {
	rows := make([]*Row, 0, len(zones.Features))
	for _, z := range zones.Features {
		s := g.ZonalStats(z.Geometry)
		p := z.Properties
		rows = append(rows, &Row{
			ADM0Pcode: vector.PropString(p, PcodeProperty(0)),
			ADM1Pcode: vector.PropString(p, PcodeProperty(1)),
			ADM2Pcode: vector.PropString(p, PcodeProperty(2)),
			ADM3Pcode: vector.PropString(p, PcodeProperty(3)),
			ADM4Pcode: vector.PropString(p, PcodeProperty(4)),
			Outskirt:  vector.PropString(p, OutskirtProperty),
			Sex:       info.Sex,
			AgeGroup:  info.AgeGroup,
			Year:      info.Year,
			Sum:       Value(s.Sum),
			Mean:      Value(s.Mean),
			Min:       Value(s.Min),
			Max:       Value(s.Max),
			Std:       Value(s.Std),
			Count:     s.Count,
		})
	}
	return rows
}

// Clip crops g to the zones' extent and masks pixels outside every zone.
// Zones without geometry are skipped. It returns nil when the zones miss g.
func Clip(g *raster.Grid, zones *geojson.FeatureCollection) *raster.Grid {
	geoms := make([]orb.Geometry, 0, len(zones.Features))
	var b orb.Bound
	for _, z := range zones.Features {
		if z.Geometry == nil {
			continue
		}
		if len(geoms) == 0 {
			b = z.Geometry.Bound()
		} else {
			b = b.Union(z.Geometry.Bound())
		}
		geoms = append(geoms, z.Geometry)
	}
	if len(geoms) == 0 {
		return nil
	}
	cropped := g.Crop(b)
	if cropped == nil {
		return nil
	}
	return cropped.Mask(geoms)
}

// WriteRows writes rows to path with gocsv.
func WriteRows(path string, rows []*Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "worldpop: create directory for %s", path)
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "worldpop: create %s", tmp)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "worldpop: write %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "worldpop: close %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "worldpop: rename %s", path)
	}
	return nil
}

// ReadRows loads a statistics CSV.
func ReadRows(path string) ([]*Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "worldpop: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	var rows []*Row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, eris.Wrapf(err, "worldpop: parse %s", path)
	}
	return rows, nil
}

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	InputDir    string
	OutputDir   string
	Level       int
	Zones       *geojson.FeatureCollection
	Clip        bool
	Concurrency int
	Store       store.Store // optional task ledger
}

// AggregateSummary counts the rasters of an Aggregate run.
type AggregateSummary struct {
	Written int
	Skipped int
	Failed  int
	Files   []string
}

// ListRasters returns the .tif files directly under dir, sorted.
func ListRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "worldpop: read %s", dir)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".tif") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Aggregate writes <stem>_adm<level>.csv for every raster in InputDir,
// skipping rasters whose output exists. Rasters are processed
// opts.Concurrency at a time; failures are logged and reported together
// after every raster has been attempted.
func Aggregate(ctx context.Context, opts AggregateOptions) (AggregateSummary, error) {
	log := zap.L().With(zap.String("component", "worldpop.aggregate"), zap.Int("level", opts.Level))
	if opts.Zones == nil || len(opts.Zones.Features) == 0 {
		return AggregateSummary{}, eris.New("worldpop: aggregate needs admin zones")
	}
	rasters, err := ListRasters(opts.InputDir)
	if err != nil {
		return AggregateSummary{}, err
	}
	if len(rasters) == 0 {
		log.Warn("worldpop: no rasters found", zap.String("dir", opts.InputDir))
		return AggregateSummary{}, nil
	}

	var (
		mu     sync.Mutex
		sum    AggregateSummary
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))
	for _, path := range rasters {
		g.Go(func() error {
			out, skipped, err := aggregateRaster(gctx, path, opts)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				failed = append(failed, filepath.Base(path))
				log.Error("worldpop: raster failed", zap.String("raster", path), zap.Error(err))
			case skipped:
				sum.Skipped++
			default:
				sum.Written++
				sum.Files = append(sum.Files, out)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(sum.Files)

	log.Info("worldpop: aggregation complete",
		zap.Int("written", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	if len(failed) > 0 {
		sort.Strings(failed)
		return sum, eris.Errorf("worldpop: %d raster(s) failed: %v", len(failed), failed)
	}
	return sum, nil
}

func aggregateRaster(ctx context.Context, path string, opts AggregateOptions) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, eris.Wrap(err, "worldpop: aggregate cancelled")
	}
	info, err := ParseRasterName(path)
	if err != nil {
		return "", false, err
	}
	out := filepath.Join(opts.OutputDir, OutputName(info.Stem, opts.Level))
	if _, err := os.Stat(out); err == nil {
		zap.L().Debug("worldpop: output exists, skipping", zap.String("path", out))
		return out, true, nil
	}

	var task *model.ExportTask
	if opts.Store != nil {
		task, err = opts.Store.CreateTask(ctx, model.TaskSpec{
			Kind:        model.KindAggregate,
			Description: filepath.Base(out),
			Region:      info.Country,
			Year:        info.Year,
			Params: map[string]string{
				"level":     strconv.Itoa(opts.Level),
				"sex":       info.Sex,
				"age_group": info.AgeGroup,
			},
		})
		if err != nil {
			return "", false, err
		}
		if err := opts.Store.StartTask(ctx, task.ID); err != nil {
			return "", false, err
		}
	}

	rows, err := aggregateFile(path, out, info, opts)
	if task != nil {
		if err != nil {
			if ferr := opts.Store.FailTask(ctx, task.ID, err); ferr != nil {
				zap.L().Error("worldpop: fail ledger task failed", zap.String("task_id", task.ID), zap.Error(ferr))
			}
		} else if cerr := opts.Store.CompleteTask(ctx, task.ID, rows, out); cerr != nil {
			zap.L().Error("worldpop: complete ledger task failed", zap.String("task_id", task.ID), zap.Error(cerr))
		}
	}
	if err != nil {
		return "", false, err
	}
	return out, false, nil
}

func aggregateFile(path, out string, info RasterInfo, opts AggregateOptions) (int, error) {
	g, err := raster.Read(path, 1)
	if err != nil {
		return 0, err
	}
	rows := ZonalRows(g, info, opts.Zones)
	if err := WriteRows(out, rows); err != nil {
		return 0, err
	}

	if opts.Clip {
		clipped := filepath.Join(opts.OutputDir, ClippedName(info.Stem))
		if _, err := os.Stat(clipped); err != nil {
			if c := Clip(g, opts.Zones); c != nil {
				if err := raster.Write(clipped, c, 4326); err != nil {
					return 0, err
				}
			} else {
				zap.L().Warn("worldpop: zones miss raster, not clipped", zap.String("raster", path))
			}
		}
	}
	zap.L().Info("worldpop: aggregated raster",
		zap.String("component", "worldpop.aggregate"),
		zap.String("raster", filepath.Base(path)),
		zap.Int("zones", len(rows)),
	)
	return len(rows), nil
}
