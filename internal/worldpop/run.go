package worldpop

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/store"
	"github.com/sells-group/exposure-cli/internal/vector"
)

// Zones returns the admin units aggregated at level. Levels 3 and 4 use
// the AOI files under aoiDir, creating them from the shapefiles when
// missing; the other levels read the shapefile directly.
func (s Shapes) Zones(aoiDir string, level int) (*geojson.FeatureCollection, error) {
	var (
		name   string
		create func(string) (string, *geojson.FeatureCollection, error)
	)
	switch level {
	case 3:
		name, create = ADM3File, s.CreateADM3
	case 4:
		name, create = ADM4OutskirtsFile, s.CreateADM4WithOutskirts
	default:
		return s.LoadAdminArea(level)
	}
	path := filepath.Join(aoiDir, name)
	if _, err := os.Stat(path); err == nil {
		return vector.ReadGeoJSON(path)
	}
	_, fc, err := create(aoiDir)
	return fc, err
}

// RunOptions configures Run.
type RunOptions struct {
	Downloader  *Downloader
	Shapes      Shapes
	Year        int
	DataDir     string
	AOIDir      string
	OutputDir   string
	Level       int
	Clip        bool
	Concurrency int
	Store       store.Store
}

// Run downloads and extracts the rasters of one year, then aggregates
// them to admin units.
func Run(ctx context.Context, opts RunOptions) (AggregateSummary, error) {
	log := zap.L().With(zap.String("component", "worldpop.run"), zap.Int("year", opts.Year))
	yearDir := filepath.Join(opts.DataDir, strconv.Itoa(opts.Year))
	extractDir := filepath.Join(yearDir, "extracted")

	zip, err := opts.Downloader.Download(ctx, opts.Year, yearDir)
	if err != nil {
		return AggregateSummary{}, err
	}
	if _, err := os.Stat(zip); err == nil {
		if _, err := Extract(zip, extractDir); err != nil {
			return AggregateSummary{}, err
		}
	} else {
		log.Info("worldpop: no archive, using extracted rasters", zap.String("dir", extractDir))
	}

	zones, err := opts.Shapes.Zones(opts.AOIDir, opts.Level)
	if err != nil {
		return AggregateSummary{}, eris.Wrap(err, "worldpop: load zones")
	}
	log.Info("worldpop: loaded admin zones", zap.Int("level", opts.Level), zap.Int("zones", len(zones.Features)))

	return Aggregate(ctx, AggregateOptions{
		InputDir:    extractDir,
		OutputDir:   opts.OutputDir,
		Level:       opts.Level,
		Zones:       zones,
		Clip:        opts.Clip,
		Concurrency: opts.Concurrency,
		Store:       opts.Store,
	})
}
