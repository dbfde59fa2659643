package weather

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// stackLayout is the timestamp in hourly stack file names, era5_YYYYMMDDHH.tif.
const stackLayout = "2006010215"

// GeoTIFFStack reads hourly ERA5-Land GeoTIFFs from a directory. Band i of
// every file holds BandOrder[i-1]. Decoded files are kept in an LRU cache
// since consecutive month groups share their gap-fill context.
type GeoTIFFStack struct {
	Dir       string
	BandOrder []string

	cache *lru.Cache[string, []*raster.Grid]
}

// NewGeoTIFFStack opens a stack source caching up to cacheSize files.
func NewGeoTIFFStack(dir string, bandOrder []string, cacheSize int) (*GeoTIFFStack, error) {
	if len(bandOrder) == 0 {
		bandOrder = CoreVariables
	}
	if cacheSize <= 0 {
		cacheSize = 24 * 31
	}
	cache, err := lru.New[string, []*raster.Grid](cacheSize)
	if err != nil {
		return nil, eris.Wrap(err, "weather: create stack cache")
	}
	return &GeoTIFFStack{Dir: dir, BandOrder: bandOrder, cache: cache}, nil
}

// StackFile is one hourly file of the stack.
type StackFile struct {
	Path string
	Time time.Time
}

// List returns the stack files with start <= time < end, in time order.
func (s *GeoTIFFStack) List(start, end time.Time) ([]StackFile, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "weather: read stack dir %s", s.Dir)
	}
	var files []StackFile
	for _, e := range entries {
		t, ok := parseStackName(e.Name())
		if e.IsDir() || !ok || t.Before(start) || !t.Before(end) {
			continue
		}
		files = append(files, StackFile{Path: filepath.Join(s.Dir, e.Name()), Time: t})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Time.Before(files[j].Time) })
	return files, nil
}

func parseStackName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "era5_") || !strings.EqualFold(filepath.Ext(name), ".tif") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "era5_"), filepath.Ext(name))
	t, err := time.Parse(stackLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Fetch implements Source. Grids are cropped to the request bound.
// Variables missing from BandOrder come back fully masked.
func (s *GeoTIFFStack) Fetch(ctx context.Context, req Request) (Collection, error) {
	vars := req.Variables
	if len(vars) == 0 {
		vars = CoreVariables
	}
	files, err := s.List(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	out := make(Collection, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "weather: stack fetch cancelled")
		}
		grids, err := s.read(f.Path)
		if err != nil {
			return nil, err
		}
		img := Image{Time: f.Time}
		for _, v := range vars {
			var g *raster.Grid
			if i := slices.Index(s.BandOrder, v); i >= 0 && i < len(grids) {
				g = grids[i].Crop(req.Bound)
			}
			if g == nil {
				g = maskedLike(grids[0], req.Bound)
			}
			img.Bands = append(img.Bands, Band{Name: v, Grid: g})
		}
		out = append(out, img)
	}
	zap.L().Debug("weather: read geotiff stack",
		zap.String("component", "weather.geotiff"),
		zap.Int("images", len(out)),
	)
	return out, nil
}

func (s *GeoTIFFStack) read(path string) ([]*raster.Grid, error) {
	if grids, ok := s.cache.Get(path); ok {
		stackCacheHits.Inc()
		return grids, nil
	}
	stackCacheMisses.Inc()

	info, err := raster.Stat(path)
	if err != nil {
		return nil, err
	}
	n := min(info.Bands, len(s.BandOrder))
	if n == 0 {
		return nil, eris.Errorf("weather: %s has no bands", path)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i + 1
	}
	grids, err := raster.ReadBands(path, idx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(path, grids)
	return grids, nil
}

// maskedLike returns a fully masked grid covering b on g's pixel lattice,
// or a single masked pixel when b misses g.
func maskedLike(g *raster.Grid, b orb.Bound) *raster.Grid {
	if c := g.Crop(b); c != nil {
		return raster.New(c.GeoTransform, c.Width, c.Height)
	}
	return raster.New(g.GeoTransform, 1, 1)
}
