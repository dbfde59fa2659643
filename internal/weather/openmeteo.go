package weather

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/exposure-cli/internal/fetcher"
	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/resilience"
)

// DefaultOpenMeteoURL is the ERA5 historical archive endpoint.
const DefaultOpenMeteoURL = "https://archive-api.open-meteo.com/v1/archive"

// maxPointsPerRequest is the largest location list sent in one request.
const maxPointsPerRequest = 100

// omHourlyParams are the hourly fields requested from the archive.
var omHourlyParams = []string{
	"temperature_2m",
	"snow_depth",
	"snowfall",
	"precipitation",
	"wind_speed_10m",
	"wind_direction_10m",
}

// OpenMeteoOptions configures the archive client.
type OpenMeteoOptions struct {
	BaseURL    string
	APIKey     string
	CacheDir   string // empty disables the disk cache
	MaxPoints  int
	RatePerSec float64
	Timeout    time.Duration
	Retry      *resilience.RetryConfig
}

// OpenMeteo samples the Open-Meteo ERA5-Land archive on a regular grid.
// snow_cover, snow_density and snowmelt are not served and stay masked.
type OpenMeteo struct {
	opts    OpenMeteoOptions
	http    *fetcher.HTTPFetcher
	breaker *resilience.CircuitBreaker
}

// NewOpenMeteo creates an archive client.
func NewOpenMeteo(opts OpenMeteoOptions) (*OpenMeteo, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenMeteoURL
	}
	if opts.MaxPoints <= 0 || opts.MaxPoints > maxPointsPerRequest {
		opts.MaxPoints = maxPointsPerRequest
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "weather: parse open-meteo url")
	}
	burst := max(int(math.Ceil(opts.RatePerSec)), 1)
	return &OpenMeteo{
		opts: opts,
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout: opts.Timeout,
			Retry:   opts.Retry,
			RateLimiters: map[string]*fetcher.AdaptiveLimiter{
				u.Host: fetcher.NewAdaptiveLimiter(rate.Limit(opts.RatePerSec), burst),
			},
		}),
		breaker: resilience.NewCircuitBreaker(5, time.Minute),
	}, nil
}

type omHourly struct {
	Time          []int64    `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	SnowDepth     []*float64 `json:"snow_depth"`
	Snowfall      []*float64 `json:"snowfall"`
	Precipitation []*float64 `json:"precipitation"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	WindDirection []*float64 `json:"wind_direction_10m"`
}

type omLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Hourly    omHourly `json:"hourly"`
}

// Fetch implements Source.
func (c *OpenMeteo) Fetch(ctx context.Context, req Request) (Collection, error) {
	log := zap.L().With(zap.String("component", "weather.openmeteo"))
	vars := req.Variables
	if len(vars) == 0 {
		vars = CoreVariables
	}
	tmpl := SampleGrid(req.Bound, req.Scale)

	n := tmpl.Width * tmpl.Height
	hours := make(map[int64][]*raster.Grid)
	for start := 0; start < n; start += c.opts.MaxPoints {
		end := min(start+c.opts.MaxPoints, n)
		locs, err := c.fetchChunk(ctx, tmpl, start, end, req.Start, req.End)
		if err != nil {
			return nil, err
		}
		if len(locs) != end-start {
			return nil, eris.Errorf("weather: open-meteo returned %d locations for %d points", len(locs), end-start)
		}
		for i, loc := range locs {
			px := start + i
			for t, ts := range loc.Hourly.Time {
				grids, ok := hours[ts]
				if !ok {
					grids = make([]*raster.Grid, len(vars))
					for j := range grids {
						grids[j] = raster.New(tmpl.GeoTransform, tmpl.Width, tmpl.Height)
					}
					hours[ts] = grids
				}
				for j, v := range vars {
					grids[j].Data[px] = loc.Hourly.value(v, t)
				}
			}
		}
	}

	stamps := make([]int64, 0, len(hours))
	for ts := range hours {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	out := make(Collection, 0, len(stamps))
	for _, ts := range stamps {
		img := Image{Time: time.Unix(ts, 0).UTC()}
		for j, v := range vars {
			img.Bands = append(img.Bands, Band{Name: v, Grid: hours[ts][j]})
		}
		out = append(out, img)
	}
	out = out.Filter(req.Start, req.End)
	log.Debug("weather: fetched open-meteo collection",
		zap.Int("points", n),
		zap.Int("images", len(out)),
	)
	return out, nil
}

// value converts one hourly field to ERA5-Land units.
func (h *omHourly) value(variable string, i int) float64 {
	switch variable {
	case Temperature2m:
		return at(h.Temperature, i) + 273.15
	case SnowDepth:
		return at(h.SnowDepth, i)
	case Snowfall:
		return at(h.Snowfall, i) / 100
	case TotalPrecipitation:
		return at(h.Precipitation, i) / 1000
	case WindU10m:
		speed, dir := at(h.WindSpeed, i), at(h.WindDirection, i)*math.Pi/180
		return -speed * math.Sin(dir)
	case WindV10m:
		speed, dir := at(h.WindSpeed, i), at(h.WindDirection, i)*math.Pi/180
		return -speed * math.Cos(dir)
	}
	return math.NaN()
}

func at(xs []*float64, i int) float64 {
	if i >= len(xs) || xs[i] == nil {
		return math.NaN()
	}
	return *xs[i]
}

// requestURL builds the archive query for pixels [from, to) of tmpl. The
// key identifies the query without the API key.
func (c *OpenMeteo) requestURL(tmpl *raster.Grid, from, to int, start, end time.Time) (string, string) {
	lats := make([]string, 0, to-from)
	lons := make([]string, 0, to-from)
	for px := from; px < to; px++ {
		p := tmpl.PixelCenter(px%tmpl.Width, px/tmpl.Width)
		lons = append(lons, strconv.FormatFloat(p[0], 'f', 4, 64))
		lats = append(lats, strconv.FormatFloat(p[1], 'f', 4, 64))
	}

	q := url.Values{}
	q.Set("latitude", strings.Join(lats, ","))
	q.Set("longitude", strings.Join(lons, ","))
	q.Set("start_date", start.UTC().Format("2006-01-02"))
	q.Set("end_date", end.UTC().Add(-time.Second).Format("2006-01-02"))
	q.Set("hourly", strings.Join(omHourlyParams, ","))
	q.Set("models", "era5_land")
	q.Set("wind_speed_unit", "ms")
	q.Set("timeformat", "unixtime")
	q.Set("timezone", "GMT")

	sum := sha1.Sum([]byte(c.opts.BaseURL + "?" + q.Encode()))
	key := hex.EncodeToString(sum[:])
	if c.opts.APIKey != "" {
		q.Set("apikey", c.opts.APIKey)
	}
	return c.opts.BaseURL + "?" + q.Encode(), key
}

func (c *OpenMeteo) fetchChunk(ctx context.Context, tmpl *raster.Grid, from, to int, start, end time.Time) ([]omLocation, error) {
	rawURL, key := c.requestURL(tmpl, from, to, start, end)
	cachePath := ""
	if c.opts.CacheDir != "" {
		cachePath = filepath.Join(c.opts.CacheDir, key+".json")
		if data, err := os.ReadFile(cachePath); err == nil {
			if locs, err := decodeLocations(data); err == nil {
				openMeteoCacheHits.Inc()
				return locs, nil
			}
		}
	}

	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		openMeteoRequests.Inc()
		body, err := c.http.Download(ctx, rawURL)
		if err != nil {
			return err
		}
		defer body.Close() //nolint:errcheck
		data, err = io.ReadAll(body)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "weather: open-meteo request")
	}

	locs, err := decodeLocations(data)
	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := writeCache(cachePath, data); err != nil {
			zap.L().Warn("weather: open-meteo cache write failed", zap.String("path", cachePath), zap.Error(err))
		}
	}
	return locs, nil
}

// decodeLocations accepts the single-object and array response shapes.
func decodeLocations(data []byte) ([]omLocation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var locs []omLocation
		if err := json.Unmarshal(trimmed, &locs); err != nil {
			return nil, eris.Wrap(err, "weather: decode open-meteo response")
		}
		return locs, nil
	}
	var loc omLocation
	if err := json.Unmarshal(trimmed, &loc); err != nil {
		return nil, eris.Wrap(err, "weather: decode open-meteo response")
	}
	return []omLocation{loc}, nil
}

func writeCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
