package weather

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exposure-cli/internal/raster"
)

func openMeteoServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "ms", q.Get("wind_speed_unit"))
		assert.Equal(t, "unixtime", q.Get("timeformat"))
		assert.Equal(t, "era5_land", q.Get("models"))
		assert.Equal(t, "2024-01-01", q.Get("start_date"))
		assert.Equal(t, "2024-01-01", q.Get("end_date"))
		assert.Equal(t, "secret", q.Get("apikey"))
		assert.Contains(t, q.Get("hourly"), "wind_direction_10m")

		n := len(strings.Split(q.Get("latitude"), ","))
		loc := map[string]any{
			"latitude":  0.0,
			"longitude": 10.0,
			"hourly": map[string]any{
				"time":               []int64{1704067200, 1704070800},
				"temperature_2m":     []any{10.0, nil},
				"snow_depth":         []any{0.1, 0.2},
				"snowfall":           []any{1.0, 2.0},
				"precipitation":      []any{2.0, 0.0},
				"wind_speed_10m":     []any{5.0, 5.0},
				"wind_direction_10m": []any{270.0, 180.0},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_ = json.NewEncoder(w).Encode(loc)
			return
		}
		locs := make([]any, n)
		for i := range locs {
			locs[i] = loc
		}
		_ = json.NewEncoder(w).Encode(locs)
	}))
}

func omRequest() Request {
	return Request{
		Bound: orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{10.2, 0.05}},
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Scale: 11132,
	}
}

func TestOpenMeteoFetch(t *testing.T) {
	var hits atomic.Int32
	srv := openMeteoServer(t, &hits)
	defer srv.Close()

	cacheDir := t.TempDir()
	client, err := NewOpenMeteo(OpenMeteoOptions{
		BaseURL: srv.URL, APIKey: "secret", CacheDir: cacheDir, MaxPoints: 1, RatePerSec: 100,
	})
	require.NoError(t, err)

	coll, err := client.Fetch(context.Background(), omRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "one request per point")
	require.Len(t, coll, 2)
	assert.Equal(t, time.Unix(1704067200, 0).UTC(), coll[0].Time)
	assert.Equal(t, CoreVariables, coll[0].BandNames())

	band := func(i int, name string) []float64 {
		g, ok := coll[i].Band(name)
		require.True(t, ok, name)
		require.Len(t, g.Data, 2)
		return g.Data
	}
	assert.InDelta(t, 283.15, band(0, Temperature2m)[0], 1e-9)
	assert.True(t, math.IsNaN(band(1, Temperature2m)[1]))
	assert.InDelta(t, 0.01, band(0, Snowfall)[1], 1e-12)
	assert.InDelta(t, 0.002, band(0, TotalPrecipitation)[0], 1e-12)
	assert.InDelta(t, 0.2, band(1, SnowDepth)[0], 1e-12)
	// wind from the west blows towards +u
	assert.InDelta(t, 5, band(0, WindU10m)[0], 1e-9)
	assert.InDelta(t, 0, band(0, WindV10m)[0], 1e-9)
	// wind from the south blows towards +v
	assert.InDelta(t, 5, band(1, WindV10m)[0], 1e-9)
	assert.True(t, math.IsNaN(band(0, SnowCover)[0]))
	assert.True(t, math.IsNaN(band(0, Snowmelt)[1]))

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// served from the disk cache
	again, err := client.Fetch(context.Background(), omRequest())
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOpenMeteoBatchedPoints(t *testing.T) {
	var hits atomic.Int32
	srv := openMeteoServer(t, &hits)
	defer srv.Close()

	client, err := NewOpenMeteo(OpenMeteoOptions{BaseURL: srv.URL, APIKey: "secret", RatePerSec: 100})
	require.NoError(t, err)
	coll, err := client.Fetch(context.Background(), omRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	require.Len(t, coll, 2)

	_, err = client.Fetch(context.Background(), Request{
		Bound: omRequest().Bound, Start: omRequest().Start, End: omRequest().End, Scale: 11132,
		Variables: []string{Temperature2m},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "no cache dir configured")
}

func TestOpenMeteoPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Parameter 'start_date' is out of allowed range"}`))
	}))
	defer srv.Close()

	client, err := NewOpenMeteo(OpenMeteoOptions{BaseURL: srv.URL, RatePerSec: 100})
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), omRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}

func TestDecodeLocations(t *testing.T) {
	locs, err := decodeLocations([]byte(` [{"latitude":1,"hourly":{"time":[1]}},{"latitude":2}]`))
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, 2.0, locs[1].Latitude)

	locs, err = decodeLocations([]byte(`{"latitude":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3.0, locs[0].Latitude)

	_, err = decodeLocations([]byte(`{`))
	assert.Error(t, err)
}

func writeStackFile(t *testing.T, dir, name string, vals ...float64) {
	t.Helper()
	g := raster.New([6]float64{100, 0.5, 0, 10, 0, -0.5}, 2, 2)
	copy(g.Data, vals)
	require.NoError(t, raster.Write(filepath.Join(dir, name), g, 4326))
}

func TestGeoTIFFStack(t *testing.T) {
	dir := t.TempDir()
	writeStackFile(t, dir, "era5_2024010101.tif", 281, 282, 283, 284)
	writeStackFile(t, dir, "era5_2024010100.tif", 271, 272, 273, math.NaN())
	writeStackFile(t, dir, "era5_2024020100.tif", 1, 2, 3, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "era5_bad.tif"), nil, 0o644))

	stack, err := NewGeoTIFFStack(dir, []string{Temperature2m}, 8)
	require.NoError(t, err)

	files, err := stack.List(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), files[0].Time)

	req := Request{
		Bound:     orb.Bound{Min: orb.Point{100, 9}, Max: orb.Point{101, 10}},
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Variables: []string{Temperature2m, Snowfall},
	}
	coll, err := stack.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, coll, 2)

	temp, ok := coll[0].Band(Temperature2m)
	require.True(t, ok)
	assert.Equal(t, 271.0, temp.Data[0])
	assert.True(t, math.IsNaN(temp.Data[3]))
	snow, ok := coll[1].Band(Snowfall)
	require.True(t, ok)
	for _, v := range snow.Data {
		assert.True(t, math.IsNaN(v))
	}
	assert.Equal(t, 2, stack.cache.Len())

	_, err = stack.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, stack.cache.Len())
}

func TestParseStackName(t *testing.T) {
	ts, ok := parseStackName("era5_2023123123.tif")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), ts)

	for _, name := range []string{"era5_20231231.tif", "gfs_2023123123.tif", "era5_2023123123.nc"} {
		_, ok := parseStackName(name)
		assert.False(t, ok, name)
	}
}

func TestWriteMetrics(t *testing.T) {
	openMeteoRequests.Add(0)
	path := filepath.Join(t.TempDir(), "weather.prom")
	require.NoError(t, WriteMetrics(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "exposure_openmeteo_requests_total")
}
