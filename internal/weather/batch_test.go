package weather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exposure-cli/internal/fetcher"
	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/model"
	"github.com/sells-group/exposure-cli/internal/store"
	"github.com/sells-group/exposure-cli/internal/vector"
)

func writeRegionFile(t *testing.T, dir string) string {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, z := range []struct {
		id, oblast string
		x          float64
	}{{"Z1", "north", 0}, {"Z2", "north", 2}, {"Z3", "south", 4}} {
		f := geojson.NewFeature(orb.Polygon{{{z.x, 0}, {z.x + 1, 0}, {z.x + 1, 1}, {z.x, 1}, {z.x, 0}}})
		f.Properties["aiyl"] = z.id
		f.Properties["oblast"] = z.oblast
		fc.Append(f)
	}
	path := filepath.Join(dir, "zones.geojson")
	require.NoError(t, vector.WriteGeoJSON(path, fc))
	return path
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	zones := writeRegionFile(t, dir)
	cell := geo.CellAt(orb.Point{74.6, 42.87}, 7)
	require.NotEmpty(t, cell)

	doc := `
regions:
  - name: KGZ_NORTH
    id_property: aiyl
    path: ` + zones + `
    filter:
      oblast: north
    start_year: 2020
    end_year: 2021
  - name: KGZ_H3
    h3: ["` + cell + `"]
`
	path := filepath.Join(dir, "regions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	regions, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, 2020, regions[0].StartYear)
	assert.Equal(t, map[string]string{"oblast": "north"}, regions[0].Filter)

	north, ok := Find(regions, "KGZ_NORTH")
	require.True(t, ok)
	require.NoError(t, north.Load())
	require.Len(t, north.Features, 2)
	assert.Equal(t, "Z1", north.Features[0].ID)
	assert.Equal(t, "Z2", north.Features[1].ID)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{3, 1}}, north.Bound())

	hex, ok := Find(regions, "KGZ_H3")
	require.True(t, ok)
	require.NoError(t, hex.Load())
	assert.Equal(t, "hex_id", hex.IDProperty)
	require.Len(t, hex.Features, 1)
	assert.Equal(t, cell, hex.Features[0].ID)
	assert.True(t, hex.Bound().Contains(orb.Point{74.6, 42.87}))

	_, ok = Find(regions, "missing")
	assert.False(t, ok)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()
	for name, doc := range map[string]string{
		"no name":   "regions:\n  - path: a.geojson\n",
		"no source": "regions:\n  - name: X\n",
		"bad yaml":  "regions: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "regions.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			_, err := LoadCatalog(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRegionLoadNoZones(t *testing.T) {
	dir := t.TempDir()
	r := &Region{Name: "EMPTY", IDProperty: "aiyl", Path: writeRegionFile(t, dir), Filter: map[string]string{"oblast": "east"}}
	err := r.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no zones")
}

func openLedger(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func batchSource() *memSource {
	return &memSource{
		coll: Collection{
			coreImage(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 270, 1, 1),
			coreImage(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 280, 1, 1),
			coreImage(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), 290, 1, 1),
		},
		fail: func(req Request) error {
			if req.Start.Month() == time.July {
				return errors.New("archive unavailable")
			}
			return nil
		},
	}
}

func TestProcessRegion(t *testing.T) {
	ctx := context.Background()
	st := openLedger(t)
	src := batchSource()
	dir := t.TempDir()

	sum, err := ProcessRegion(ctx, squareRegion(), BatchOptions{
		Source: src, Store: st, StartYear: 2024, EndYear: 2024, GroupMonths: 6,
		Hourly: true, Seasonal: true, OutputDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Completed: 3, Failed: 1}, sum)

	// seasonal runs before hourly within each month group; without gap
	// filling every seasonal export reads whole seasons from December on
	require.Len(t, src.reqs, 4)
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), src.reqs[0].Start)
	assert.Equal(t, time.January, src.reqs[1].Start.Month())
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), src.reqs[2].Start)
	assert.Equal(t, time.July, src.reqs[3].Start.Month())

	assert.FileExists(t, filepath.Join(dir, "weather_hourly_TST_2024_m01-06.csv"))
	assert.FileExists(t, filepath.Join(dir, "weather_stats_TST_2024_m01-06.csv"))
	assert.FileExists(t, filepath.Join(dir, "weather_stats_TST_2024_m07-12.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "weather_hourly_TST_2024_m07-12.csv"))

	failed, err := st.ListTasks(ctx, store.TaskFilter{Status: model.TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, model.KindHourly, failed[0].Kind)
	assert.Equal(t, 7, failed[0].StartMonth)
	assert.Contains(t, failed[0].Error, "archive unavailable")

	done, err := st.ListTasks(ctx, store.TaskFilter{Status: model.TaskCompleted, Kind: model.KindHourly})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "TST", done[0].Region)
	assert.Equal(t, 4, done[0].Rows)
	assert.Equal(t, "weather_hourly_TST_2024_m01-06.csv", done[0].Description)
	assert.Equal(t, filepath.Join(dir, "weather_hourly_TST_2024_m01-06.csv"), done[0].OutputPath)
	assert.Equal(t, "false", done[0].Params["gap_fill"])
}

func TestProcessRegionYearOverride(t *testing.T) {
	src := &memSource{}
	region := squareRegion()
	region.StartYear, region.EndYear = 2022, 2023

	sum, err := ProcessRegion(context.Background(), region, BatchOptions{
		Source: src, StartYear: 2000, EndYear: 2024, GroupMonths: 12, Hourly: true, OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Completed)
	require.Len(t, src.reqs, 2)
	assert.Equal(t, 2022, src.reqs[0].Start.Year())

	region.StartYear = 2025
	_, err = ProcessRegion(context.Background(), region, BatchOptions{Source: src, Hourly: true})
	assert.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	good := squareRegion()
	other := squareRegion()
	other.Name = "TS2"
	broken := &Region{Name: "BROKEN", Path: filepath.Join(t.TempDir(), "missing.geojson")}

	sum, err := ProcessBatch(context.Background(), []*Region{good, broken, other}, BatchOptions{
		Source: batchSource(), StartYear: 2024, EndYear: 2024, GroupMonths: 6,
		Hourly: true, OutputDir: t.TempDir(), Concurrency: 2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN")
	assert.Equal(t, Summary{Completed: 2, Failed: 2}, sum)
}

func writeHourly(t *testing.T, dir, name string, header []string, rows ...[]string) {
	t.Helper()
	require.NoError(t, writeCSV(filepath.Join(dir, name), header, rows))
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	writeHourly(t, dir, "weather_hourly_KGZ_2024_m07-12.csv",
		[]string{"aiyl", "temperature_2m", "wind_speed", ".geo"},
		[]string{"B", "290", "2", "{}"})
	writeHourly(t, dir, "weather_hourly_KGZ_2024_m01-06.csv",
		[]string{"aiyl", "temperature_2m", ".geo"},
		[]string{"A", "280", "{}"},
		[]string{"A", "281", "{}"})
	writeHourly(t, dir, "weather_hourly_KGZ_2023.csv", []string{"aiyl"}, []string{"old"})
	writeHourly(t, dir, "weather_hourly_UZB_2024.csv", []string{"aiyl"}, []string{"other"})

	res, err := Concat(dir, "KGZ", 2024, 2024)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "KGZ_weather_hourly_2024_2024.csv"), res.Path)
	assert.Equal(t, []string{"weather_hourly_KGZ_2024_m01-06.csv", "weather_hourly_KGZ_2024_m07-12.csv"}, res.Files)
	assert.Equal(t, 3, res.Rows)

	header, rows, err := fetcher.ReadCSVFile(res.Path, fetcher.CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"aiyl", "temperature_2m", "wind_speed"}, header)
	assert.Equal(t, [][]string{{"A", "280", ""}, {"A", "281", ""}, {"B", "290", "2"}}, rows)

	_, err = Concat(dir, "KAZ", 2024, 2024)
	assert.ErrorIs(t, err, ErrNoExports)
}
