package contamination

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exposure-cli/internal/fetcher"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// one degree of longitude at the equator in Web Mercator metres
const degM = 111319.49079327357

func households(pts ...orb.Point) *survey.Table {
	t := &survey.Table{
		Columns:   []string{"hhid", "longitude", "latitude"},
		IDColumn:  "hhid",
		LonColumn: "longitude",
		LatColumn: "latitude",
	}
	for i, p := range pts {
		id := strconv.Itoa(i + 1)
		t.Households = append(t.Households, survey.Household{
			ID:    id,
			Point: p,
			Values: map[string]string{
				"hhid":      id,
				"longitude": strconv.FormatFloat(p[0], 'f', -1, 64),
				"latitude":  strconv.FormatFloat(p[1], 'f', -1, 64),
			},
		})
	}
	return t
}

func feature(g orb.Geometry, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func collection(fs ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		fc.Append(f)
	}
	return fc
}

func cell(t *testing.T, tbl *Table, row int, col string) string {
	t.Helper()
	i := tbl.Column(col)
	require.GreaterOrEqual(t, i, 0, "column %s", col)
	return tbl.Rows[row][i]
}

func cellFloat(t *testing.T, tbl *Table, row int, col string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(cell(t, tbl, row, col), 64)
	require.NoError(t, err)
	return v
}

func TestRoadDistances(t *testing.T) {
	hhs := households(orb.Point{0, 0}, orb.Point{0.03, 0})
	roads := collection(
		feature(orb.LineString{{0.01, -1}, {0.01, 1}}, nil),
		feature(orb.LineString{{0.05, -1}, {0.05, 1}}, nil),
	)

	tbl, summary, err := RoadDistances(hhs, roads)
	require.NoError(t, err)

	assert.Equal(t, []string{"hhid", "longitude", "latitude", RoadDistanceColumn}, tbl.Header)
	assert.Equal(t, -1, tbl.Column(GeometryColumn))
	require.Len(t, tbl.Rows, 2)
	assert.InDelta(t, 0.01*degM, cellFloat(t, tbl, 0, RoadDistanceColumn), 0.01)
	assert.InDelta(t, 0.02*degM, cellFloat(t, tbl, 1, RoadDistanceColumn), 0.01)

	assert.Equal(t, 2, summary.Count)
	assert.InDelta(t, 0.015*degM, summary.Mean, 0.01)
	assert.InDelta(t, 0.01*degM, summary.Min, 0.01)
	assert.InDelta(t, 0.02*degM, summary.Max, 0.01)
}

func TestRoadDistancesPolarHousehold(t *testing.T) {
	hhs := households(orb.Point{0, 0}, orb.Point{0, -90})
	roads := collection(feature(orb.LineString{{0.01, -1}, {0.01, 1}}, nil))

	tbl, summary, err := RoadDistances(hhs, roads)
	require.NoError(t, err)
	assert.InDelta(t, 0.01*degM, cellFloat(t, tbl, 0, RoadDistanceColumn), 0.01)
	assert.Equal(t, "", cell(t, tbl, 1, RoadDistanceColumn))
	assert.Equal(t, 1, summary.Count)
}

func TestRoadDistancesNoRoads(t *testing.T) {
	tbl, summary, err := RoadDistances(households(orb.Point{0, 0}), geojson.NewFeatureCollection())
	require.NoError(t, err)
	assert.Equal(t, "", cell(t, tbl, 0, RoadDistanceColumn))
	assert.Equal(t, 0, summary.Count)
	assert.True(t, math.IsNaN(summary.Mean))
}

func TestHealthDistances(t *testing.T) {
	hhs := households(orb.Point{0, 0})
	facilities := collection(
		feature(orb.Point{0.01, 0}, map[string]any{"amenity": "hospital"}),
		feature(orb.Point{0.002, 0}, map[string]any{"amenity": "pharmacy"}),
		feature(orb.Point{-0.02, 0}, map[string]any{"amenity": "clinic"}),
		feature(orb.Point{0.05, 0}, map[string]any{"amenity": "hospital"}),
	)

	tbl, err := HealthDistances(hhs, facilities, "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hhid", "longitude", "latitude", GeometryColumn,
		"distance_to_hospital_km", "distance_to_clinic_km",
	}, tbl.Header)
	assert.Equal(t, "POINT (0 0)", cell(t, tbl, 0, GeometryColumn))
	assert.InDelta(t, 0.01*degM/1000, cellFloat(t, tbl, 0, "distance_to_hospital_km"), 1e-5)
	assert.InDelta(t, 0.02*degM/1000, cellFloat(t, tbl, 0, "distance_to_clinic_km"), 1e-5)
}

func TestHealthDistancesMissingClass(t *testing.T) {
	facilities := collection(feature(orb.Point{0.01, 0}, map[string]any{"kind": "hospital"}))
	tbl, err := HealthDistances(households(orb.Point{0, 0}), facilities, "kind", []string{"hospital", "dentist"})
	require.NoError(t, err)
	assert.NotEmpty(t, cell(t, tbl, 0, "distance_to_hospital_km"))
	assert.Equal(t, "", cell(t, tbl, 0, "distance_to_dentist_km"))
}

func TestMiningExposure(t *testing.T) {
	hhs := households(orb.Point{0, 0})
	sites := collection(
		feature(orb.Point{0.005, 0}, map[string]any{"category": "coal"}),
		feature(orb.Point{0.02, 0}, map[string]any{"category": "coal"}),
		feature(orb.Point{0, 0.05}, map[string]any{"category": "nickel"}),
		feature(orb.Point{1, 1}, map[string]any{}),
	)

	tbl, err := MiningExposure(hhs, sites, "", []float64{1000, 3000})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hhid", "longitude", "latitude", GeometryColumn,
		"count_coal_within_1km", "count_nickel_within_1km",
		"count_coal_within_3km", "count_nickel_within_3km",
		"distance_to_closest_coal_km", "distance_to_closest_nickel_km",
	}, tbl.Header)
	assert.Equal(t, "1", cell(t, tbl, 0, "count_coal_within_1km"))
	assert.Equal(t, "0", cell(t, tbl, 0, "count_nickel_within_1km"))
	assert.Equal(t, "2", cell(t, tbl, 0, "count_coal_within_3km"))
	assert.Equal(t, "0", cell(t, tbl, 0, "count_nickel_within_3km"))
	assert.InDelta(t, 0.005*degM/1000, cellFloat(t, tbl, 0, "distance_to_closest_coal_km"), 1e-5)
	assert.Greater(t, cellFloat(t, tbl, 0, "distance_to_closest_nickel_km"), 5.5)
}

func TestMiningPolygonMustBeInsideBuffer(t *testing.T) {
	// the pit straddles the 1 km circle so only the 3 km buffer counts it
	pit := orb.Polygon{{{0.008, -0.001}, {0.012, -0.001}, {0.012, 0.001}, {0.008, 0.001}, {0.008, -0.001}}}
	sites := collection(feature(pit, map[string]any{"category": "gold"}))

	tbl, err := MiningExposure(households(orb.Point{0, 0}), sites, "category", []float64{1000, 3000})
	require.NoError(t, err)
	assert.Equal(t, "0", cell(t, tbl, 0, "count_gold_within_1km"))
	assert.Equal(t, "1", cell(t, tbl, 0, "count_gold_within_3km"))
}

func TestCategoriesAndCountColumn(t *testing.T) {
	fc := collection(
		feature(orb.Point{0, 0}, map[string]any{"category": "b"}),
		feature(orb.Point{0, 0}, map[string]any{"category": "a"}),
		feature(orb.Point{0, 0}, map[string]any{"category": "b"}),
	)
	assert.Equal(t, []string{"b", "a"}, Categories(fc, "category"))
	assert.Equal(t, "count_coal_within_10km", CountColumn("coal", 10000))
	assert.Equal(t, "count_coal_within_2km", CountColumn("coal", 2499))
}

func writePM25(t *testing.T, path string, values []float32) {
	t.Helper()
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	require.NoError(t, err)
	defer ds.Close()

	latDim, err := ds.AddDim("lat", 2)
	require.NoError(t, err)
	lonDim, err := ds.AddDim("lon", 2)
	require.NoError(t, err)
	latVar, err := ds.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	require.NoError(t, err)
	lonVar, err := ds.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	require.NoError(t, err)
	v, err := ds.AddVar("GWRPM25", netcdf.FLOAT, []netcdf.Dim{latDim, lonDim})
	require.NoError(t, err)

	require.NoError(t, latVar.WriteFloat64s([]float64{-6.5, -6.0}))
	require.NoError(t, lonVar.WriteFloat64s([]float64{106.0, 106.5}))
	require.NoError(t, v.WriteFloat32s(values))
}

func TestListPM25(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"V6GL02.04.CNNPM25.GL.202302-202302.nc",
		"V6GL02.04.CNNPM25.GL.202301-202301.nc",
		"notes.nc",
		"readme.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := ListPM25(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "2023-01", files[0].Date.Format("2006-01"))
	assert.Equal(t, "2023-02", files[1].Date.Format("2006-01"))

	_, err = ListPM25(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestParsePM25Date(t *testing.T) {
	d, err := ParsePM25Date("V6GL02.04.CNNPM25.GL.202312-202312.nc")
	require.NoError(t, err)
	assert.Equal(t, "2023-12-01", d.Format("2006-01-02"))

	_, err = ParsePM25Date("pm25.nc")
	assert.Error(t, err)
	_, err = ParsePM25Date("a-20231.nc")
	assert.Error(t, err)
}

func TestPM25(t *testing.T) {
	dir := t.TempDir()
	// rows are south to north on disk: [sw, se, nw, ne]
	writePM25(t, filepath.Join(dir, "pm.GL.202301-202301.nc"), []float32{10, 11, 12, 13})
	writePM25(t, filepath.Join(dir, "pm.GL.202302-202302.nc"), []float32{20, 21, 22, 23})

	files, err := ListPM25(dir)
	require.NoError(t, err)

	hhs := households(orb.Point{106.05, -6.45}, orb.Point{106.45, -6.05})
	tbl, err := PM25(hhs, files, "GWRPM25")
	require.NoError(t, err)

	assert.Equal(t, []string{"hhid", "longitude", "latitude", GeometryColumn, "pm25", "date"}, tbl.Header)
	require.Len(t, tbl.Rows, 4)
	assert.Equal(t, "10", cell(t, tbl, 0, "pm25"))
	assert.Equal(t, "13", cell(t, tbl, 1, "pm25"))
	assert.Equal(t, "2023-01-01", cell(t, tbl, 1, "date"))
	assert.Equal(t, "20", cell(t, tbl, 2, "pm25"))
	assert.Equal(t, "2023-02-01", cell(t, tbl, 3, "date"))
	assert.Equal(t, "2", cell(t, tbl, 3, "hhid"))

	_, err = PM25(hhs, files, "missing")
	assert.Error(t, err)
}

func TestClipRoads(t *testing.T) {
	hhs := households(orb.Point{0, 0})
	roads := collection(
		feature(orb.LineString{{0.2, -1}, {0.2, 1}}, map[string]any{"id": "far"}),
		feature(orb.LineString{{0.005, -1}, {0.005, 1}}, map[string]any{"id": "near"}),
		feature(nil, map[string]any{"id": "empty"}),
		feature(orb.LineString{{-1, 0.008}, {1, 0.008}}, map[string]any{"id": "cross"}),
	)

	out := ClipRoads(hhs, roads, 1000)
	require.Len(t, out.Features, 2)
	assert.Equal(t, "near", out.Features[0].Properties["id"])
	assert.Equal(t, "cross", out.Features[1].Properties["id"])

	assert.Len(t, ClipRoads(hhs, roads, 0).Features, 2)
	assert.Len(t, ClipRoads(hhs, roads, 50_000).Features, 3)
}

func TestTableWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs", "roads", "roads.csv")
	tbl := &Table{Header: []string{"hhid", "d"}, Rows: [][]string{{"1", FormatFloat(1.5)}, {"2", FormatFloat(math.NaN())}}}
	require.NoError(t, tbl.WriteCSV(path))

	header, rows, err := fetcher.ReadCSVFile(path, fetcher.CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hhid", "d"}, header)
	assert.Equal(t, [][]string{{"1", "1.5"}, {"2", ""}}, rows)

	back, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Column("d"))
	assert.Len(t, back.Rows, 2)
}

func TestDescribe(t *testing.T) {
	s := Describe([]float64{4, 1, math.NaN(), 3, 2, math.Inf(1)})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.Std, 1e-9)
	assert.InDelta(t, 1.0, s.Min, 1e-9)
	assert.InDelta(t, 1.75, s.Q25, 1e-9)
	assert.InDelta(t, 2.5, s.Q50, 1e-9)
	assert.InDelta(t, 3.25, s.Q75, 1e-9)
	assert.InDelta(t, 4.0, s.Max, 1e-9)
	assert.Len(t, s.Fields(), 8)

	one := Describe([]float64{7})
	assert.Equal(t, 1, one.Count)
	assert.True(t, math.IsNaN(one.Std))
}

func writeFeatureCSV(t *testing.T, root, sub, content string) {
	t.Helper()
	dir := filepath.Join(root, sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, sub+".csv"), []byte(content), 0o644))
}

func TestJoin(t *testing.T) {
	root := t.TempDir()
	writeFeatureCSV(t, root, "a_pm25", "wilcah,hhid,pm25\n3201,1,10\n3201,2,11\n3201,1,99\n")
	writeFeatureCSV(t, root, "b_roads", "hhid,wilcah,road\n2,9999,500\n3,3174,700\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, JoinedFile), []byte("hhid\n"), 0o644))

	files, err := FeatureFiles(root)
	require.NoError(t, err)
	require.Len(t, files, 2)

	tbl, err := Join(files, "hhid")
	require.NoError(t, err)
	assert.Equal(t, []string{"hhid", "wilcah", "pm25", "road"}, tbl.Header)
	assert.Equal(t, [][]string{
		{"1", "3201", "10", ""},
		{"1", "3201", "99", ""},
		{"2", "3201", "11", "500"},
		{"3", "", "", "700"},
	}, tbl.Rows)
}

func TestJoinRepeatedKeysOnBothSides(t *testing.T) {
	root := t.TempDir()
	writeFeatureCSV(t, root, "a_pm25", "hhid,date,pm25\n1,2023-01,10\n1,2023-02,12\n2,2023-01,20\n")
	writeFeatureCSV(t, root, "b_visits", "hhid,visit\n1,a\n1,b\n3,c\n")

	files, err := FeatureFiles(root)
	require.NoError(t, err)
	tbl, err := Join(files, "hhid")
	require.NoError(t, err)

	assert.Equal(t, []string{"hhid", "date", "pm25", "visit"}, tbl.Header)
	assert.Equal(t, [][]string{
		{"1", "2023-01", "10", "a"},
		{"1", "2023-01", "10", "b"},
		{"1", "2023-02", "12", "a"},
		{"1", "2023-02", "12", "b"},
		{"2", "2023-01", "20", ""},
		{"3", "", "", "c"},
	}, tbl.Rows)
}

func TestJoinErrors(t *testing.T) {
	_, err := Join(nil, "hhid")
	assert.Error(t, err)

	root := t.TempDir()
	writeFeatureCSV(t, root, "x", "id,v\n1,2\n")
	files, err := FeatureFiles(root)
	require.NoError(t, err)
	_, err = Join(files, "hhid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "hhid" column`)
}

func TestPublish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	joined := &Table{
		Header: []string{"hhid", "pm25", GeometryColumn, "label"},
		Rows: [][]string{
			{"1", "10.5", "POINT (0 0)", "a"},
			{"2", "", "POINT (1 1)", "b"},
			{"9", "12", "", "c"},
		},
	}
	hhs := households(orb.Point{0, 0}, orb.Point{1, 1})

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "exposure"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "exposure"."contamination" \("hhid" TEXT PRIMARY KEY, geom geometry`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`ADD COLUMN IF NOT EXISTS "pm25" DOUBLE PRECISION, ADD COLUMN IF NOT EXISTS "label" TEXT`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_exposure_contamination"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_exposure_contamination"}, []string{"hhid", "pm25", "label", "geom"}).
		WillReturnResult(3)
	mock.ExpectExec(`ON CONFLICT \("hhid"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	n, err := Publish(context.Background(), mock, joined, hhs, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishReplace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	joined := &Table{
		Header: []string{"hhid", "pm25"},
		Rows:   [][]string{{"1", "10.5"}, {"2", "11"}, {"3", "12"}},
	}
	hhs := households(orb.Point{0, 0}, orb.Point{1, 1})

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "features"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`DROP TABLE IF EXISTS "features"."pm"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "features"."pm" \("hhid" TEXT PRIMARY KEY`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`ADD COLUMN IF NOT EXISTS "pm25" DOUBLE PRECISION`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"features", "pm"}, []string{"hhid", "pm25", "geom"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"features", "pm"}, []string{"hhid", "pm25", "geom"}).WillReturnResult(1)

	n, err := Publish(context.Background(), mock, joined, hhs, PublishOptions{
		Schema:   "features",
		Table:    "pm",
		BatchMax: 2,
		Replace:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRepeatedKeys(t *testing.T) {
	joined := &Table{
		Header: []string{"hhid", "date", "pm25"},
		Rows:   [][]string{{"1", "2023-01", "10"}, {"1", "2023-02", "12"}, {"2", "2023-01", "20"}},
	}
	hhs := households(orb.Point{0, 0}, orb.Point{1, 1})

	t.Run("upsert refuses", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = Publish(context.Background(), mock, joined, hhs, PublishOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repeat")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replace indexes the key", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "exposure"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`DROP TABLE IF EXISTS "exposure"."contamination"`).WillReturnResult(pgxmock.NewResult("DROP", 0))
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "exposure"."contamination" \("hhid" TEXT NOT NULL`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "contamination_hhid_idx" ON "exposure"."contamination" \("hhid"\)`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`ADD COLUMN IF NOT EXISTS "date" TEXT, ADD COLUMN IF NOT EXISTS "pm25" DOUBLE PRECISION`).
			WillReturnResult(pgxmock.NewResult("ALTER", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"exposure", "contamination"}, []string{"hhid", "date", "pm25", "geom"}).
			WillReturnResult(3)

		n, err := Publish(context.Background(), mock, joined, hhs, PublishOptions{Replace: true})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPublishMissingKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Publish(context.Background(), mock, &Table{Header: []string{"id"}}, households(), PublishOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "hhid" column`)
}

func TestNumericColumns(t *testing.T) {
	tbl := &Table{
		Header: []string{"hhid", "a", "b", "c"},
		Rows:   [][]string{{"1", "1.5", "x", ""}, {"2", "", "2", ""}},
	}
	assert.Equal(t, []bool{false, true, false, false}, numericColumns(tbl, []int{0, 1, 2, 3}, 0))
	assert.Nil(t, cellValue([]string{""}, 0, true))
	assert.Equal(t, 1.5, cellValue([]string{"1.5"}, 0, true))
	assert.Equal(t, "x", cellValue([]string{"x"}, 0, false))
}
