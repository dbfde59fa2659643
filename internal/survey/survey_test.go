package survey

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/vector"
)

const householdsCSV = "\ufeffhhid,wilcah,longitude,latitude,size\n" +
	"1302,3201,106.80,-6.20,4\n" +
	"1307,3201,106.82,-6.22,3\n" +
	"7702,3174,,,5\n" +
	"28307,3174,106.90,-6.10,2\n" +
	"39905,3174,abc,-6.1,1\n"

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hhs.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"hhid", "wilcah", "longitude", "latitude", "size"}, tbl.Columns)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, "1302", tbl.Households[0].ID)
	assert.Equal(t, orb.Point{106.80, -6.20}, tbl.Households[0].Point)
	assert.Equal(t, "28307", tbl.Households[2].ID)
	assert.Equal(t, []string{"1307", "3201", "106.82", "-6.22", "3"}, tbl.Row(1))
	assert.Len(t, tbl.Points(), 3)
}

func TestLoadCustomColumns(t *testing.T) {
	path := writeCSV(t, "clusterid12,gps_long,gps_lat\nA,69.1,38.5\n")
	tbl, err := Load(path, Options{IDColumn: "clusterid12", LonColumn: "gps_long", LatColumn: "gps_lat"})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "A", tbl.Households[0].ID)
	assert.Equal(t, orb.Point{69.1, 38.5}, tbl.Households[0].Point)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = Load(writeCSV(t, "hhid,lon,lat\n1,2,3\n"), Options{})
	assert.True(t, errors.Is(err, ErrMissingCoords))
}

func TestLoadDropsOutOfRangeCoords(t *testing.T) {
	path := writeCSV(t, "hhid,longitude,latitude\n1,10,95\n2,10,-120\n3,181,0\n4,-180,-90\n5,10,20\n")
	tbl, err := Load(path, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "4", tbl.Households[0].ID)
	assert.Equal(t, "5", tbl.Households[1].ID)
}

func TestLoadWithoutIDColumnUsesRowNumber(t *testing.T) {
	tbl, err := Load(writeCSV(t, "longitude,latitude\n1,2\n3,4\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "0", tbl.Households[0].ID)
	assert.Equal(t, "1", tbl.Households[1].ID)
}

func TestLoadXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("hh")
	require.NoError(t, err)
	for _, rec := range [][]string{
		{"hhid", "longitude", "latitude"},
		{"10", "30.5", "50.4"},
		{"11", "", ""},
	} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "hhs.xlsx")
	require.NoError(t, f.Save(path))

	tbl, err := Load(path, Options{Sheet: "hh"})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, orb.Point{30.5, 50.4}, tbl.Households[0].Point)
}

func TestDropIDs(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)

	out := DropIDs(tbl, "hhid", []string{"1302", "28307", "999"})
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "1307", out.Households[0].ID)
	assert.Equal(t, 3, tbl.Len(), "input not mutated")

	assert.Same(t, tbl, DropIDs(tbl, "hhid", nil))
}

func TestGroupCentroids(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)

	groups, err := GroupCentroids(tbl, "wilcah")
	require.NoError(t, err)

	assert.Equal(t, []string{"wilcah", "hhid", "size"}, groups.Columns)
	require.Equal(t, 2, groups.Len())
	// numeric key order
	assert.Equal(t, "3174", groups.Households[0].ID)
	assert.Equal(t, "3201", groups.Households[1].ID)
	assert.Equal(t, "1302", groups.Households[1].Get("hhid"))

	a := geo.PointToMercator(orb.Point{106.80, -6.20})
	b := geo.PointToMercator(orb.Point{106.82, -6.22})
	want := geo.PointToWGS84(orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2})
	assert.InDelta(t, want[0], groups.Households[1].Point[0], 1e-9)
	assert.InDelta(t, want[1], groups.Households[1].Point[1], 1e-9)

	_, err = GroupCentroids(tbl, "nope")
	assert.Error(t, err)
}

func TestSortKeysStrings(t *testing.T) {
	keys := []string{"b", "10", "a"}
	sortKeys(keys)
	assert.Equal(t, []string{"10", "a", "b"}, keys)

	nums := []string{"10", "9", "100"}
	sortKeys(nums)
	assert.Equal(t, []string{"9", "10", "100"}, nums)
}

func TestBuildROI(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)
	groups, err := GroupCentroids(tbl, "wilcah")
	require.NoError(t, err)

	roi, err := BuildROI(groups, DefaultBufferM, 32)
	require.NoError(t, err)
	require.Len(t, roi.Areas, 2)
	for i, a := range roi.Areas {
		assert.True(t, planar.PolygonContains(a.Polygon, groups.Households[i].Point))
		ring := geo.ToMercator(a.Polygon).(orb.Polygon)[0]
		c := geo.PointToMercator(groups.Households[i].Point)
		assert.InDelta(t, DefaultBufferM, planar.Distance(c, ring[0]), 1)
	}

	_, err = BuildROI(groups, 0, 32)
	assert.Error(t, err)
}

func TestROIWriters(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)
	groups, err := GroupCentroids(tbl, "wilcah")
	require.NoError(t, err)
	roi, err := BuildROI(groups, 1000, 8)
	require.NoError(t, err)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "roi", "IDN_B2_roi.csv")
	require.NoError(t, roi.WriteWKTCSV(csvPath))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"wilcah", "hhid", "size", "geometry"}, recs[0])
	assert.True(t, strings.HasPrefix(recs[1][3], "POLYGON (("))

	gjPath := filepath.Join(dir, "roi.geojson")
	require.NoError(t, roi.WriteGeoJSON(gjPath))
	fc, err := vector.Read(gjPath)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "3174", fc.Features[0].Properties["wilcah"])

	shpPath := filepath.Join(dir, "roi.shp")
	require.NoError(t, roi.WriteShapefile(shpPath))
	fc, err = vector.Read(shpPath)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestH3(t *testing.T) {
	tbl, err := Load(writeCSV(t, householdsCSV), Options{})
	require.NoError(t, err)

	cells := H3Cover(tbl, 5)
	require.NotEmpty(t, cells)
	assert.LessOrEqual(t, len(cells), 3)

	roi, err := H3Cells(cells)
	require.NoError(t, err)
	assert.Equal(t, []string{"hex_id"}, roi.Columns)
	assert.Len(t, roi.Areas, len(cells))

	_, err = H3Cells([]string{"zzz"})
	assert.Error(t, err)

	assert.Empty(t, H3Cover(tbl, 99))
}
