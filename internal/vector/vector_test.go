package vector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, size float64) orb.Polygon {
	return orb.Polygon{{
		{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}, {x0, y0},
	}}
}

func TestGeoJSONRoundTrip(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{106.8, -6.2})
	f.Properties["amenity"] = "clinic"
	fc.Append(f)

	path := filepath.Join(t.TempDir(), "out", "health.geojson")
	require.NoError(t, WriteGeoJSON(path, fc))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	assert.Equal(t, "clinic", got.Features[0].Properties["amenity"])
	assert.Equal(t, orb.Point{106.8, -6.2}, got.Features[0].Geometry)
}

func TestReadGeoJSONErrors(t *testing.T) {
	_, err := ReadGeoJSON(filepath.Join(t.TempDir(), "missing.geojson"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	bad := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = ReadGeoJSON(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector: decode")
}

func TestPropString(t *testing.T) {
	props := geojson.Properties{
		"s":   "x",
		"f":   3.0,
		"g":   2.5,
		"i":   7,
		"b":   true,
		"nil": nil,
	}
	assert.Equal(t, "x", PropString(props, "s"))
	assert.Equal(t, "3", PropString(props, "f"))
	assert.Equal(t, "2.5", PropString(props, "g"))
	assert.Equal(t, "7", PropString(props, "i"))
	assert.Equal(t, "true", PropString(props, "b"))
	assert.Equal(t, "", PropString(props, "nil"))
	assert.Equal(t, "", PropString(props, "missing"))
}

func TestKeys(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(orb.Point{0, 0})
	a.Properties["b"] = 1
	a.Properties["a"] = 1
	c := geojson.NewFeature(orb.Point{0, 0})
	c.Properties["c"] = 1
	c.Properties["a"] = 1
	fc.Append(a)
	fc.Append(c)
	assert.Equal(t, []string{"a", "b", "c"}, Keys(fc))
}

func TestShapefileRoundTrip(t *testing.T) {
	withHole := orb.Polygon{
		square(0, 0, 10)[0],
		{{4, 4}, {4, 6}, {6, 6}, {6, 4}, {4, 4}},
	}
	fc := geojson.NewFeatureCollection()
	f1 := geojson.NewFeature(withHole)
	f1.Properties["ADM3_PCODE"] = "UA0102003"
	f1.Properties["ADM3_EN"] = "Київ"
	f2 := geojson.NewFeature(orb.MultiPolygon{square(20, 0, 1), square(30, 0, 1)})
	f2.Properties["ADM3_PCODE"] = "UA0102005"
	fc.Append(f1)
	fc.Append(f2)

	path := filepath.Join(t.TempDir(), "ukr_admbnda_adm3.shp")
	require.NoError(t, WriteShapefile(path, fc, []string{"ADM3_PCODE", "ADM3_EN"}))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 2)

	assert.Equal(t, "UA0102003", got.Features[0].Properties["ADM3_PCODE"])
	assert.Equal(t, "Київ", got.Features[0].Properties["ADM3_EN"])
	assert.Nil(t, got.Features[1].Properties["ADM3_EN"])

	poly, ok := got.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 2)
	assert.Equal(t, orb.CCW, poly[0].Orientation())
	assert.InDelta(t, 96, planar.Area(poly), 1e-9)

	mp, ok := got.Features[1].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
}

func TestShapefilePoints(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{30.5, 50.4})
	f.Properties["hhid"] = "H1"
	fc.Append(f)

	path := filepath.Join(t.TempDir(), "hh.shp")
	require.NoError(t, WriteShapefile(path, fc, []string{"hhid"}))

	got, err := ReadShapefile(path)
	require.NoError(t, err)
	require.Len(t, got.Features, 1)
	assert.Equal(t, orb.Point{30.5, 50.4}, got.Features[0].Geometry)
}

func TestWriteShapefileErrors(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, WriteShapefile(filepath.Join(dir, "e.shp"), geojson.NewFeatureCollection(), nil))

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
	err := WriteShapefile(filepath.Join(dir, "l.shp"), fc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shapefile geometry")

	mixed := geojson.NewFeatureCollection()
	mixed.Append(geojson.NewFeature(square(0, 0, 1)))
	mixed.Append(geojson.NewFeature(orb.Point{0, 0}))
	err = WriteShapefile(filepath.Join(dir, "m.shp"), mixed, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed geometry types")
}

func TestReadShapefileMissing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCodePage(t *testing.T) {
	dir := t.TempDir()
	cpg := filepath.Join(dir, "a.cpg")
	require.NoError(t, os.WriteFile(cpg, []byte("ANSI 1251\n"), 0o644))
	dec := codePage(cpg)
	require.NotNil(t, dec)
	s, err := dec.String("\xca\xe8\xbf\xe2")
	require.NoError(t, err)
	assert.Equal(t, "Київ", s)

	require.NoError(t, os.WriteFile(cpg, []byte("UTF-8"), 0o644))
	assert.Nil(t, codePage(cpg))
	assert.Nil(t, codePage(filepath.Join(dir, "missing.cpg")))
}

func TestAttributeValue(t *testing.T) {
	assert.Nil(t, attributeValue("", 'C', nil))
	assert.Equal(t, 12.5, attributeValue("12.5", 'N', nil))
	assert.Equal(t, "abc", attributeValue("abc", 'N', nil))
	assert.Equal(t, "007", attributeValue("007", 'C', nil))
}
