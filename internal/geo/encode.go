package geo

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// SRIDWGS84 is the SRID written into EWKB for lon/lat geometries.
const SRIDWGS84 = 4326

// EncodeEWKB converts an orb geometry to little-endian EWKB with the given
// SRID. Returns nil, nil for a nil geometry.
func EncodeEWKB(g orb.Geometry, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	t, err := toGeom(g)
	if err != nil {
		return nil, err
	}
	if err := setSRID(t, srid); err != nil {
		return nil, err
	}

	data, err := ewkb.Marshal(t, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// EncodeWKT renders an orb geometry as WKT, e.g. "POLYGON ((...))".
func EncodeWKT(g orb.Geometry) (string, error) {
	if g == nil {
		return "", nil
	}
	t, err := toGeom(g)
	if err != nil {
		return "", err
	}
	s, err := wkt.Marshal(t)
	if err != nil {
		return "", eris.Wrap(err, "geo: encode WKT")
	}
	return s, nil
}

func toGeom(g orb.Geometry) (geom.T, error) {
	switch g := g.(type) {
	case orb.Point:
		return geom.NewPointFlat(geom.XY, []float64{g[0], g[1]}), nil
	case orb.MultiPoint:
		return geom.NewMultiPointFlat(geom.XY, flatPoints(g)), nil
	case orb.LineString:
		return geom.NewLineStringFlat(geom.XY, flatPoints(g)), nil
	case orb.MultiLineString:
		var flat []float64
		ends := make([]int, 0, len(g))
		for _, ls := range g {
			flat = append(flat, flatPoints(ls)...)
			ends = append(ends, len(flat))
		}
		return geom.NewMultiLineStringFlat(geom.XY, flat, ends), nil
	case orb.Ring:
		return toGeom(orb.Polygon{g})
	case orb.Polygon:
		flat, ends := flatPolygon(g, nil)
		return geom.NewPolygonFlat(geom.XY, flat, ends), nil
	case orb.MultiPolygon:
		var flat []float64
		endss := make([][]int, 0, len(g))
		for _, poly := range g {
			var ends []int
			flat, ends = flatPolygon(poly, flat)
			endss = append(endss, ends)
		}
		return geom.NewMultiPolygonFlat(geom.XY, flat, endss), nil
	case orb.Bound:
		return toGeom(g.ToPolygon())
	default:
		return nil, eris.Errorf("geo: unsupported geometry type %T", g)
	}
}

func setSRID(t geom.T, srid int) error {
	switch t := t.(type) {
	case *geom.Point:
		t.SetSRID(srid)
	case *geom.MultiPoint:
		t.SetSRID(srid)
	case *geom.LineString:
		t.SetSRID(srid)
	case *geom.MultiLineString:
		t.SetSRID(srid)
	case *geom.Polygon:
		t.SetSRID(srid)
	case *geom.MultiPolygon:
		t.SetSRID(srid)
	default:
		return eris.Errorf("geo: cannot set SRID on %T", t)
	}
	return nil
}

func flatPoints[T ~[]orb.Point](pts T) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p[0], p[1])
	}
	return flat
}

// flatPolygon appends the polygon's rings to flat and returns ring end offsets.
func flatPolygon(poly orb.Polygon, flat []float64) ([]float64, []int) {
	ends := make([]int, 0, len(poly))
	for _, r := range poly {
		flat = append(flat, flatPoints(r)...)
		ends = append(ends, len(flat))
	}
	return flat, ends
}
