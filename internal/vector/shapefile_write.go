package vector

import (
	"os"
	"path/filepath"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// WriteShapefile writes polygonal or point features with the named
// properties as text attributes (DBF names are cut to 10 characters).
// All features must share one geometry family.
func WriteShapefile(path string, fc *geojson.FeatureCollection, fields []string) error {
	if len(fc.Features) == 0 {
		return eris.Errorf("vector: no features to write to %s", path)
	}
	shapeType, err := shapeTypeOf(fc.Features[0].Geometry)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "vector: create directory for %s", path)
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return eris.Wrapf(err, "vector: create shapefile %s", path)
	}
	defer w.Close()

	dbf := make([]shp.Field, len(fields))
	for i, name := range fields {
		dbf[i] = shp.StringField(name, 254)
	}
	if err := w.SetFields(dbf); err != nil {
		return eris.Wrap(err, "vector: set shapefile fields")
	}

	for _, f := range fc.Features {
		st, err := shapeTypeOf(f.Geometry)
		if err != nil {
			return err
		}
		if st != shapeType {
			return eris.Errorf("vector: mixed geometry types in %s", path)
		}
		row := int(w.Write(toShape(f.Geometry)))
		for i, name := range fields {
			if err := w.WriteAttribute(row, i, PropString(f.Properties, name)); err != nil {
				return eris.Wrapf(err, "vector: write attribute %s", name)
			}
		}
	}
	return nil
}

func shapeTypeOf(g orb.Geometry) (shp.ShapeType, error) {
	switch g.(type) {
	case orb.Point:
		return shp.POINT, nil
	case orb.Polygon, orb.MultiPolygon:
		return shp.POLYGON, nil
	default:
		return 0, eris.Errorf("vector: unsupported shapefile geometry %T", g)
	}
}

func toShape(g orb.Geometry) shp.Shape {
	if p, ok := g.(orb.Point); ok {
		return &shp.Point{X: p[0], Y: p[1]}
	}

	var polys orb.MultiPolygon
	switch g := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		polys = g
	}

	var parts [][]shp.Point
	for _, poly := range polys {
		for i, r := range poly {
			// shapefile shells are clockwise, holes counter-clockwise
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			ring := orb.Clone(r).(orb.Ring)
			if ring.Orientation() != want {
				ring.Reverse()
			}
			pts := make([]shp.Point, len(ring))
			for j, p := range ring {
				pts[j] = shp.Point{X: p[0], Y: p[1]}
			}
			parts = append(parts, pts)
		}
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}
