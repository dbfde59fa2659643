package vector

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ReadShapefile reads a polygon, polyline or point shapefile into a
// FeatureCollection. Attribute text is decoded with the code page named in
// the sibling .cpg file (UTF-8 when absent). Numeric fields become float64.
func ReadShapefile(path string) (*geojson.FeatureCollection, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "%s", path)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	dec := codePage(strings.TrimSuffix(path, ".shp") + ".cpg")

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	fc := geojson.NewFeatureCollection()
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeometry(shape)
		if g == nil {
			skipped++
			continue
		}

		f := geojson.NewFeature(g)
		for i, field := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			f.Properties[names[i]] = attributeValue(raw, field.Fieldtype, dec)
		}
		fc.Append(f)
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped shapefile records without geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return fc, nil
}

func attributeValue(raw string, fieldType byte, dec *encoding.Decoder) any {
	if raw == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	if dec != nil {
		if s, err := dec.String(raw); err == nil {
			return s
		}
	}
	return raw
}

// codePage maps the .cpg content to a decoder; nil means UTF-8.
func codePage(cpgPath string) *encoding.Decoder {
	data, err := os.ReadFile(cpgPath)
	if err != nil {
		return nil
	}
	name := strings.ToUpper(strings.TrimSpace(string(data)))
	name = strings.TrimPrefix(name, "ANSI ")
	switch name {
	case "1251", "CP1251", "WINDOWS-1251":
		return charmap.Windows1251.NewDecoder()
	case "1252", "CP1252", "WINDOWS-1252":
		return charmap.Windows1252.NewDecoder()
	case "88591", "8859_1", "ISO-8859-1", "ISO88591":
		return charmap.ISO8859_1.NewDecoder()
	case "866", "CP866":
		return charmap.CodePage866.NewDecoder()
	case "KOI8-U":
		return charmap.KOI8U.NewDecoder()
	default:
		return nil
	}
}

func shapeToGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, 0, len(s.Points))
		for _, p := range s.Points {
			mp = append(mp, orb.Point{p.X, p.Y})
		}
		return mp
	case *shp.PolyLine:
		parts := splitParts(s.Parts, s.Points)
		if len(parts) == 0 {
			return nil
		}
		mls := make(orb.MultiLineString, 0, len(parts))
		for _, part := range parts {
			mls = append(mls, orb.LineString(part))
		}
		if len(mls) == 1 {
			return mls[0]
		}
		return mls
	case *shp.Polygon:
		return ringsToPolygonal(splitParts(s.Parts, s.Points))
	default:
		return nil
	}
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	var out [][]orb.Point
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		pts := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			pts = append(pts, orb.Point{p.X, p.Y})
		}
		out = append(out, pts)
	}
	return out
}

// ringsToPolygonal groups shapefile rings: clockwise rings are shells,
// counter-clockwise rings are holes of the shell that contains them.
// Output rings follow the GeoJSON orientation (shells CCW).
func ringsToPolygonal(parts [][]orb.Point) orb.Geometry {
	var mp orb.MultiPolygon
	var holes []orb.Ring
	for _, part := range parts {
		r := orb.Ring(part)
		if len(r) < 4 {
			continue
		}
		if r.Orientation() == orb.CW {
			r.Reverse()
			mp = append(mp, orb.Polygon{r})
		} else {
			r.Reverse()
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		placed := false
		for i := range mp {
			if planar.RingContains(mp[i][0], h[0]) {
				mp[i] = append(mp[i], h)
				placed = true
				break
			}
		}
		if !placed {
			// a lone CCW ring is a mis-wound shell
			h.Reverse()
			mp = append(mp, orb.Polygon{h})
		}
	}
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	default:
		return mp
	}
}
