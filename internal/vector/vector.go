// Package vector reads and writes feature collections: GeoJSON through orb
// and ESRI shapefiles through go-shp.
package vector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when an input layer does not exist.
var ErrNotFound = eris.New("vector: file not found")

// Read loads a layer by extension: .shp via go-shp, anything else as GeoJSON.
func Read(path string) (*geojson.FeatureCollection, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return ReadShapefile(path)
	}
	return ReadGeoJSON(path)
}

// ReadGeoJSON loads a GeoJSON FeatureCollection.
func ReadGeoJSON(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(ErrNotFound, "%s", path)
		}
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: decode %s", path)
	}
	return fc, nil
}

// WriteGeoJSON writes fc to path, creating parent directories.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "vector: create directory for %s", path)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrapf(err, "vector: encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "vector: write %s", path)
	}
	return nil
}

// PropString renders a property as text: "" for missing or null values,
// integral floats without a decimal point.
func PropString(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Keys returns the union of property keys, sorted within each feature and
// in first-seen order across features.
func Keys(fc *geojson.FeatureCollection) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, f := range fc.Features {
		for _, k := range sortedKeys(f.Properties) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func sortedKeys(props geojson.Properties) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
