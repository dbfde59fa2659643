// Package weather extracts hourly and seasonal ERA5-Land statistics per
// region from in-memory raster collections, with temporal gap filling.
package weather

import (
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// ERA5-Land hourly band names.
const (
	Temperature2m      = "temperature_2m"
	SnowCover          = "snow_cover"
	SnowDensity        = "snow_density"
	SnowDepth          = "snow_depth"
	Snowfall           = "snowfall"
	Snowmelt           = "snowmelt"
	TotalPrecipitation = "total_precipitation"
	WindU10m           = "u_component_of_wind_10m"
	WindV10m           = "v_component_of_wind_10m"
)

// Derived band names.
const (
	TemperatureC  = "temperature_c"
	WindSpeed     = "wind_speed"
	WindDirection = "wind_direction"
)

// FilledSuffix is appended to band names produced by GapFill.
const FilledSuffix = "_filled"

// CoreVariables are the bands every export processes, in output order.
var CoreVariables = []string{
	Temperature2m,
	SnowCover,
	SnowDensity,
	SnowDepth,
	Snowfall,
	Snowmelt,
	TotalPrecipitation,
	WindU10m,
	WindV10m,
}

// DerivedVariables are the bands added by Derive, in output order.
var DerivedVariables = []string{TemperatureC, WindSpeed, WindDirection}

// ErrMissingBand is returned when an image lacks a required band.
var ErrMissingBand = eris.New("weather: missing band")

// Band is a named raster. NaN pixels are masked.
type Band struct {
	Name string
	Grid *raster.Grid
}

// Image is one timestamped multi-band raster.
type Image struct {
	Time  time.Time
	Bands []Band
	Props map[string]string
}

// Band returns the named band's grid.
func (img Image) Band(name string) (*raster.Grid, bool) {
	for _, b := range img.Bands {
		if b.Name == name {
			return b.Grid, true
		}
	}
	return nil, false
}

// BandNames returns the band names in order.
func (img Image) BandNames() []string {
	names := make([]string, len(img.Bands))
	for i, b := range img.Bands {
		names[i] = b.Name
	}
	return names
}

// WithBands returns a copy of img with bands appended. A band whose name
// already exists replaces it in place.
func (img Image) WithBands(bands ...Band) Image {
	out := Image{Time: img.Time, Props: img.Props, Bands: slices.Clone(img.Bands)}
	for _, b := range bands {
		i := slices.IndexFunc(out.Bands, func(x Band) bool { return x.Name == b.Name })
		if i >= 0 {
			out.Bands[i] = b
			continue
		}
		out.Bands = append(out.Bands, b)
	}
	return out
}

// Select returns an image with only the named bands, renamed to as when
// as is non-nil. Grids are shared, not copied.
func (img Image) Select(names, as []string) (Image, error) {
	if as != nil && len(as) != len(names) {
		return Image{}, eris.Errorf("weather: select %d bands as %d names", len(names), len(as))
	}
	out := Image{Time: img.Time, Props: img.Props, Bands: make([]Band, 0, len(names))}
	for i, n := range names {
		g, ok := img.Band(n)
		if !ok {
			return Image{}, eris.Wrapf(ErrMissingBand, "%s at %s", n, img.Time.Format(time.RFC3339))
		}
		name := n
		if as != nil {
			name = as[i]
		}
		out.Bands = append(out.Bands, Band{Name: name, Grid: g})
	}
	return out, nil
}

// Collection is a sequence of images.
type Collection []Image

// Sorted returns a copy ordered by time. Equal times keep their order.
func (c Collection) Sorted() Collection {
	out := slices.Clone(c)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Filter returns the images with start <= time < end.
func (c Collection) Filter(start, end time.Time) Collection {
	var out Collection
	for _, img := range c {
		if !img.Time.Before(start) && img.Time.Before(end) {
			out = append(out, img)
		}
	}
	return out
}

// Map applies fn to every image.
func (c Collection) Map(fn func(Image) (Image, error)) (Collection, error) {
	out := make(Collection, len(c))
	for i, img := range c {
		var err error
		if out[i], err = fn(img); err != nil {
			return nil, err
		}
	}
	return out, nil
}
