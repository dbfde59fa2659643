package weather

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/raster"
)

// Derive adds temperature in Celsius, wind speed and wind direction.
// Masked inputs give masked outputs.
func Derive(img Image) (Image, error) {
	t, err := band(img, Temperature2m)
	if err != nil {
		return Image{}, err
	}
	u, err := band(img, WindU10m)
	if err != nil {
		return Image{}, err
	}
	v, err := band(img, WindV10m)
	if err != nil {
		return Image{}, err
	}

	if !u.SameShape(v) {
		return Image{}, eris.New("weather: derive: wind components differ in shape")
	}

	tc := raster.New(t.GeoTransform, t.Width, t.Height)
	for i, k := range t.Data {
		tc.Data[i] = k - 273.15
	}
	speed := raster.New(u.GeoTransform, u.Width, u.Height)
	dir := raster.New(u.GeoTransform, u.Width, u.Height)
	for i := range u.Data {
		speed.Data[i] = math.Sqrt(u.Data[i]*u.Data[i] + v.Data[i]*v.Data[i])
		dir.Data[i] = 180 + (180/math.Pi)*math.Atan2(v.Data[i], u.Data[i])
	}

	return img.WithBands(
		Band{Name: TemperatureC, Grid: tc},
		Band{Name: WindSpeed, Grid: speed},
		Band{Name: WindDirection, Grid: dir},
	), nil
}

func band(img Image, name string) (*raster.Grid, error) {
	g, ok := img.Band(name)
	if !ok {
		return nil, eris.Wrapf(ErrMissingBand, "derive needs %s", name)
	}
	return g, nil
}
