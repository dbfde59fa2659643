package raster

import (
	"math"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/rotisserie/eris"
)

var (
	lonNames = []string{"lon", "longitude", "x"}
	latNames = []string{"lat", "latitude", "y"}
)

// ReadNetCDF loads a 2-D variable on a regular lat/lon grid. Leading
// dimensions (time, level) are read at index 0. Rows are flipped so the
// grid is north-up. _FillValue and missing_value cells become NaN, and
// packed values are unpacked with scale_factor and add_offset.
func ReadNetCDF(path, variable string) (*Grid, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open netcdf %s", path)
	}
	defer ds.Close() //nolint:errcheck

	lon, err := readCoord(ds, lonNames)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	lat, err := readCoord(ds, latNames)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	if len(lon) < 2 || len(lat) < 2 {
		return nil, eris.Errorf("raster: %s needs at least 2x2 cells", path)
	}

	v, err := ds.Var(variable)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: variable %s in %s", variable, path)
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, eris.Wrapf(err, "raster: dims of %s", variable)
	}
	if len(dims) < 2 {
		return nil, eris.Errorf("raster: %s is %d-dimensional, want lat/lon", variable, len(dims))
	}
	start := make([]uint64, len(dims))
	count := make([]uint64, len(dims))
	for i := range count {
		count[i] = 1
	}
	count[len(dims)-2] = uint64(len(lat))
	count[len(dims)-1] = uint64(len(lon))

	data, err := readValues(v, start, count, len(lat)*len(lon))
	if err != nil {
		return nil, eris.Wrapf(err, "raster: read %s", variable)
	}
	for _, name := range []string{"_FillValue", "missing_value"} {
		if fill, ok := scalarAttr(v, name); ok {
			for i, x := range data {
				if x == fill {
					data[i] = math.NaN()
				}
			}
		}
	}
	scale, hasScale := scalarAttr(v, "scale_factor")
	offset, hasOffset := scalarAttr(v, "add_offset")
	if hasScale || hasOffset {
		if !hasScale {
			scale = 1
		}
		for i, x := range data {
			data[i] = x*scale + offset
		}
	}

	w, h := len(lon), len(lat)
	dx := (lon[w-1] - lon[0]) / float64(w-1)
	dy := (lat[h-1] - lat[0]) / float64(h-1)
	if dy > 0 {
		flipRows(data, w, h)
		lat[0] = lat[h-1]
		dy = -dy
	}

	return &Grid{
		GeoTransform: [6]float64{lon[0] - dx/2, dx, 0, lat[0] - dy/2, 0, dy},
		Width:        w,
		Height:       h,
		Data:         data,
	}, nil
}

func readCoord(ds netcdf.Dataset, names []string) ([]float64, error) {
	for _, name := range names {
		v, err := ds.Var(name)
		if err != nil {
			continue
		}
		n, err := v.Len()
		if err != nil {
			return nil, eris.Wrapf(err, "length of %s", name)
		}
		return readValues(v, nil, nil, int(n))
	}
	return nil, eris.Errorf("no coordinate variable among %v", names)
}

// readValues reads n values as float64 whatever the stored numeric type.
// nil start/count reads the whole variable.
func readValues(v netcdf.Var, start, count []uint64, n int) ([]float64, error) {
	t, err := v.Type()
	if err != nil {
		return nil, err
	}
	whole := start == nil
	switch t {
	case netcdf.DOUBLE:
		out := make([]float64, n)
		if whole {
			return out, v.ReadFloat64s(out)
		}
		return out, v.ReadFloat64Slice(out, start, count)
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if whole {
			err = v.ReadFloat32s(buf)
		} else {
			err = v.ReadFloat32Slice(buf, start, count)
		}
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i, x := range buf {
			out[i] = float64(x)
		}
		return out, nil
	case netcdf.INT:
		buf := make([]int32, n)
		if whole {
			err = v.ReadInt32s(buf)
		} else {
			err = v.ReadInt32Slice(buf, start, count)
		}
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i, x := range buf {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, eris.Errorf("unsupported netcdf type %v", t)
	}
}

// scalarAttr reads a single numeric attribute of v.
func scalarAttr(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n != 1 {
		return 0, false
	}
	t, err := a.Type()
	if err != nil {
		return 0, false
	}
	switch t {
	case netcdf.DOUBLE:
		buf := make([]float64, 1)
		if a.ReadFloat64s(buf) == nil {
			return buf[0], true
		}
	case netcdf.FLOAT:
		buf := make([]float32, 1)
		if a.ReadFloat32s(buf) == nil {
			return float64(buf[0]), true
		}
	case netcdf.INT:
		buf := make([]int32, 1)
		if a.ReadInt32s(buf) == nil {
			return float64(buf[0]), true
		}
	}
	return 0, false
}

func flipRows(data []float64, w, h int) {
	for top, bottom := 0, h-1; top < bottom; top, bottom = top+1, bottom-1 {
		for c := 0; c < w; c++ {
			i, j := top*w+c, bottom*w+c
			data[i], data[j] = data[j], data[i]
		}
	}
}
