package raster

import (
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
)

// DefaultNoData is written in place of NaN by Write.
const DefaultNoData = -99999

var registerOnce sync.Once

func register() {
	registerOnce.Do(godal.RegisterAll)
}

// Info describes a raster file without reading pixels.
type Info struct {
	Width        int
	Height       int
	Bands        int
	GeoTransform [6]float64
	Projection   string
}

// Stat returns the size, band count and georeferencing of a raster file.
func Stat(path string) (Info, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return Info{}, eris.Wrapf(err, "raster: open %s", path)
	}
	defer ds.Close() //nolint:errcheck

	gt, err := ds.GeoTransform()
	if err != nil {
		return Info{}, eris.Wrapf(err, "raster: geotransform of %s", path)
	}
	st := ds.Structure()
	return Info{
		Width:        st.SizeX,
		Height:       st.SizeY,
		Bands:        st.NBands,
		GeoTransform: gt,
		Projection:   ds.Projection(),
	}, nil
}

// Read loads band bandIndex (1-based) of a raster file. The band's nodata
// value becomes NaN.
func Read(path string, bandIndex int) (*Grid, error) {
	grids, err := ReadBands(path, []int{bandIndex})
	if err != nil {
		return nil, err
	}
	return grids[0], nil
}

// ReadBands loads the listed 1-based bands of a raster file.
func ReadBands(path string, bandIndexes []int) ([]*Grid, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer ds.Close() //nolint:errcheck

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, eris.Wrapf(err, "raster: geotransform of %s", path)
	}
	st := ds.Structure()
	bands := ds.Bands()

	out := make([]*Grid, 0, len(bandIndexes))
	for _, idx := range bandIndexes {
		if idx < 1 || idx > len(bands) {
			return nil, eris.Errorf("raster: %s has %d bands, want band %d", path, len(bands), idx)
		}
		band := bands[idx-1]
		g := &Grid{GeoTransform: gt, Width: st.SizeX, Height: st.SizeY}
		g.Data = make([]float64, st.SizeX*st.SizeY)
		if err := band.Read(0, 0, g.Data, st.SizeX, st.SizeY); err != nil {
			return nil, eris.Wrapf(err, "raster: read band %d of %s", idx, path)
		}
		if nd, ok := band.NoData(); ok {
			for i, v := range g.Data {
				if v == nd || (math.IsNaN(nd) && math.IsNaN(v)) {
					g.Data[i] = math.NaN()
				}
			}
		}
		out = append(out, g)
	}
	return out, nil
}

// Write stores g as a single-band Float64 GeoTIFF. NaN is written as
// DefaultNoData. epsg sets the spatial reference when > 0.
func Write(path string, g *Grid, epsg int) error {
	register()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "raster: create directory for %s", path)
	}

	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float64, g.Width, g.Height,
		godal.CreationOption("COMPRESS=LZW", "TILED=YES"))
	if err != nil {
		return eris.Wrapf(err, "raster: create %s", path)
	}

	if err := writeDataset(ds, g, epsg); err != nil {
		_ = ds.Close()
		return eris.Wrapf(err, "raster: write %s", path)
	}
	if err := ds.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", path)
	}
	return nil
}

func writeDataset(ds *godal.Dataset, g *Grid, epsg int) error {
	if err := ds.SetGeoTransform(g.GeoTransform); err != nil {
		return err
	}
	if epsg > 0 {
		sr, err := godal.NewSpatialRefFromEPSG(epsg)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}

	band := ds.Bands()[0]
	if err := band.SetNoData(DefaultNoData); err != nil {
		return err
	}
	buf := make([]float64, len(g.Data))
	for i, v := range g.Data {
		if math.IsNaN(v) {
			v = DefaultNoData
		}
		buf[i] = v
	}
	return band.Write(0, 0, buf, g.Width, g.Height)
}
