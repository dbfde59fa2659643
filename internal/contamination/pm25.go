package contamination

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/raster"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// PM25File is a monthly PM2.5 grid and the month it covers.
type PM25File struct {
	Path string
	Date time.Time
}

// ListPM25 returns the .nc files of dir in filename order with their month.
// The month is the second "-"-separated token of the name, as YYYYMM.
// Files without a parseable month are skipped with a warning.
func ListPM25(dir string) ([]PM25File, error) {
	log := zap.L().With(zap.String("component", "contamination.pm25"), zap.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "contamination: read pm25 dir %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".nc") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var files []PM25File
	for _, name := range names {
		date, err := ParsePM25Date(name)
		if err != nil {
			log.Warn("contamination: skipping pm25 file", zap.String("file", name), zap.Error(err))
			continue
		}
		files = append(files, PM25File{Path: filepath.Join(dir, name), Date: date})
	}
	return files, nil
}

// ParsePM25Date extracts the month from names like
// "V6GL02.04.CNNPM25.GL.202301-202301.nc".
func ParsePM25Date(name string) (time.Time, error) {
	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return time.Time{}, eris.Errorf("no date token in %q", name)
	}
	token := strings.SplitN(parts[1], ".", 2)[0]
	d, err := time.Parse("200601", token)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse date token %q", token)
	}
	return d, nil
}

// PM25 samples every grid at every household, one row per file and
// household, with pm25 set to the nearest cell and date as YYYY-MM-01.
func PM25(hhs *survey.Table, files []PM25File, variable string) (*Table, error) {
	log := zap.L().With(zap.String("component", "contamination.pm25"))

	base, err := baseTable(hhs, true, []string{"pm25", "date"})
	if err != nil {
		return nil, err
	}
	out := &Table{Header: base.Header}
	for _, f := range files {
		grid, err := raster.ReadNetCDF(f.Path, variable)
		if err != nil {
			return nil, eris.Wrapf(err, "contamination: pm25 %s", filepath.Base(f.Path))
		}
		date := f.Date.Format("2006-01-02")
		for i, h := range hhs.Households {
			row := append(append([]string(nil), base.Rows[i]...),
				FormatFloat(grid.Sample(h.Point[0], h.Point[1])), date)
			out.Rows = append(out.Rows, row)
		}
		log.Debug("contamination: sampled pm25 grid", zap.String("file", filepath.Base(f.Path)), zap.String("date", date))
	}
	log.Info("contamination: pm25 sampled", zap.Int("files", len(files)), zap.Int("rows", len(out.Rows)))
	return out, nil
}
