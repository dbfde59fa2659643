package weather

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
)

// ErrNoExports is returned when Concat finds nothing to merge.
var ErrNoExports = eris.New("weather: no hourly exports found")

// geoColumn is the geometry column some exporters append.
const geoColumn = ".geo"

// ConcatResult describes a merged hourly file.
type ConcatResult struct {
	Path  string
	Files []string
	Rows  int
}

// ConcatFileName names the merged hourly file of a country and year range.
func ConcatFileName(iso3 string, start, end int) string {
	return fmt.Sprintf("%s_weather_hourly_%d_%d.csv", iso3, start, end)
}

// Concat merges weather_hourly_<iso3>_<year>*.csv in dir for every year in
// [start, end], in filename order. Columns are the union in first-seen
// order without ".geo"; cells a file lacks are empty.
func Concat(dir, iso3 string, start, end int) (ConcatResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ConcatResult{}, eris.Wrapf(err, "weather: read %s", dir)
	}
	var files []string
	for year := start; year <= end; year++ {
		prefix := "weather_hourly_" + iso3 + "_" + strconv.Itoa(year)
		for _, e := range entries {
			if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".csv") {
				files = append(files, e.Name())
			}
		}
	}
	if len(files) == 0 {
		return ConcatResult{}, eris.Wrapf(ErrNoExports, "%s %d-%d in %s", iso3, start, end, dir)
	}
	sort.Strings(files)

	var header []string
	index := make(map[string]int)
	type part struct {
		cols []int
		rows [][]string
	}
	parts := make([]part, 0, len(files))
	for _, name := range files {
		h, rows, err := fetcher.ReadCSVFile(filepath.Join(dir, name), fetcher.CSVOptions{})
		if err != nil {
			return ConcatResult{}, eris.Wrap(err, "weather: concat")
		}
		cols := make([]int, len(h))
		for i, c := range h {
			if c == geoColumn {
				cols[i] = -1
				continue
			}
			j, ok := index[c]
			if !ok {
				j = len(header)
				index[c] = j
				header = append(header, c)
			}
			cols[i] = j
		}
		parts = append(parts, part{cols: cols, rows: rows})
	}

	var out [][]string
	for _, p := range parts {
		for _, rec := range p.rows {
			row := make([]string, len(header))
			for i, v := range rec {
				if i < len(p.cols) && p.cols[i] >= 0 {
					row[p.cols[i]] = v
				}
			}
			out = append(out, row)
		}
	}

	path := filepath.Join(dir, ConcatFileName(iso3, start, end))
	if err := writeCSV(path, header, out); err != nil {
		return ConcatResult{}, err
	}
	zap.L().Info("weather: concatenated hourly exports",
		zap.String("component", "weather.concat"),
		zap.String("path", path),
		zap.Int("files", len(files)),
		zap.Int("rows", len(out)),
	)
	return ConcatResult{Path: path, Files: files, Rows: len(out)}, nil
}
