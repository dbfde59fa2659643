package contamination

import (
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
)

// JoinedFile is the name of the merged feature table under the outputs dir.
const JoinedFile = "contamination.csv"

// FeatureFiles returns outputs/*/*.csv in sorted order.
func FeatureFiles(outputsDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(outputsDir, "*", "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "contamination: glob feature files")
	}
	sort.Strings(files)
	return files, nil
}

// Join outer-joins feature CSVs on key. The key comes first, then the
// first file's columns, then each later file's new columns. A column seen
// before keeps its earlier value. A key with n rows so far and m rows in
// the next file yields n*m rows; keys missing from either side keep their
// rows with empty cells. Keys follow first-seen order.
func Join(paths []string, key string) (*Table, error) {
	log := zap.L().With(zap.String("component", "contamination.join"))
	if len(paths) == 0 {
		return nil, eris.New("contamination: no feature files to join")
	}

	header := []string{key}
	colIndex := map[string]int{key: 0}
	groups := make(map[string][][]string)
	var order []string

	for _, path := range paths {
		fileHeader, rows, err := fetcher.ReadCSVFile(path, fetcher.CSVOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "contamination: join")
		}
		keyIdx := -1
		for i, c := range fileHeader {
			if c == key {
				keyIdx = i
			}
		}
		if keyIdx < 0 {
			return nil, eris.Errorf("contamination: %s has no %q column", path, key)
		}

		// columns this file contributes, mapped to their output position
		contrib := make(map[int]int)
		for i, c := range fileHeader {
			if _, ok := colIndex[c]; ok {
				continue
			}
			colIndex[c] = len(header)
			header = append(header, c)
			contrib[i] = colIndex[c]
		}

		fileRows := make(map[string][][]string)
		var fileOrder []string
		for _, rec := range rows {
			if keyIdx >= len(rec) {
				continue
			}
			k := rec[keyIdx]
			if _, ok := fileRows[k]; !ok {
				fileOrder = append(fileOrder, k)
			}
			fileRows[k] = append(fileRows[k], rec)
		}

		for _, k := range order {
			recs, ok := fileRows[k]
			if !ok {
				continue
			}
			var joined [][]string
			for _, left := range groups[k] {
				for _, rec := range recs {
					joined = append(joined, fill(append([]string(nil), left...), rec, contrib, len(header)))
				}
			}
			groups[k] = joined
		}
		for _, k := range fileOrder {
			if _, ok := groups[k]; ok {
				continue
			}
			order = append(order, k)
			for _, rec := range fileRows[k] {
				groups[k] = append(groups[k], fill([]string{k}, rec, contrib, len(header)))
			}
		}
		log.Info("contamination: joined feature file",
			zap.String("file", path),
			zap.Int("rows", len(rows)),
			zap.Int("columns", len(header)),
		)
	}

	out := &Table{Header: header}
	for _, k := range order {
		for _, row := range groups[k] {
			for len(row) < len(header) {
				row = append(row, "")
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// fill pads row to width and copies the contributed cells of rec into it.
func fill(row, rec []string, contrib map[int]int, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	for src, dst := range contrib {
		if src < len(rec) {
			row[dst] = rec[src]
		}
	}
	return row
}
