package worldpop

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/fetcher"
)

// FixResult reports the rows swapped in one file.
type FixResult struct {
	Path  string
	Fixed int
}

// FixCSV repairs statistics CSVs in dir written before totals were
// normalised: rows with sex T and age group F or M get the two swapped.
// Columns other than sex and age_group are carried through unchanged.
// Files needing no change are left untouched.
func FixCSV(dir string) ([]FixResult, error) {
	log := zap.L().With(zap.String("component", "worldpop.fixcsv"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "worldpop: read %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	out := make([]FixResult, 0, len(paths))
	for _, p := range paths {
		fixed, err := fixFile(p)
		if err != nil {
			return out, err
		}
		log.Info("worldpop: checked csv", zap.String("file", filepath.Base(p)), zap.Int("fixed", fixed))
		out = append(out, FixResult{Path: p, Fixed: fixed})
	}
	return out, nil
}

func fixFile(path string) (int, error) {
	header, records, err := fetcher.ReadCSVFile(path, fetcher.CSVOptions{})
	if err != nil {
		return 0, eris.Wrap(err, "worldpop: fix csv")
	}
	sexIdx, ageIdx := slices.Index(header, "sex"), slices.Index(header, "age_group")
	if sexIdx < 0 || ageIdx < 0 {
		return 0, eris.Errorf("worldpop: %s has no sex/age_group columns", path)
	}
	fixed := 0
	for _, rec := range records {
		if sexIdx >= len(rec) || ageIdx >= len(rec) {
			continue
		}
		if sex, age := normalizeSexAge(rec[sexIdx], rec[ageIdx]); sex != rec[sexIdx] {
			rec[sexIdx], rec[ageIdx] = sex, age
			fixed++
		}
	}
	if fixed == 0 {
		return 0, nil
	}
	return fixed, writeRecords(path, header, records)
}

func writeRecords(path string, header []string, records [][]string) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "worldpop: create %s", tmp)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err == nil {
		err = w.WriteAll(records)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "worldpop: write %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "worldpop: close %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "worldpop: rename %s", path)
	}
	return nil
}
