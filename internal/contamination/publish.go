package contamination

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exposure-cli/internal/db"
	"github.com/sells-group/exposure-cli/internal/geo"
	"github.com/sells-group/exposure-cli/internal/survey"
)

// PublishOptions selects the PostGIS destination.
type PublishOptions struct {
	Schema   string // default "exposure"
	Table    string // default "contamination"
	Key      string // default "hhid"
	BatchMax int    // rows per upsert batch; default 50000
	Replace  bool   // drop, recreate and COPY instead of upserting
}

func (o PublishOptions) withDefaults() PublishOptions {
	if o.Schema == "" {
		o.Schema = "exposure"
	}
	if o.Table == "" {
		o.Table = "contamination"
	}
	if o.Key == "" {
		o.Key = "hhid"
	}
	if o.BatchMax <= 0 {
		o.BatchMax = 50000
	}
	return o
}

// geomColumn is the PostGIS point column added to the joined table.
const geomColumn = "geom"

// Publish upserts the joined feature table into PostGIS keyed on opts.Key,
// adding the household point as EWKB in SRID 4326. Columns whose values
// all parse as numbers are stored as double precision, the rest as text.
// The WKT geometry column of the CSV is not copied. With opts.Replace the
// table is dropped and recreated and rows are loaded with COPY; this is the
// only mode that accepts repeated keys, which get an index instead of a
// primary key.
func Publish(ctx context.Context, pool db.Pool, joined *Table, hhs *survey.Table, opts PublishOptions) (int64, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "contamination.publish"))

	keyIdx := joined.Column(opts.Key)
	if keyIdx < 0 {
		return 0, eris.Errorf("contamination: joined table has no %q column", opts.Key)
	}

	points := make(map[string][]byte, hhs.Len())
	for _, h := range hhs.Households {
		k := h.Get(opts.Key)
		if k == "" {
			k = h.ID
		}
		if _, ok := points[k]; ok {
			continue
		}
		b, err := geo.EncodeEWKB(h.Point, geo.SRIDWGS84)
		if err != nil {
			return 0, eris.Wrapf(err, "contamination: encode household %s", k)
		}
		points[k] = b
	}

	var srcIdx []int
	var cols []string
	for i, c := range joined.Header {
		if c == GeometryColumn {
			continue
		}
		srcIdx = append(srcIdx, i)
		cols = append(cols, c)
	}
	numeric := numericColumns(joined, srcIdx, keyIdx)
	table := opts.Schema + "." + opts.Table

	unique := repeatedKeys(joined, keyIdx) == 0
	if !unique && !opts.Replace {
		return 0, eris.Errorf("contamination: %d %q values repeat in the joined table; publish with replace",
			repeatedKeys(joined, keyIdx), opts.Key)
	}

	if err := db.EnsureSchema(ctx, pool, opts.Schema); err != nil {
		return 0, err
	}
	if opts.Replace {
		stmt := "DROP TABLE IF EXISTS " + pgx.Identifier{opts.Schema, opts.Table}.Sanitize()
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return 0, eris.Wrapf(err, "contamination: drop %s", table)
		}
	}
	if err := ensureTable(ctx, pool, opts, cols, numeric, unique); err != nil {
		return 0, err
	}

	allCols := append(append([]string(nil), cols...), geomColumn)
	var total int64
	for start := 0; start < len(joined.Rows); start += opts.BatchMax {
		end := min(start+opts.BatchMax, len(joined.Rows))
		rows := make([][]any, 0, end-start)
		for _, rec := range joined.Rows[start:end] {
			row := make([]any, 0, len(allCols))
			for j, src := range srcIdx {
				row = append(row, cellValue(rec, src, numeric[j]))
			}
			if g, ok := points[rec[keyIdx]]; ok {
				row = append(row, g)
			} else {
				row = append(row, nil)
			}
			rows = append(rows, row)
		}
		var n int64
		var err error
		if opts.Replace {
			n, err = db.CopyFromSchema(ctx, pool, opts.Schema, opts.Table, allCols, rows)
		} else {
			n, err = db.BulkUpsert(ctx, pool, db.UpsertConfig{
				Table:        table,
				Columns:      allCols,
				ConflictKeys: []string{opts.Key},
			}, rows)
		}
		if err != nil {
			return total, eris.Wrap(err, "contamination: publish")
		}
		total += n
	}

	log.Info("contamination: published feature table",
		zap.String("table", table),
		zap.Int("columns", len(allCols)),
		zap.Int64("rows", total),
		zap.Bool("replace", opts.Replace),
	)
	return total, nil
}

// repeatedKeys counts rows whose key appeared on an earlier row.
func repeatedKeys(t *Table, keyIdx int) int {
	seen := make(map[string]bool, len(t.Rows))
	n := 0
	for _, rec := range t.Rows {
		if keyIdx >= len(rec) {
			continue
		}
		if seen[rec[keyIdx]] {
			n++
		}
		seen[rec[keyIdx]] = true
	}
	return n
}

func ensureTable(ctx context.Context, pool db.Pool, opts PublishOptions, cols []string, numeric []bool, unique bool) error {
	ident := pgx.Identifier{opts.Schema, opts.Table}.Sanitize()
	keyIdent := pgx.Identifier{opts.Key}.Sanitize()
	keyDef := "TEXT PRIMARY KEY"
	if !unique {
		keyDef = "TEXT NOT NULL"
	}
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s %s, %s geometry(Point, %d))",
		ident, keyIdent, keyDef, geomColumn, geo.SRIDWGS84,
	)
	if _, err := pool.Exec(ctx, create); err != nil {
		return eris.Wrapf(err, "contamination: create table %s", ident)
	}
	if !unique {
		index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgx.Identifier{opts.Table + "_" + opts.Key + "_idx"}.Sanitize(), ident, keyIdent)
		if _, err := pool.Exec(ctx, index); err != nil {
			return eris.Wrapf(err, "contamination: index %s", ident)
		}
	}

	var adds []string
	for i, c := range cols {
		if c == opts.Key {
			continue
		}
		typ := "TEXT"
		if numeric[i] {
			typ = "DOUBLE PRECISION"
		}
		adds = append(adds, fmt.Sprintf("ADD COLUMN IF NOT EXISTS %s %s", pgx.Identifier{c}.Sanitize(), typ))
	}
	if len(adds) == 0 {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s %s", ident, strings.Join(adds, ", "))
	if _, err := pool.Exec(ctx, alter); err != nil {
		return eris.Wrapf(err, "contamination: add columns to %s", ident)
	}
	return nil
}

// numericColumns flags columns (by position in srcIdx) whose non-empty
// values all parse as floats. The key column is always text.
func numericColumns(t *Table, srcIdx []int, keyIdx int) []bool {
	out := make([]bool, len(srcIdx))
	for j, src := range srcIdx {
		if src == keyIdx {
			continue
		}
		numeric, any := true, false
		for _, rec := range t.Rows {
			if src >= len(rec) || rec[src] == "" {
				continue
			}
			any = true
			if _, err := strconv.ParseFloat(rec[src], 64); err != nil {
				numeric = false
				break
			}
		}
		out[j] = numeric && any
	}
	return out
}

func cellValue(rec []string, idx int, numeric bool) any {
	if idx >= len(rec) || rec[idx] == "" {
		return nil
	}
	if !numeric {
		return rec[idx]
	}
	v, err := strconv.ParseFloat(rec[idx], 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	return v
}
