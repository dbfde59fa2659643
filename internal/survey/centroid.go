package survey

import (
	"slices"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/exposure-cli/internal/geo"
)

// GroupCentroids collapses households to one row per groupCol value. The
// location is the mean of the members in Web Mercator; other columns take
// the first member's value and the lon/lat columns are dropped. Rows are
// ordered by group key, numerically when every key is a number.
func GroupCentroids(t *Table, groupCol string) (*Table, error) {
	if !slices.Contains(t.Columns, groupCol) {
		return nil, eris.Errorf("survey: group column %q not in table", groupCol)
	}

	type acc struct {
		first  Household
		sx, sy float64
		n      int
	}
	groups := make(map[string]*acc)
	var keys []string
	for _, h := range t.Households {
		k := h.Get(groupCol)
		a, ok := groups[k]
		if !ok {
			a = &acc{first: h}
			groups[k] = a
			keys = append(keys, k)
		}
		m := geo.PointToMercator(h.Point)
		a.sx += m[0]
		a.sy += m[1]
		a.n++
	}
	sortKeys(keys)

	cols := []string{groupCol}
	for _, c := range t.Columns {
		if c != groupCol && c != t.LonColumn && c != t.LatColumn {
			cols = append(cols, c)
		}
	}

	out := &Table{
		Columns:  cols,
		IDColumn: groupCol,
	}
	for _, k := range keys {
		a := groups[k]
		values := make(map[string]string, len(cols))
		for _, c := range cols {
			values[c] = a.first.Values[c]
		}
		centre := orb.Point{a.sx / float64(a.n), a.sy / float64(a.n)}
		out.Households = append(out.Households, Household{
			ID:     k,
			Point:  geo.PointToWGS84(centre),
			Values: values,
		})
	}
	return out, nil
}

func sortKeys(keys []string) {
	numeric := true
	nums := make(map[string]float64, len(keys))
	for _, k := range keys {
		v, err := strconv.ParseFloat(k, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[k] = v
	}
	if numeric {
		sort.SliceStable(keys, func(i, j int) bool { return nums[keys[i]] < nums[keys[j]] })
		return
	}
	sort.Strings(keys)
}
