package attrsync

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/layersync/internal/core/model"
)

// RowIDKey tags every row with its index into Dataset.Features.
const RowIDKey = "__rowid"

// PreferredColumns lead the column order when present.
var PreferredColumns = []string{"OBJECTID", "objectid", "id", "km", "division", "railway"}

// Row is one flattened property map.
type Row map[string]any

// Dataset is the tabular projection of a layer's latest fetch.
// Rows[i][RowIDKey] == i and Features[i] produced Rows[i].
type Dataset struct {
	Rows     []Row              `json:"rows"`
	Columns  []string           `json:"columns"`
	Count    int                `json:"count"`
	Features []*geojson.Feature `json:"features"`
}

// BuildDataset normalizes features and projects them into rows.
func BuildDataset(features []*geojson.Feature) Dataset {
	ds := Dataset{
		Rows:     make([]Row, 0, len(features)),
		Features: make([]*geojson.Feature, 0, len(features)),
	}
	cols := map[string]struct{}{}
	for _, f := range features {
		if f == nil {
			continue
		}
		nf := model.Normalize(f)
		i := len(ds.Features)
		row := make(Row, len(nf.Properties)+1)
		for k, v := range nf.Properties {
			row[k] = v
			if k != RowIDKey {
				cols[k] = struct{}{}
			}
		}
		row[RowIDKey] = i
		ds.Rows = append(ds.Rows, row)
		ds.Features = append(ds.Features, nf)
	}
	ds.Count = len(ds.Rows)
	ds.Columns = orderColumns(cols)
	return ds
}

func orderColumns(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, p := range PreferredColumns {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	rest := make([]string, 0, len(set))
	for k := range set {
		if !slices.Contains(PreferredColumns, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// RowID extracts the row index from a row, accepting the numeric shapes a
// row takes after a JSON round trip.
func RowID(row Row) (int, bool) {
	switch v := row[RowIDKey].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
