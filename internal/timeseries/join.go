package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
)

// JoinKind selects how the date indexes of joined tables are combined.
type JoinKind string

const (
	// InnerJoin keeps the dates present in every table.
	InnerJoin JoinKind = "inner"
	// OuterJoin keeps the union of dates and fills gaps with NaN.
	OuterJoin JoinKind = "outer"
)

// Join combines tables column-wise on their dates. Column names must be
// unique across the inputs.
func Join(kind JoinKind, tables ...*Table) (*Table, error) {
	if kind != InnerJoin && kind != OuterJoin {
		return nil, apperrors.NewInvalidParameterError("join", kind, []string{string(InnerJoin), string(OuterJoin)})
	}
	if len(tables) == 0 {
		return nil, apperrors.NewValueError("no tables to join")
	}

	counts := make(map[int64]int)
	stamps := make(map[int64]time.Time)
	for _, t := range tables {
		for _, d := range t.dates {
			key := d.UnixNano()
			counts[key]++
			stamps[key] = d
		}
	}

	var keys []int64
	for key, c := range counts {
		if kind == OuterJoin || c == len(tables) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	dates := make([]time.Time, len(keys))
	position := make(map[int64]int, len(keys))
	for i, key := range keys {
		dates[i] = stamps[key]
		position[key] = i
	}

	var names []string
	cols := make(map[string][]float64)
	for _, t := range tables {
		for _, name := range t.names {
			if _, dup := cols[name]; dup {
				return nil, apperrors.NewSchemaError(fmt.Sprintf("column %q appears in more than one table", name))
			}
			out := make([]float64, len(dates))
			for i := range out {
				out[i] = math.NaN()
			}
			for r, d := range t.dates {
				if p, ok := position[d.UnixNano()]; ok {
					out[p] = t.columns[name][r]
				}
			}
			names = append(names, name)
			cols[name] = out
		}
	}
	return New(dates, names, cols)
}
