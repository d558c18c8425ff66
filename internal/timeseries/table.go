// Package timeseries provides the date-indexed table consumed by every stage
// of the pair-identification pipeline.
//
// A Table is immutable. Methods that change the shape of a table return a new
// one and never alias the receiver's column slices.
package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
)

// DateLayout is the ISO format used for dates in messages and reports.
const DateLayout = "2006-01-02"

// Table maps a strictly increasing date index to named float columns.
// Missing observations are NaN.
type Table struct {
	dates   []time.Time
	names   []string
	columns map[string][]float64
}

// New builds a table. Column order follows names. Every column must have one
// value per date and the dates must be strictly increasing.
func New(dates []time.Time, names []string, columns map[string][]float64) (*Table, error) {
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			if dates[i].Equal(dates[i-1]) {
				return nil, apperrors.NewSchemaError(
					fmt.Sprintf("duplicate date %s in index", dates[i].Format(DateLayout)))
			}
			return nil, apperrors.NewSchemaError(
				fmt.Sprintf("date index not increasing at %s", dates[i].Format(DateLayout)))
		}
	}

	seen := make(map[string]struct{}, len(names))
	t := &Table{
		dates:   append([]time.Time(nil), dates...),
		names:   make([]string, 0, len(names)),
		columns: make(map[string][]float64, len(names)),
	}
	for _, name := range names {
		if name == "" {
			return nil, apperrors.NewSchemaError("empty column name")
		}
		if _, dup := seen[name]; dup {
			return nil, apperrors.NewSchemaError(fmt.Sprintf("duplicate column %q", name))
		}
		seen[name] = struct{}{}

		values, ok := columns[name]
		if !ok {
			return nil, apperrors.NewSchemaError(fmt.Sprintf("column %q has no values", name))
		}
		if len(values) != len(dates) {
			return nil, apperrors.NewSchemaError(
				fmt.Sprintf("column %q has %d values for %d dates", name, len(values), len(dates)))
		}
		t.names = append(t.names, name)
		t.columns[name] = append([]float64(nil), values...)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.dates) }

// Dates returns a copy of the date index.
func (t *Table) Dates() []time.Time {
	return append([]time.Time(nil), t.dates...)
}

// Columns returns the column names in table order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether the table carries the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	values, ok := t.columns[name]
	if !ok {
		return nil, apperrors.NewColumnNotFoundError(name)
	}
	return append([]float64(nil), values...), nil
}

// Missing returns the names not present in the table, in request order.
func (t *Table) Missing(names []string) []string {
	var missing []string
	for _, name := range names {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// RequireColumns fails with a validation error listing every name absent
// from the table.
func (t *Table) RequireColumns(names []string) error {
	if missing := t.Missing(names); len(missing) > 0 {
		return apperrors.NewMissingSecuritiesError(missing)
	}
	return nil
}

// Select returns a table restricted to names, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make(map[string][]float64, len(names))
	for _, name := range names {
		values, ok := t.columns[name]
		if !ok {
			return nil, apperrors.NewColumnNotFoundError(name)
		}
		cols[name] = values
	}
	return New(t.dates, names, cols)
}

// With returns a copy of the table where column name holds values. An
// existing column keeps its position; a new one is appended.
func (t *Table) With(name string, values []float64) (*Table, error) {
	names := t.names
	if !t.Has(name) {
		names = append(append([]string(nil), t.names...), name)
	}
	cols := make(map[string][]float64, len(names))
	for k, v := range t.columns {
		cols[k] = v
	}
	cols[name] = values
	return New(t.dates, names, cols)
}

// Slice returns the rows whose date lies in [start, end]. The result may be
// empty.
func (t *Table) Slice(start, end time.Time) *Table {
	lo := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(start) })
	hi := sort.Search(len(t.dates), func(i int) bool { return t.dates[i].After(end) })
	if hi < lo {
		hi = lo
	}
	return t.rows(lo, hi)
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n > len(t.dates) {
		n = len(t.dates)
	}
	if n < 0 {
		n = 0
	}
	return t.rows(0, n)
}

func (t *Table) rows(lo, hi int) *Table {
	out := &Table{
		dates:   append([]time.Time(nil), t.dates[lo:hi]...),
		names:   append([]string(nil), t.names...),
		columns: make(map[string][]float64, len(t.names)),
	}
	for _, name := range t.names {
		out.columns[name] = append([]float64(nil), t.columns[name][lo:hi]...)
	}
	return out
}

// DateRange returns the first and last dates of the index.
func (t *Table) DateRange() (time.Time, time.Time, error) {
	if len(t.dates) == 0 {
		return time.Time{}, time.Time{}, apperrors.NewValueError("table has no rows")
	}
	return t.dates[0], t.dates[len(t.dates)-1], nil
}

// CompleteRows returns the named columns restricted to the rows where none
// of them is NaN or infinite. The returned slices are aligned.
func (t *Table) CompleteRows(names ...string) ([][]float64, error) {
	src := make([][]float64, len(names))
	for i, name := range names {
		values, ok := t.columns[name]
		if !ok {
			return nil, apperrors.NewColumnNotFoundError(name)
		}
		src[i] = values
	}
	return CompleteCases(src...), nil
}

// CompleteCases drops every index at which any series is NaN or infinite.
func CompleteCases(series ...[]float64) [][]float64 {
	out := make([][]float64, len(series))
	if len(series) == 0 {
		return out
	}
	n := len(series[0])
	for _, s := range series[1:] {
		if len(s) < n {
			n = len(s)
		}
	}
	for i := range out {
		out[i] = make([]float64, 0, n)
	}
rows:
	for r := 0; r < n; r++ {
		for _, s := range series {
			if math.IsNaN(s[r]) || math.IsInf(s[r], 0) {
				continue rows
			}
		}
		for i, s := range series {
			out[i] = append(out[i], s[r])
		}
	}
	return out
}

// ParseDate parses an ISO date (2006-01-02) in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, apperrors.NewParsingError(fmt.Sprintf("invalid date %q", s), err)
	}
	return d, nil
}
