// Package correlation computes pairwise correlation matrices and screens
// security pairs by correlation before the cointegration stage.
package correlation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// Method is a correlation coefficient.
type Method string

const (
	Pearson  Method = "pearson"
	Spearman Method = "spearman"
	// Kendall is Kendall's tau-b, which corrects for ties.
	Kendall Method = "kendall"
)

var methodNames = []string{string(Pearson), string(Spearman), string(Kendall)}

// ParseMethod resolves a correlation method name.
func ParseMethod(name string) (Method, error) {
	switch m := Method(name); m {
	case Pearson, Spearman, Kendall:
		return m, nil
	}
	return "", apperrors.NewInvalidParameterError("correlation method", name, methodNames)
}

// Matrix is a symmetric correlation matrix over named securities. The
// diagonal is exactly 1; pairs without enough overlapping observations are
// NaN.
type Matrix struct {
	Method     Method
	Securities []string
	Values     *mat.SymDense
	index      map[string]int
}

// At returns the correlation between two securities.
func (m *Matrix) At(a, b string) (float64, error) {
	i, ok := m.index[a]
	if !ok {
		return 0, apperrors.NewColumnNotFoundError(a)
	}
	j, ok := m.index[b]
	if !ok {
		return 0, apperrors.NewColumnNotFoundError(b)
	}
	return m.Values.At(i, j), nil
}

// Sub restricts the matrix to the given securities, in that order.
func (m *Matrix) Sub(securities []string) (*Matrix, error) {
	out := newMatrix(m.Method, securities)
	for i, a := range securities {
		for j := i; j < len(securities); j++ {
			v, err := m.At(a, securities[j])
			if err != nil {
				return nil, err
			}
			out.Values.SetSym(i, j, v)
		}
	}
	return out, nil
}

// MarshalJSON encodes the matrix as nested objects keyed by security, with
// NaN as null.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	rows := make(map[string]map[string]*float64, len(m.Securities))
	for i, a := range m.Securities {
		row := make(map[string]*float64, len(m.Securities))
		for j, b := range m.Securities {
			v := m.Values.At(i, j)
			if math.IsNaN(v) {
				row[b] = nil
				continue
			}
			row[b] = &v
		}
		rows[a] = row
	}
	return json.Marshal(struct {
		Method     Method                         `json:"method"`
		Securities []string                       `json:"securities"`
		Values     map[string]map[string]*float64 `json:"values"`
	}{m.Method, m.Securities, rows})
}

func newMatrix(method Method, securities []string) *Matrix {
	m := &Matrix{
		Method:     method,
		Securities: append([]string(nil), securities...),
		index:      make(map[string]int, len(securities)),
	}
	if len(securities) > 0 {
		m.Values = mat.NewSymDense(len(securities), nil)
	}
	for i, s := range securities {
		m.index[s] = i
		m.Values.SetSym(i, i, 1)
	}
	return m
}

// ComputeMatrix correlates every pair of securities over their pairwise
// complete observations. Duplicate names are dropped.
func ComputeMatrix(t *timeseries.Table, securities []string, method Method) (*Matrix, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperrors.NewValueError("no data table supplied")
	}
	if err := t.RequireColumns(securities); err != nil {
		return nil, err
	}
	securities = unique(securities)
	if len(securities) < 2 {
		return nil, apperrors.NewValueError(
			fmt.Sprintf("correlation needs at least two securities, got %d", len(securities)))
	}

	columns := make([][]float64, len(securities))
	for i, s := range securities {
		col, err := t.Column(s)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}

	m := newMatrix(method, securities)
	for i := range securities {
		for j := i + 1; j < len(securities); j++ {
			m.Values.SetSym(i, j, correlate(columns[i], columns[j], method))
		}
	}
	return m, nil
}

// correlate returns NaN when fewer than two complete observations remain or
// either series is constant over them.
func correlate(a, b []float64, method Method) float64 {
	pair := timeseries.CompleteCases(a, b)
	x, y := pair[0], pair[1]
	if len(x) < 2 || constant(x) || constant(y) {
		return math.NaN()
	}
	switch method {
	case Spearman:
		return stat.Correlation(ranks(x), ranks(y), nil)
	case Kendall:
		return kendallTauB(x, y)
	default:
		return stat.Correlation(x, y, nil)
	}
}

// ranks assigns 1-based ranks, averaging ties.
func ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	out := make([]float64, len(x))
	for start := 0; start < len(idx); {
		end := start + 1
		for end < len(idx) && x[idx[end]] == x[idx[start]] {
			end++
		}
		avg := float64(start+end+1) / 2
		for k := start; k < end; k++ {
			out[idx[k]] = avg
		}
		start = end
	}
	return out
}

func kendallTauB(x, y []float64) float64 {
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < len(x); i++ {
		for j := i + 1; j < len(x); j++ {
			dx := x[i] - x[j]
			dy := y[i] - y[j]
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case (dx > 0) == (dy > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	denom := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denom == 0 {
		return math.NaN()
	}
	return (concordant - discordant) / denom
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
