package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// ScreenOptions configures Screen.
type ScreenOptions struct {
	Method Method
	// PlusThreshold keeps pairs with correlation at or above it.
	PlusThreshold float64
	// MinusThreshold keeps pairs with correlation at or below it. Nil means
	// -PlusThreshold.
	MinusThreshold *float64
}

// CorrelatedPair is a pair that passed the screen.
type CorrelatedPair struct {
	SecurityA   string  `json:"security_a"`
	SecurityB   string  `json:"security_b"`
	Correlation float64 `json:"correlation"`
}

// Result is the outcome of a correlation screen.
type Result struct {
	// Matrix covers every requested security.
	Matrix *Matrix `json:"matrix"`
	// Filtered is Matrix restricted to Securities.
	Filtered *Matrix `json:"filtered"`
	// Pairs are ordered by absolute correlation, strongest first.
	Pairs []CorrelatedPair `json:"pairs"`
	// Securities participate in at least one surviving pair, in request
	// order.
	Securities     []string `json:"securities"`
	PlusThreshold  float64  `json:"plus_threshold"`
	MinusThreshold float64  `json:"minus_threshold"`
}

// Screen computes the correlation matrix and keeps the pairs whose
// correlation is at least PlusThreshold or at most MinusThreshold.
func Screen(t *timeseries.Table, securities []string, opts ScreenOptions) (*Result, error) {
	plus := opts.PlusThreshold
	minus := -plus
	if opts.MinusThreshold != nil {
		minus = *opts.MinusThreshold
	}
	if err := CheckThresholds(plus, minus); err != nil {
		return nil, err
	}
	method := opts.Method
	if method == "" {
		method = Pearson
	}

	m, err := ComputeMatrix(t, securities, method)
	if err != nil {
		return nil, err
	}

	var pairs []CorrelatedPair
	keep := make(map[string]bool)
	for i, a := range m.Securities {
		for j := i + 1; j < len(m.Securities); j++ {
			rho := m.Values.At(i, j)
			if math.IsNaN(rho) || (rho < plus && rho > minus) {
				continue
			}
			b := m.Securities[j]
			pairs = append(pairs, CorrelatedPair{SecurityA: a, SecurityB: b, Correlation: rho})
			keep[a], keep[b] = true, true
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		ai, aj := math.Abs(pairs[i].Correlation), math.Abs(pairs[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		if pairs[i].SecurityA != pairs[j].SecurityA {
			return pairs[i].SecurityA < pairs[j].SecurityA
		}
		return pairs[i].SecurityB < pairs[j].SecurityB
	})

	var surviving []string
	for _, s := range m.Securities {
		if keep[s] {
			surviving = append(surviving, s)
		}
	}
	filtered, err := m.Sub(surviving)
	if err != nil {
		return nil, err
	}

	return &Result{
		Matrix:         m,
		Filtered:       filtered,
		Pairs:          pairs,
		Securities:     surviving,
		PlusThreshold:  plus,
		MinusThreshold: minus,
	}, nil
}

// CheckThresholds validates a screening band: both bounds lie in [-1, 1]
// and minus does not exceed plus.
func CheckThresholds(plus, minus float64) error {
	if err := checkThreshold("plus threshold", plus); err != nil {
		return err
	}
	if err := checkThreshold("minus threshold", minus); err != nil {
		return err
	}
	if minus > plus {
		return apperrors.NewInvalidParameterError("minus threshold",
			fmt.Sprintf("%g (above plus threshold %g)", minus, plus), nil)
	}
	return nil
}

func checkThreshold(name string, v float64) error {
	if math.IsNaN(v) || v < -1 || v > 1 {
		return apperrors.NewInvalidParameterError(name, v, nil)
	}
	return nil
}

// SliceWithDates returns the rows between start and end, both inclusive.
func SliceWithDates(t *timeseries.Table, start, end time.Time) (*timeseries.Table, error) {
	if start.After(end) {
		return nil, apperrors.NewValueError(fmt.Sprintf("start date %s is after end date %s",
			start.Format(timeseries.DateLayout), end.Format(timeseries.DateLayout)))
	}
	sliced := t.Slice(start, end)
	if sliced.Len() == 0 {
		return nil, apperrors.NewValueError(fmt.Sprintf("no data between %s and %s",
			start.Format(timeseries.DateLayout), end.Format(timeseries.DateLayout)))
	}
	return sliced, nil
}

// DateRange returns the first and last dates of the table as ISO strings.
func DateRange(t *timeseries.Table) (string, string, error) {
	first, last, err := t.DateRange()
	if err != nil {
		return "", "", err
	}
	return first.Format(timeseries.DateLayout), last.Format(timeseries.DateLayout), nil
}
