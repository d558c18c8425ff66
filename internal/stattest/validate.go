package stattest

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// minObservations is the shortest usable sample any test accepts.
const minObservations = 3

// resolveTrend validates a trend description. An empty description selects
// "constant".
func resolveTrend(userTrend string, allowed []string) (trend.Trend, error) {
	if userTrend == "" {
		userTrend = trend.NameConstant
	}
	return trend.Validate(userTrend, allowed)
}

func requireColumns(t *timeseries.Table, securities ...string) error {
	if t == nil {
		return apperrors.NewValueError("no data table supplied")
	}
	for _, s := range securities {
		if !t.Has(s) {
			return apperrors.NewColumnNotFoundError(s)
		}
	}
	return nil
}

// resolveAlpha validates a significance level; zero selects the default.
func resolveAlpha(alpha float64) (float64, error) {
	if alpha == 0 {
		return DefaultSignificanceLevel, nil
	}
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return 0, apperrors.NewInvalidParameterError("significance level", alpha, nil)
	}
	return alpha, nil
}

func checkNonNegative(name string, v *int) error {
	if v != nil && *v < 0 {
		return apperrors.NewInvalidParameterError(name, *v, nil)
	}
	return nil
}

// usableSeries returns the complete-case observations of the securities and
// rejects samples that are too short or constant.
func usableSeries(t *timeseries.Table, securities ...string) ([][]float64, error) {
	series, err := t.CompleteRows(securities...)
	if err != nil {
		return nil, err
	}
	n := len(series[0])
	if n < minObservations {
		return nil, apperrors.NewValueError(
			fmt.Sprintf("%v: %d usable observations, need at least %d", securities, n, minObservations))
	}
	for i, s := range series {
		if isConstant(s) {
			return nil, apperrors.NewValueError(fmt.Sprintf("series '%s' is constant", securities[i]))
		}
	}
	return series, nil
}

// requirePair validates the two-security contract of the single-equation
// cointegration tests.
func requirePair(securities []string) error {
	if len(securities) != 2 {
		return apperrors.NewValueError(
			fmt.Sprintf("test requires exactly two securities, got %d", len(securities)))
	}
	if securities[0] == securities[1] {
		return apperrors.NewValueError(fmt.Sprintf("pair repeats security '%s'", securities[0]))
	}
	return nil
}
