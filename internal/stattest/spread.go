package stattest

import (
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// Spread returns y - hedge·x over the complete cases of the two series.
func Spread(y, x []float64, hedge float64) []float64 {
	series := timeseries.CompleteCases(y, x)
	out := make([]float64, len(series[0]))
	for i := range out {
		out[i] = series[0][i] - hedge*series[1][i]
	}
	return out
}

// HalfLife estimates the mean-reversion half-life of a spread, in rows, from
// an AR(1) fit s_t = c + φ s_{t-1}. It returns +Inf when φ is outside (0, 1).
func HalfLife(spread []float64) (float64, error) {
	if len(spread) < minObservations {
		return 0, apperrors.NewValueError("spread is too short to estimate a half-life")
	}
	n := len(spread) - 1
	cols := append([][]float64{spread[:n]}, deterministicColumns(trend.Constant, n)...)
	fit, err := fitOLS(spread[1:], designMatrix(cols...), true)
	if err != nil {
		return 0, err
	}
	phi := fit.params[0]
	if phi <= 0 || phi >= 1 {
		return math.Inf(1), nil
	}
	return -math.Ln2 / math.Log(phi), nil
}
