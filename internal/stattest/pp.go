package stattest

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// PPOptions configures the Phillips-Perron test.
type PPOptions struct {
	Trend string
	// Lags is the Newey-West truncation. Nil selects 12(n/100)^(1/4).
	Lags              *int
	SignificanceLevel float64
}

// PhillipsPerron runs the Phillips-Perron Z-tau unit-root test. The decision
// rule matches ADF.
func PhillipsPerron(t *timeseries.Table, security string, opts PPOptions) (*StationarityResult, error) {
	tr, err := resolveTrend(opts.Trend, trend.All)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(t, security); err != nil {
		return nil, err
	}
	alpha, err := resolveAlpha(opts.SignificanceLevel)
	if err != nil {
		return nil, err
	}
	if err := checkNonNegative("lags", opts.Lags); err != nil {
		return nil, err
	}
	series, err := usableSeries(t, security)
	if err != nil {
		return nil, err
	}

	x := series[0]
	lags := schwertLags(len(x))
	if opts.Lags != nil {
		lags = *opts.Lags
	}
	stat, nobs, err := phillipsPerron(x, tr, lags)
	if err != nil {
		return nil, fmt.Errorf("Phillips-Perron on %s: %w", security, err)
	}

	pvalue := mackinnonP(stat, tr, 1)
	critical, _ := mackinnonCrit(tr, 1, nobs)
	return &StationarityResult{
		Method:            PPMethod,
		Security:          security,
		Statistic:         stat,
		PValue:            pvalue,
		CriticalValues:    critical,
		Trend:             tr,
		Stationary:        pvalue < alpha,
		LagsUsed:          lags,
		NObs:              nobs,
		SignificanceLevel: alpha,
	}, nil
}

// phillipsPerron returns the Z-tau statistic and the regression sample size.
func phillipsPerron(x []float64, tr trend.Trend, lags int) (float64, int, error) {
	m := len(x) - 1
	k := 1 + tr.Terms()
	if m < k+lags {
		return 0, 0, apperrors.NewValueError(
			fmt.Sprintf("%d observations cannot support %d lags with %d regressors", m, lags, k))
	}

	cols := append([][]float64{x[:m]}, deterministicColumns(tr, m)...)
	fit, err := fitOLS(x[1:], designMatrix(cols...), tr != trend.None)
	if err != nil {
		return 0, 0, err
	}

	u := fit.resid
	lam2 := bartlettLongRun(u, lags)
	if !(lam2 > 0) {
		return 0, 0, apperrors.NewNumericalError("long-run variance is not positive", nil)
	}
	lam := math.Sqrt(lam2)
	s2 := dot(u, u) / float64(m-k)
	s := math.Sqrt(s2)
	gamma0 := s2 * float64(m-k) / float64(m)
	sigma := fit.bse[0]
	rho := fit.params[0]

	stat := math.Sqrt(gamma0/lam2)*((rho-1)/sigma) -
		0.5*((lam2-gamma0)/lam)*(float64(m)*sigma/s)
	return stat, m, nil
}
