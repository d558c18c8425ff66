package stattest

import (
	"fmt"
	"math"

	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// collinearR2 is the R² above which the cointegrating regression is treated
// as an exact fit: 1 - 100·sqrt(machine epsilon).
var collinearR2 = 1 - 100*math.Sqrt(2.220446049250313e-16)

// EGOptions configures the Engle-Granger test.
type EGOptions struct {
	// Trend sets the deterministic terms of the cointegrating regression.
	Trend string
	// Autolag and MaxLag configure the residual ADF regression.
	Autolag           Autolag
	MaxLag            *int
	SignificanceLevel float64
}

// EngleGranger runs the two-step Engle-Granger test on securities[0]
// regressed on securities[1]. The pair is cointegrated when the MacKinnon
// p-value of the residual unit-root statistic is below the significance
// level. No critical values are reported for "no deterministic term".
func EngleGranger(t *timeseries.Table, securities []string, opts EGOptions) (*CointegrationResult, error) {
	tr, err := resolveTrend(opts.Trend, trend.All)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(t, securities...); err != nil {
		return nil, err
	}
	alpha, err := resolveAlpha(opts.SignificanceLevel)
	if err != nil {
		return nil, err
	}
	autolag, err := resolveAutolag(opts.Autolag)
	if err != nil {
		return nil, err
	}
	if err := checkNonNegative("max lag", opts.MaxLag); err != nil {
		return nil, err
	}
	if err := requirePair(securities); err != nil {
		return nil, err
	}
	series, err := usableSeries(t, securities...)
	if err != nil {
		return nil, err
	}

	reg, fit, err := cointegratingRegression(series[0], series[1], tr)
	if err != nil {
		return nil, fmt.Errorf("Engle-Granger regression of %s on %s: %w", securities[0], securities[1], err)
	}
	reg.Dependent, reg.Independent = securities[0], securities[1]

	stat := math.Inf(-1)
	lags := 0
	if fit.rsquared() < collinearR2 {
		out, err := adfuller(fit.resid, trend.None, opts.MaxLag, autolag)
		if err != nil {
			return nil, fmt.Errorf("Engle-Granger residual test for %v: %w", securities, err)
		}
		stat, lags = out.stat, out.usedLag
	}

	nobs := len(series[0])
	pvalue := mackinnonP(stat, tr, 2)
	critical, _ := mackinnonCrit(tr, 2, nobs-1)
	return &CointegrationResult{
		Method:            EngleGrangerMethod,
		Securities:        append([]string(nil), securities...),
		Statistic:         stat,
		PValue:            &pvalue,
		CriticalValues:    critical,
		Trend:             tr,
		Cointegrated:      pvalue < alpha,
		SignificanceLevel: alpha,
		LagsUsed:          lags,
		NObs:              nobs,
		Regression:        reg,
	}, nil
}

// cointegratingRegression regresses y on x plus the trend's deterministic
// terms. The slope is the hedge ratio of y against x.
func cointegratingRegression(y, x []float64, tr trend.Trend) (*CointegratingRegression, *olsFit, error) {
	cols := append([][]float64{x}, deterministicColumns(tr, len(x))...)
	fit, err := fitOLS(y, designMatrix(cols...), tr != trend.None)
	if err != nil {
		return nil, nil, err
	}

	reg := &CointegratingRegression{
		Slope:    fit.params[0],
		RSquared: fit.rsquared(),
	}
	if tr >= trend.Constant {
		reg.Intercept = fit.params[1]
	}
	if tr >= trend.ConstantAndTrend {
		reg.TrendSlope = fit.params[2]
	}
	return reg, fit, nil
}

// HedgeRatio returns the OLS slope of y on x with an intercept, the number
// of units of x that offset one unit of y.
func HedgeRatio(y, x []float64) (float64, error) {
	series := timeseries.CompleteCases(y, x)
	reg, _, err := cointegratingRegression(series[0], series[1], trend.Constant)
	if err != nil {
		return 0, err
	}
	return reg.Slope, nil
}
