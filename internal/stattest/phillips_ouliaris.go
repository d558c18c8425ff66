package stattest

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// Phillips and Ouliaris (1990) asymptotic critical values of Ẑt for two
// variables.
var poCritical = map[trend.Trend]map[string]float64{
	trend.None:             {"1%": -3.39, "5%": -2.76, "10%": -2.45},
	trend.Constant:         {"1%": -3.96, "5%": -3.37, "10%": -3.07},
	trend.ConstantAndTrend: {"1%": -4.36, "5%": -3.80, "10%": -3.52},
}

// POOptions configures the Phillips-Ouliaris test.
type POOptions struct {
	Trend string
	// Lags is the Bartlett bandwidth of the long-run variance. Nil selects
	// 4(n/100)^(2/9).
	Lags              *int
	SignificanceLevel float64
}

// PhillipsOuliaris runs the Phillips-Ouliaris Ẑt residual test on
// securities[0] regressed on securities[1]. The pair is cointegrated when the
// p-value is below the significance level.
func PhillipsOuliaris(t *timeseries.Table, securities []string, opts POOptions) (*CointegrationResult, error) {
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
	if err := checkNonNegative("lags", opts.Lags); err != nil {
		return nil, err
	}
	if err := requirePair(securities); err != nil {
		return nil, err
	}
	series, err := usableSeries(t, securities...)
	if err != nil {
		return nil, err
	}

	n := len(series[0])
	lags := int(4 * math.Pow(float64(n)/100, 2.0/9.0))
	if opts.Lags != nil {
		lags = *opts.Lags
	}
	if lags >= n-1 {
		return nil, apperrors.NewValueError(
			fmt.Sprintf("bandwidth %d must be below the residual sample size %d", lags, n-1))
	}

	reg, fit, err := cointegratingRegression(series[0], series[1], tr)
	if err != nil {
		return nil, fmt.Errorf("Phillips-Ouliaris regression of %s on %s: %w", securities[0], securities[1], err)
	}
	reg.Dependent, reg.Independent = securities[0], securities[1]

	stat := math.Inf(-1)
	if fit.rsquared() < collinearR2 {
		stat, err = phillipsOuliarisZt(fit.resid, lags)
		if err != nil {
			return nil, fmt.Errorf("Phillips-Ouliaris statistic for %v: %w", securities, err)
		}
	}

	pvalue := mackinnonP(stat, tr, 2)
	critical := make(map[string]float64, 3)
	for k, v := range poCritical[tr] {
		critical[k] = v
	}
	return &CointegrationResult{
		Method:            PhillipsOuliarisMethod,
		Securities:        append([]string(nil), securities...),
		Statistic:         stat,
		PValue:            &pvalue,
		CriticalValues:    critical,
		Trend:             tr,
		Cointegrated:      pvalue < alpha,
		SignificanceLevel: alpha,
		LagsUsed:          lags,
		NObs:              n,
		Regression:        reg,
	}, nil
}

// phillipsOuliarisZt fits e_t = ρ e_{t-1} + k_t without intercept and
// applies the Bartlett long-run correction to the t-ratio of ρ.
func phillipsOuliarisZt(resid []float64, lags int) (float64, error) {
	rhs := resid[:len(resid)-1]
	lhs := resid[1:]
	rhs2 := dot(rhs, rhs)
	if rhs2 == 0 {
		return math.Inf(-1), nil
	}

	rho := dot(lhs, rhs) / rhs2
	u := make([]float64, len(lhs))
	for i := range u {
		u[i] = lhs[i] - rho*rhs[i]
	}

	lam := bartlettOneSided(u, lags)
	lr := autocovariance(u, 0) + 2*lam
	if !(lr > 0) {
		return 0, apperrors.NewNumericalError("long-run variance is not positive", nil)
	}
	z := (rho - 1) - float64(len(rhs))*lam/rhs2
	return z * math.Sqrt(rhs2/lr), nil
}
