package stattest

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// Autolag selects how the ADF regression chooses its number of lagged
// differences.
type Autolag string

const (
	AutolagAIC   Autolag = "AIC"
	AutolagBIC   Autolag = "BIC"
	AutolagTStat Autolag = "t-stat"
	// AutolagNone uses the maximum lag as the fixed lag.
	AutolagNone Autolag = "none"
)

// tStatStop is the 95% standard normal quantile used by the t-stat rule.
const tStatStop = 1.6448536269514722

var autolagNames = []string{string(AutolagAIC), string(AutolagBIC), string(AutolagTStat), string(AutolagNone)}

func resolveAutolag(a Autolag) (Autolag, error) {
	switch a {
	case "":
		return AutolagAIC, nil
	case AutolagAIC, AutolagBIC, AutolagTStat, AutolagNone:
		return a, nil
	default:
		return "", apperrors.NewInvalidParameterError("autolag method", a, autolagNames)
	}
}

// ADFOptions configures the augmented Dickey-Fuller test.
type ADFOptions struct {
	// Trend is one of the trend descriptions; empty means "constant".
	Trend   string
	Autolag Autolag
	// MaxLag bounds the automatic lag search, or is the lag itself when
	// Autolag is AutolagNone. Nil selects 12(n/100)^(1/4).
	MaxLag            *int
	SignificanceLevel float64
}

// ADF runs the augmented Dickey-Fuller unit-root test on one security. The
// series is declared stationary when the p-value is below the significance
// level.
func ADF(t *timeseries.Table, security string, opts ADFOptions) (*StationarityResult, error) {
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
	autolag, err := resolveAutolag(opts.Autolag)
	if err != nil {
		return nil, err
	}
	if err := checkNonNegative("max lag", opts.MaxLag); err != nil {
		return nil, err
	}
	series, err := usableSeries(t, security)
	if err != nil {
		return nil, err
	}

	out, err := adfuller(series[0], tr, opts.MaxLag, autolag)
	if err != nil {
		return nil, fmt.Errorf("ADF on %s: %w", security, err)
	}

	return &StationarityResult{
		Method:            ADFMethod,
		Security:          security,
		Statistic:         out.stat,
		PValue:            out.pvalue,
		CriticalValues:    out.critical,
		Trend:             tr,
		Stationary:        out.pvalue < alpha,
		LagsUsed:          out.usedLag,
		NObs:              out.nobs,
		SignificanceLevel: alpha,
		ICBest:            out.icBest,
	}, nil
}

type adfOutcome struct {
	stat     float64
	pvalue   float64
	usedLag  int
	nobs     int
	critical map[string]float64
	icBest   *float64
}

// adfuller is the Dickey-Fuller regression of Δx_t on the deterministic
// terms, x_{t-1} and lagged differences.
func adfuller(x []float64, tr trend.Trend, maxLag *int, autolag Autolag) (*adfOutcome, error) {
	n := len(x)
	if isConstant(x) {
		return nil, apperrors.NewValueError("series is constant")
	}

	limit := n/2 - tr.Terms() - 1
	var maxlag int
	if maxLag == nil {
		maxlag = schwertLags(n)
		if maxlag > limit {
			maxlag = limit
		}
		if maxlag < 0 {
			return nil, apperrors.NewValueError(
				fmt.Sprintf("sample size %d is too short for trend '%s'", n, tr))
		}
	} else {
		maxlag = *maxLag
		if maxlag > limit {
			return nil, apperrors.NewValueError(
				fmt.Sprintf("max lag %d must be at most %d for %d observations", maxlag, limit, n))
		}
	}

	dx := diff(x)
	usedLag := maxlag
	var icBest *float64
	if autolag != AutolagNone {
		best, ic, err := selectLag(x, dx, tr, maxlag, autolag)
		if err != nil {
			return nil, err
		}
		usedLag = best
		icBest = &ic
	}

	fit, err := adfRegression(x, dx, tr, usedLag, usedLag)
	if err != nil {
		return nil, err
	}

	stat := fit.tvalue(tr.Terms())
	critical, _ := mackinnonCrit(tr, 1, fit.nobs)
	return &adfOutcome{
		stat:     stat,
		pvalue:   mackinnonP(stat, tr, 1),
		usedLag:  usedLag,
		nobs:     fit.nobs,
		critical: critical,
		icBest:   icBest,
	}, nil
}

// adfRegression fits the ADF regression with lags differences on the sample
// that remains after trimming sampleLags leading differences.
func adfRegression(x, dx []float64, tr trend.Trend, lags, sampleLags int) (*olsFit, error) {
	nobs := len(dx) - sampleLags
	if nobs <= 0 {
		return nil, apperrors.NewValueError(fmt.Sprintf("no observations left after %d lags", sampleLags))
	}

	cols := deterministicColumns(tr, nobs)
	level := make([]float64, nobs)
	for r := range level {
		level[r] = x[sampleLags+r]
	}
	cols = append(cols, level)
	for j := 1; j <= lags; j++ {
		lagged := make([]float64, nobs)
		for r := range lagged {
			lagged[r] = dx[sampleLags+r-j]
		}
		cols = append(cols, lagged)
	}

	return fitOLS(dx[sampleLags:], designMatrix(cols...), tr != trend.None)
}

// selectLag searches lags 0..maxlag on a common sample.
func selectLag(x, dx []float64, tr trend.Trend, maxlag int, autolag Autolag) (int, float64, error) {
	fits := make([]*olsFit, maxlag+1)
	for lag := 0; lag <= maxlag; lag++ {
		fit, err := adfRegression(x, dx, tr, lag, maxlag)
		if err != nil {
			return 0, 0, err
		}
		fits[lag] = fit
	}

	if autolag == AutolagTStat {
		var ic float64
		for lag := maxlag; lag >= 0; lag-- {
			ic = math.Abs(fits[lag].tvalue(fits[lag].k - 1))
			if ic >= tStatStop || lag == 0 {
				return lag, ic, nil
			}
		}
	}

	best, bestIC := 0, math.Inf(1)
	for lag, fit := range fits {
		ic := fit.aic()
		if autolag == AutolagBIC {
			ic = fit.bic()
		}
		if ic < bestIC {
			best, bestIC = lag, ic
		}
	}
	return best, bestIC, nil
}
