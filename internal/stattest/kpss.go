package stattest

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// Kwiatkowski et al. (1992) critical values at kpssLevels.
var kpssCritical = map[trend.Trend][4]float64{
	trend.Constant:         {0.347, 0.463, 0.574, 0.739},
	trend.ConstantAndTrend: {0.119, 0.146, 0.176, 0.216},
}

var (
	kpssPValues = [4]float64{0.10, 0.05, 0.025, 0.01}
	kpssLevels  = [4]string{"10%", "5%", "2.5%", "1%"}
)

// KPSSOptions configures the KPSS test. Only "constant" and "constant and
// time trend" are accepted trends.
type KPSSOptions struct {
	Trend string
	// Lags is the Bartlett truncation. Nil selects the Hobijn et al. (1998)
	// data-dependent bandwidth.
	Lags              *int
	SignificanceLevel float64
}

// KPSS runs the Kwiatkowski-Phillips-Schmidt-Shin test, whose null is
// stationarity. The series is declared stationary when the p-value is above
// the significance level. The p-value is interpolated from the published
// table and therefore lies in [0.01, 0.10].
func KPSS(t *timeseries.Table, security string, opts KPSSOptions) (*StationarityResult, error) {
	tr, err := resolveTrend(opts.Trend, trend.WithDeterministic)
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
	if opts.Lags != nil && *opts.Lags >= len(x) {
		return nil, apperrors.NewValueError(
			fmt.Sprintf("lags %d must be below the number of observations %d", *opts.Lags, len(x)))
	}

	stat, lags, err := kpssStatistic(x, tr, opts.Lags)
	if err != nil {
		return nil, fmt.Errorf("KPSS on %s: %w", security, err)
	}

	crit := kpssCritical[tr]
	critical := make(map[string]float64, len(kpssLevels))
	for i, level := range kpssLevels {
		critical[level] = crit[i]
	}
	pvalue := kpssPValue(stat, crit)

	return &StationarityResult{
		Method:            KPSSMethod,
		Security:          security,
		Statistic:         stat,
		PValue:            pvalue,
		CriticalValues:    critical,
		Trend:             tr,
		Stationary:        pvalue > alpha,
		LagsUsed:          lags,
		NObs:              len(x),
		SignificanceLevel: alpha,
	}, nil
}

func kpssStatistic(x []float64, tr trend.Trend, lagsOpt *int) (float64, int, error) {
	n := len(x)
	var resid []float64
	if tr == trend.ConstantAndTrend {
		fit, err := fitOLS(x, designMatrix(deterministicColumns(tr, n)...), true)
		if err != nil {
			return 0, 0, err
		}
		resid = fit.resid
	} else {
		mean := 0.0
		for _, v := range x {
			mean += v
		}
		mean /= float64(n)
		resid = make([]float64, n)
		for i, v := range x {
			resid[i] = v - mean
		}
	}

	var lags int
	if lagsOpt != nil {
		lags = *lagsOpt
	} else {
		lags = hobijnLags(resid)
		if lags > n-1 {
			lags = n - 1
		}
	}

	eta, partial := 0.0, 0.0
	for _, e := range resid {
		partial += e
		eta += partial * partial
	}
	eta /= float64(n) * float64(n)

	sHat := dot(resid, resid)
	for i := 1; i <= lags; i++ {
		sHat += 2 * dot(resid[i:], resid[:n-i]) * bartlettWeight(i, lags)
	}
	sHat /= float64(n)
	if !(sHat > 0) {
		return 0, 0, apperrors.NewNumericalError("long-run variance is not positive", nil)
	}
	return eta / sHat, lags, nil
}

// hobijnLags is the automatic bandwidth of Hobijn, Franses and Ooms (1998).
func hobijnLags(resid []float64) int {
	n := len(resid)
	covlags := int(math.Pow(float64(n), 2.0/9.0))
	s0 := dot(resid, resid) / float64(n)
	s1 := 0.0
	for i := 1; i <= covlags && i < n; i++ {
		prod := dot(resid[i:], resid[:n-i]) / (float64(n) / 2)
		s0 += prod
		s1 += float64(i) * prod
	}
	sHat := s1 / s0
	gamma := 1.1447 * math.Pow(sHat*sHat, 1.0/3.0)
	lags := int(gamma * math.Pow(float64(n), 1.0/3.0))
	if lags < 0 {
		return 0
	}
	return lags
}

// kpssPValue interpolates the statistic on the critical-value table,
// clamping outside it.
func kpssPValue(stat float64, crit [4]float64) float64 {
	if stat <= crit[0] {
		return kpssPValues[0]
	}
	last := len(crit) - 1
	if stat >= crit[last] {
		return kpssPValues[last]
	}
	for i := 1; i <= last; i++ {
		if stat <= crit[i] {
			w := (stat - crit[i-1]) / (crit[i] - crit[i-1])
			return kpssPValues[i-1] + w*(kpssPValues[i]-kpssPValues[i-1])
		}
	}
	return kpssPValues[last]
}
