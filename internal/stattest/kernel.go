package stattest

import "math"

// autocovariance returns Σ u_t u_{t-j} / n.
func autocovariance(u []float64, j int) float64 {
	s := 0.0
	for t := j; t < len(u); t++ {
		s += u[t] * u[t-j]
	}
	return s / float64(len(u))
}

// bartlettWeight is the Bartlett kernel weight for lag j at bandwidth lags.
func bartlettWeight(j, lags int) float64 {
	return 1 - float64(j)/float64(lags+1)
}

// bartlettOneSided returns the weighted sum of autocovariances at lags
// 1..lags.
func bartlettOneSided(u []float64, lags int) float64 {
	s := 0.0
	for j := 1; j <= lags && j < len(u); j++ {
		s += bartlettWeight(j, lags) * autocovariance(u, j)
	}
	return s
}

// bartlettLongRun is the Newey-West long-run variance of u.
func bartlettLongRun(u []float64, lags int) float64 {
	return autocovariance(u, 0) + 2*bartlettOneSided(u, lags)
}

// schwertLags is the 12(n/100)^(1/4) rule, rounded up.
func schwertLags(n int) int {
	return int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
}
