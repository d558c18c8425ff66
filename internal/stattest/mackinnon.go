package stattest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// MacKinnon (1994) response-surface coefficients for unit-root and
// residual-based cointegration p-values. Rows are indexed by the number of
// integrated series N-1; tables by trend.

var tauMax = [3][6]float64{
	trend.None:             {math.Inf(1), 1.51, 0.86, 0.88, 1.05, 1.24},
	trend.Constant:         {2.74, 0.92, 0.55, 0.61, 0.79, 1},
	trend.ConstantAndTrend: {0.7, 0.63, 0.71, 0.93, 1.19, 1.42},
}

var tauMin = [3][6]float64{
	trend.None:             {-19.04, -19.62, -21.21, -23.25, -21.63, -25.74},
	trend.Constant:         {-18.83, -18.86, -23.48, -28.07, -25.96, -23.27},
	trend.ConstantAndTrend: {-16.18, -21.15, -25.37, -26.63, -26.53, -26.18},
}

var tauStar = [3][6]float64{
	trend.None:             {-1.04, -1.53, -2.68, -3.09, -3.07, -3.77},
	trend.Constant:         {-1.61, -2.62, -3.13, -3.47, -3.78, -3.93},
	trend.ConstantAndTrend: {-2.89, -3.19, -3.50, -3.65, -3.80, -4.36},
}

// Small-p coefficients; the quadratic term is scaled by 1e-2 on use.
var tauSmallP = [3][6][3]float64{
	trend.None: {
		{0.6344, 1.2378, 3.2496},
		{1.9129, 1.3857, 3.5322},
		{2.7648, 1.4502, 3.4186},
		{3.4336, 1.4835, 3.19},
		{4.0999, 1.5533, 3.59},
		{4.5388, 1.5344, 2.9807},
	},
	trend.Constant: {
		{2.1659, 1.4412, 3.8269},
		{2.92, 1.5012, 3.9796},
		{3.4699, 1.4856, 3.164},
		{3.9673, 1.4777, 2.6315},
		{4.5509, 1.5338, 2.9545},
		{5.1399, 1.6036, 3.4445},
	},
	trend.ConstantAndTrend: {
		{3.2512, 1.6047, 4.9588},
		{3.6646, 1.5419, 3.6448},
		{4.0983, 1.5173, 2.9898},
		{4.5844, 1.5338, 2.8796},
		{5.0722, 1.5634, 2.9472},
		{5.53, 1.5914, 3.0392},
	},
}

var smallScaling = [3]float64{1, 1, 1e-2}

// Large-p coefficients, scaled by largeScaling on use.
var tauLargeP = [3][6][4]float64{
	trend.None: {
		{0.4797, 9.3557, -0.6999, 3.3066},
		{1.5578, 8.558, -2.083, -3.3549},
		{2.2268, 6.8093, -3.2362, -5.4448},
		{2.7654, 6.4502, -3.0811, -4.4946},
		{3.2684, 6.8051, -2.6778, -3.4972},
		{3.7268, 7.167, -2.3648, -2.8288},
	},
	trend.Constant: {
		{1.7339, 9.3202, -1.2745, -1.0368},
		{2.1945, 6.4695, -2.9198, -4.2377},
		{2.5893, 4.5168, -3.6529, -5.0074},
		{3.0387, 4.5452, -3.3666, -4.1921},
		{3.5049, 5.2098, -2.9158, -3.3468},
		{3.9489, 5.8933, -2.5359, -2.721},
	},
	trend.ConstantAndTrend: {
		{2.5261, 6.1654, -3.7956, -6.0285},
		{2.85, 5.272, -3.6622, -5.1695},
		{3.221, 5.255, -3.2685, -4.1501},
		{3.652, 5.9758, -2.7483, -3.2081},
		{4.0712, 6.6428, -2.3464, -2.546},
		{4.4735, 7.1757, -2.0681, -2.0894},
	},
}

var largeScaling = [4]float64{1, 1e-1, 1e-1, 1e-2}

var standardNormal = distuv.Normal{Mu: 0, Sigma: 1}

// mackinnonP returns the approximate p-value of a Dickey-Fuller type
// statistic for n integrated series (1 for a univariate unit-root test).
func mackinnonP(stat float64, tr trend.Trend, n int) float64 {
	i := n - 1
	if math.IsNaN(stat) {
		return math.NaN()
	}
	if stat > tauMax[tr][i] {
		return 1
	}
	if stat < tauMin[tr][i] {
		return 0
	}

	var poly float64
	if stat <= tauStar[tr][i] {
		c := tauSmallP[tr][i]
		for p := len(c) - 1; p >= 0; p-- {
			poly = poly*stat + c[p]*smallScaling[p]
		}
	} else {
		c := tauLargeP[tr][i]
		for p := len(c) - 1; p >= 0; p-- {
			poly = poly*stat + c[p]*largeScaling[p]
		}
	}
	return standardNormal.CDF(poly)
}

// MacKinnon (2010) critical-value response surfaces: for each level (1%, 5%,
// 10%) the coefficients of b0 + b1/T + b2/T² + b3/T³.
var tau2010 = map[trend.Trend]map[int][3][4]float64{
	trend.None: {
		1: {
			{-2.56574, -2.2358, -3.627, 0},
			{-1.94100, -0.2686, -3.365, 31.223},
			{-1.61682, 0.2656, -2.714, 25.364},
		},
	},
	trend.Constant: {
		1: {
			{-3.43035, -6.5393, -16.786, -79.433},
			{-2.86154, -2.8903, -4.234, -40.040},
			{-2.56677, -1.5384, -2.809, 0},
		},
		2: {
			{-3.89644, -10.9519, -33.527, 0},
			{-3.33613, -6.1101, -6.823, 0},
			{-3.04445, -4.2412, -2.720, 0},
		},
		3: {
			{-4.29374, -14.4354, -33.195, 47.433},
			{-3.74066, -8.5632, -10.852, 27.982},
			{-3.45218, -6.2143, -3.718, 0},
		},
	},
	trend.ConstantAndTrend: {
		1: {
			{-3.95877, -9.0531, -28.428, -134.155},
			{-3.41049, -4.3904, -9.036, -45.374},
			{-3.12705, -2.5856, -3.925, -22.380},
		},
		2: {
			{-4.32762, -15.4387, -35.679, 0},
			{-3.78057, -9.5106, -12.074, 0},
			{-3.49631, -7.0815, -7.538, 21.892},
		},
		3: {
			{-4.66305, -18.7688, -49.793, 104.244},
			{-4.11890, -11.8922, -19.031, 77.332},
			{-3.83511, -9.0723, -8.504, 35.403},
		},
	},
}

// Critical-value levels, in the order the tables store them.
var criticalLevels = [3]string{"1%", "5%", "10%"}

// mackinnonCrit returns the finite-sample critical values for n integrated
// series at nobs observations. ok is false when no surface exists for the
// combination.
func mackinnonCrit(tr trend.Trend, n int, nobs int) (map[string]float64, bool) {
	surfaces, ok := tau2010[tr][n]
	if !ok {
		return nil, false
	}
	inv := 1 / float64(nobs)
	out := make(map[string]float64, len(criticalLevels))
	for i, level := range criticalLevels {
		b := surfaces[i]
		out[level] = b[0] + inv*(b[1]+inv*(b[2]+inv*b[3]))
	}
	return out, true
}

// CriticalLevel formats a significance level as a critical-value key, for
// example 0.05 as "5%".
func CriticalLevel(alpha float64) string {
	return fmt.Sprintf("%g%%", alpha*100)
}
