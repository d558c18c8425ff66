package stattest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// olsFit holds the pieces of an ordinary least squares fit the tests need.
type olsFit struct {
	params []float64
	bse    []float64
	resid  []float64
	ssr    float64
	tss    float64
	nobs   int
	k      int
}

// fitOLS regresses y on the columns of x. Columns are scaled to unit norm
// before the normal equations are factorized; estimates are reported on the
// original scale. hasConst selects the centered total sum of squares.
func fitOLS(y []float64, x *mat.Dense, hasConst bool) (*olsFit, error) {
	n, k := x.Dims()
	if n != len(y) {
		return nil, apperrors.NewValueError(fmt.Sprintf("regression has %d observations and %d rows", len(y), n))
	}
	if n <= k {
		return nil, apperrors.NewValueError(
			fmt.Sprintf("sample size %d is too short for a regression with %d regressors", n, k))
	}

	scale := make([]float64, k)
	xs := mat.DenseCopyOf(x)
	for j := 0; j < k; j++ {
		norm := 0.0
		for i := 0; i < n; i++ {
			norm += xs.At(i, j) * xs.At(i, j)
		}
		norm = math.Sqrt(norm)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, apperrors.NewNumericalError(fmt.Sprintf("regressor %d is degenerate", j), nil)
		}
		scale[j] = norm
		for i := 0; i < n; i++ {
			xs.Set(i, j, xs.At(i, j)/norm)
		}
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, xs.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, apperrors.NewNumericalError("regressors are collinear", nil)
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var xty, beta mat.VecDense
	xty.MulVec(xs.T(), yv)
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, apperrors.NewNumericalError("solve normal equations", err)
	}

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, apperrors.NewNumericalError("invert normal equations", err)
	}

	fit := &olsFit{
		params: make([]float64, k),
		bse:    make([]float64, k),
		resid:  make([]float64, n),
		nobs:   n,
		k:      k,
	}

	var fitted mat.VecDense
	fitted.MulVec(xs, &beta)
	mean := 0.0
	for i := 0; i < n; i++ {
		fit.resid[i] = y[i] - fitted.AtVec(i)
		fit.ssr += fit.resid[i] * fit.resid[i]
		mean += y[i]
	}
	mean /= float64(n)
	for i := 0; i < n; i++ {
		if hasConst {
			fit.tss += (y[i] - mean) * (y[i] - mean)
		} else {
			fit.tss += y[i] * y[i]
		}
	}

	sigma2 := fit.ssr / float64(n-k)
	for j := 0; j < k; j++ {
		fit.params[j] = beta.AtVec(j) / scale[j]
		fit.bse[j] = math.Sqrt(sigma2*cov.At(j, j)) / scale[j]
	}
	return fit, nil
}

func (f *olsFit) tvalue(j int) float64 {
	return f.params[j] / f.bse[j]
}

// llf is the Gaussian log-likelihood at the estimated error variance.
func (f *olsFit) llf() float64 {
	n := float64(f.nobs)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(f.ssr/n) + 1)
}

func (f *olsFit) aic() float64 {
	return -2*f.llf() + 2*float64(f.k)
}

func (f *olsFit) bic() float64 {
	return -2*f.llf() + math.Log(float64(f.nobs))*float64(f.k)
}

func (f *olsFit) rsquared() float64 {
	if f.tss == 0 {
		return 1
	}
	return 1 - f.ssr/f.tss
}

// designMatrix lays out equal-length columns as an n×len(cols) matrix.
func designMatrix(cols ...[]float64) *mat.Dense {
	n := len(cols[0])
	x := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		for i, v := range col {
			x.Set(i, j, v)
		}
	}
	return x
}

// deterministicColumns returns the regressors a trend contributes over n
// observations: a constant and the time index 1..n.
func deterministicColumns(tr trend.Trend, n int) [][]float64 {
	var cols [][]float64
	if tr >= trend.Constant {
		ones := make([]float64, n)
		for i := range ones {
			ones[i] = 1
		}
		cols = append(cols, ones)
	}
	if tr >= trend.ConstantAndTrend {
		t := make([]float64, n)
		for i := range t {
			t[i] = float64(i + 1)
		}
		cols = append(cols, t)
	}
	return cols
}

// residualize returns y minus its least-squares projection on x, column by
// column. An x with no columns leaves y unchanged.
func residualize(y, x *mat.Dense) (*mat.Dense, error) {
	if x == nil {
		return mat.DenseCopyOf(y), nil
	}
	_, k := x.Dims()
	if k == 0 {
		return mat.DenseCopyOf(y), nil
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, apperrors.NewNumericalError("projection regressors are collinear", nil)
	}

	var xty, coef mat.Dense
	xty.Mul(x.T(), y)
	if err := chol.SolveTo(&coef, &xty); err != nil {
		return nil, apperrors.NewNumericalError("solve projection", err)
	}

	var fitted, out mat.Dense
	fitted.Mul(x, &coef)
	out.Sub(y, &fitted)
	return &out, nil
}

// detrendMatrix removes a polynomial time trend of the given order from each
// column; order -1 leaves the data untouched, 0 demeans.
func detrendMatrix(y *mat.Dense, order int) (*mat.Dense, error) {
	if order < 0 {
		return mat.DenseCopyOf(y), nil
	}
	n, _ := y.Dims()
	basis := mat.NewDense(n, order+1, nil)
	for i := 0; i < n; i++ {
		s := -1.0
		if n > 1 {
			s = -1 + 2*float64(i)/float64(n-1)
		}
		v := 1.0
		for p := order; p >= 0; p-- {
			basis.Set(i, p, v)
			v *= s
		}
	}
	return residualize(y, basis)
}

// isConstant reports whether every value in x is identical.
func isConstant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
