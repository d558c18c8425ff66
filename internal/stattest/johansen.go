package stattest

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// JohansenStatistic selects which Johansen statistic drives the decision.
type JohansenStatistic string

const (
	StatisticTrace    JohansenStatistic = "trace"
	StatisticMaxEigen JohansenStatistic = "max-eigenvalue"
)

// DefaultLagDiffs is the number of lagged differences in the VECM when
// JohansenOptions.LagDiffs is nil.
const DefaultLagDiffs = 1

// JohansenOptions configures the Johansen test.
type JohansenOptions struct {
	// Trend maps to the deterministic order: "no deterministic term" -1,
	// "constant" 0, "constant and time trend" 1.
	Trend     string
	Statistic JohansenStatistic
	LagDiffs  *int
	// SignificanceLevel must be 0.10, 0.05 or 0.01.
	SignificanceLevel float64
}

// Johansen runs the Johansen reduced-rank test on two or more securities.
// The number of cointegrating vectors is the count of hypotheses r = 0, 1, ...
// rejected in sequence before the first acceptance. The result carries no
// p-value; Statistic and CriticalValues refer to the r = 0 hypothesis.
func Johansen(t *timeseries.Table, securities []string, opts JohansenOptions) (*CointegrationResult, error) {
	tr, err := resolveTrend(opts.Trend, trend.All)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(t, securities...); err != nil {
		return nil, err
	}

	statistic := opts.Statistic
	if statistic == "" {
		statistic = StatisticTrace
	}
	if statistic != StatisticTrace && statistic != StatisticMaxEigen {
		return nil, apperrors.NewInvalidParameterError("statistic", statistic,
			[]string{string(StatisticTrace), string(StatisticMaxEigen)})
	}
	alpha, err := resolveAlpha(opts.SignificanceLevel)
	if err != nil {
		return nil, err
	}
	column, ok := johansenLevels[alpha]
	if !ok {
		return nil, apperrors.NewInvalidParameterError("significance level", alpha, []string{"0.1", "0.05", "0.01"})
	}
	if err := checkNonNegative("lag differences", opts.LagDiffs); err != nil {
		return nil, err
	}
	lagDiffs := DefaultLagDiffs
	if opts.LagDiffs != nil {
		lagDiffs = *opts.LagDiffs
	}

	if len(securities) < 2 || len(securities) > maxJohansenVariables {
		return nil, apperrors.NewValueError(fmt.Sprintf(
			"Johansen test requires between 2 and %d securities, got %d", maxJohansenVariables, len(securities)))
	}
	seen := make(map[string]struct{}, len(securities))
	for _, s := range securities {
		if _, dup := seen[s]; dup {
			return nil, apperrors.NewValueError(fmt.Sprintf("security '%s' listed twice", s))
		}
		seen[s] = struct{}{}
	}
	series, err := usableSeries(t, securities...)
	if err != nil {
		return nil, err
	}
	neqs := len(securities)
	if eff := len(series[0]) - 1 - lagDiffs; eff <= neqs*(lagDiffs+1)+2 {
		return nil, apperrors.NewValueError(fmt.Sprintf(
			"%d observations are too few for %d securities with %d lag differences", len(series[0]), neqs, lagDiffs))
	}

	detail, nobs, err := johansen(series, detOrder(tr), lagDiffs)
	if err != nil {
		return nil, fmt.Errorf("Johansen on %v: %w", securities, err)
	}

	detail.Statistic = statistic
	detail.Statistics = detail.TraceStatistics
	detail.CriticalValues = detail.TraceCritical
	if statistic == StatisticMaxEigen {
		detail.Statistics = detail.MaxEigenStatistics
		detail.CriticalValues = detail.MaxEigenCritical
	}
	for i := range detail.Statistics {
		if detail.Statistics[i] <= detail.CriticalValues[i][column] {
			break
		}
		detail.CointegratingVectors++
	}

	first := detail.CriticalValues[0]
	return &CointegrationResult{
		Method:            JohansenMethod,
		Securities:        append([]string(nil), securities...),
		Statistic:         detail.Statistics[0],
		CriticalValues:    map[string]float64{"10%": first[0], "5%": first[1], "1%": first[2]},
		Trend:             tr,
		Cointegrated:      detail.CointegratingVectors > 0,
		SignificanceLevel: alpha,
		LagsUsed:          lagDiffs,
		NObs:              nobs,
		Johansen:          detail,
	}, nil
}

func detOrder(tr trend.Trend) int {
	switch tr {
	case trend.None:
		return -1
	case trend.ConstantAndTrend:
		return 1
	default:
		return 0
	}
}

// johansen computes eigenvalues, eigenvectors and both statistic sequences
// for the VECM with k lagged differences.
func johansen(series [][]float64, order, k int) (*JohansenDetail, int, error) {
	neqs := len(series)
	n := len(series[0])
	f := 0
	if order < 0 {
		f = -1
	}

	levels := mat.NewDense(n, neqs, nil)
	for j, s := range series {
		for i, v := range s {
			levels.Set(i, j, v)
		}
	}
	x, err := detrendMatrix(levels, order)
	if err != nil {
		return nil, 0, err
	}

	tEff := n - 1 - k
	dx := mat.NewDense(n-1, neqs, nil)
	for i := 0; i < n-1; i++ {
		for j := 0; j < neqs; j++ {
			dx.Set(i, j, x.At(i+1, j)-x.At(i, j))
		}
	}

	var z *mat.Dense
	if k > 0 {
		z = mat.NewDense(tEff, neqs*k, nil)
		for r := 0; r < tEff; r++ {
			for l := 1; l <= k; l++ {
				for j := 0; j < neqs; j++ {
					z.Set(r, (l-1)*neqs+j, dx.At(k+r-l, j))
				}
			}
		}
		if z, err = detrendMatrix(z, f); err != nil {
			return nil, 0, err
		}
	}

	dxk, err := detrendMatrix(mat.DenseCopyOf(dx.Slice(k, n-1, 0, neqs)), f)
	if err != nil {
		return nil, 0, err
	}
	r0t, err := residualize(dxk, z)
	if err != nil {
		return nil, 0, err
	}

	lx, err := detrendMatrix(mat.DenseCopyOf(x.Slice(k, n-1, 0, neqs)), f)
	if err != nil {
		return nil, 0, err
	}
	rkt, err := residualize(lx, z)
	if err != nil {
		return nil, 0, err
	}

	skk := moment(rkt, rkt, tEff)
	sk0 := moment(rkt, r0t, tEff)
	s00 := moment(r0t, r0t, tEff)

	var chol00 mat.Cholesky
	if ok := chol00.Factorize(symmetric(s00)); !ok {
		return nil, 0, apperrors.NewNumericalError("residual covariance of differences is singular", nil)
	}
	var s0k mat.Dense
	if err := chol00.SolveTo(&s0k, sk0.T()); err != nil {
		return nil, 0, apperrors.NewNumericalError("solve residual covariance", err)
	}
	var sig mat.Dense
	sig.Mul(sk0, &s0k)

	var cholkk mat.Cholesky
	if ok := cholkk.Factorize(symmetric(skk)); !ok {
		return nil, 0, apperrors.NewNumericalError("residual covariance of levels is singular", nil)
	}
	var lower, lowerInv mat.TriDense
	cholkk.LTo(&lower)
	if err := lowerInv.InverseTri(&lower); err != nil {
		return nil, 0, apperrors.NewNumericalError("invert Cholesky factor", err)
	}

	var half, c mat.Dense
	half.Mul(&lowerInv, &sig)
	c.Mul(&half, lowerInv.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(symmetric(&c), true); !ok {
		return nil, 0, apperrors.NewNumericalError("eigen decomposition did not converge", nil)
	}
	values := eig.Values(nil)
	var w, vectors mat.Dense
	eig.VectorsTo(&w)
	vectors.Mul(lowerInv.T(), &w)

	rank := make([]int, neqs)
	for i := range rank {
		rank[i] = i
	}
	sort.SliceStable(rank, func(a, b int) bool { return values[rank[a]] > values[rank[b]] })

	detail := &JohansenDetail{
		Eigenvalues:        make([]float64, neqs),
		Eigenvectors:       make([][]float64, neqs),
		TraceStatistics:    make([]float64, neqs),
		MaxEigenStatistics: make([]float64, neqs),
		TraceCritical:      make([][3]float64, neqs),
		MaxEigenCritical:   make([][3]float64, neqs),
		LagDiffs:           k,
	}
	for i, src := range rank {
		if values[src] >= 1 {
			return nil, 0, apperrors.NewNumericalError(
				fmt.Sprintf("eigenvalue %g is not below one", values[src]), nil)
		}
		detail.Eigenvalues[i] = values[src]
	}
	for r := 0; r < neqs; r++ {
		detail.Eigenvectors[r] = make([]float64, neqs)
		for i, src := range rank {
			detail.Eigenvectors[r][i] = vectors.At(r, src)
		}
	}
	normalizeSign(detail.Eigenvectors)

	for i := 0; i < neqs; i++ {
		trace := 0.0
		for j := i; j < neqs; j++ {
			trace += math.Log(1 - detail.Eigenvalues[j])
		}
		detail.TraceStatistics[i] = -float64(tEff) * trace
		detail.MaxEigenStatistics[i] = -float64(tEff) * math.Log(1-detail.Eigenvalues[i])
		detail.TraceCritical[i] = johansenTraceCritical[order+1][neqs-i-1]
		detail.MaxEigenCritical[i] = johansenMaxEigenCritical[order+1][neqs-i-1]
	}
	return detail, tEff, nil
}

// moment returns a'b / n.
func moment(a, b *mat.Dense, n int) *mat.Dense {
	var out mat.Dense
	out.Mul(a.T(), b)
	out.Scale(1/float64(n), &out)
	return &out
}

// symmetric copies the upper triangle of a square matrix after averaging it
// with its transpose.
func symmetric(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// normalizeSign flips each eigenvector, a column of m, so that its first
// non-zero element is positive.
func normalizeSign(m [][]float64) {
	if len(m) == 0 {
		return
	}
	for col := range m[0] {
		for _, row := range m {
			if row[col] == 0 {
				continue
			}
			if row[col] < 0 {
				for _, r := range m {
					r[col] = -r[col]
				}
			}
			break
		}
	}
}
