package pairs

import (
	"math"
	"sort"
	"time"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// Reason explains why a screened pair produced no candidate.
type Reason string

const (
	ReasonStationarityFailed Reason = "stationarity_failed"
	ReasonStationaryLeg      Reason = "stationary_leg"
	ReasonNotCointegrated    Reason = "not_cointegrated"
	ReasonTestFailed         Reason = "test_failed"
)

// Candidate is a cointegrated pair. SecurityA is the dependent leg of the
// hedge regression.
type Candidate struct {
	Rank          int                           `json:"rank"`
	SecurityA     string                        `json:"security_a"`
	SecurityB     string                        `json:"security_b"`
	Correlation   float64                       `json:"correlation"`
	StationarityA *stattest.StationarityResult  `json:"stationarity_a"`
	StationarityB *stattest.StationarityResult  `json:"stationarity_b"`
	Cointegration *stattest.CointegrationResult `json:"cointegration"`
	// HedgeRatio is the OLS slope of A on B.
	HedgeRatio float64 `json:"hedge_ratio"`
	// HalfLife of the spread A - HedgeRatio·B, in rows. Nil when the spread
	// does not mean-revert.
	HalfLife *float64 `json:"half_life"`
	// RankScore is the test statistic over its critical value at the run's
	// significance level. Larger is stronger.
	RankScore float64 `json:"rank_score"`
}

// Rejection records a screened pair that was dropped.
type Rejection struct {
	SecurityA   string  `json:"security_a"`
	SecurityB   string  `json:"security_b"`
	Correlation float64 `json:"correlation"`
	Reason      Reason  `json:"reason"`
	Error       string  `json:"error,omitempty"`
}

// Report is the outcome of one Identify run.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	// Start and End are the first and last dates used.
	Start   string  `json:"start"`
	End     string  `json:"end"`
	Options Options `json:"options"`

	Screen *correlation.Result `json:"screen"`
	// Stationarity holds one result per screened security that was tested
	// successfully.
	Stationarity []*stattest.StationarityResult `json:"stationarity"`
	Candidates   []Candidate                    `json:"candidates"`
	// Tested counts the pairs that reached the cointegration test.
	Tested   int         `json:"tested"`
	Rejected []Rejection `json:"rejected"`
}

// Top returns at most n candidates, best first.
func (r *Report) Top(n int) []Candidate {
	if n < 0 || n >= len(r.Candidates) {
		return r.Candidates
	}
	return r.Candidates[:n]
}

func newCandidate(t *timeseries.Table, pair correlation.CorrelatedPair, legA, legB *stattest.StationarityResult, res *stattest.CointegrationResult, alpha float64) (*Candidate, error) {
	a, err := t.Column(pair.SecurityA)
	if err != nil {
		return nil, err
	}
	b, err := t.Column(pair.SecurityB)
	if err != nil {
		return nil, err
	}

	var hedge float64
	if res.Regression != nil {
		hedge = res.Regression.Slope
	} else if hedge, err = stattest.HedgeRatio(a, b); err != nil {
		return nil, err
	}

	c := &Candidate{
		SecurityA:     pair.SecurityA,
		SecurityB:     pair.SecurityB,
		Correlation:   pair.Correlation,
		StationarityA: legA,
		StationarityB: legB,
		Cointegration: res,
		HedgeRatio:    hedge,
		RankScore:     rankScore(res, alpha),
	}
	if hl, err := stattest.HalfLife(stattest.Spread(a, b, hedge)); err == nil && !math.IsInf(hl, 0) {
		c.HalfLife = &hl
	}
	return c, nil
}

// rankScore divides the statistic by its critical value at alpha, falling
// back to the 5% column and then to 1 - p.
func rankScore(res *stattest.CointegrationResult, alpha float64) float64 {
	if math.IsInf(res.Statistic, 0) {
		return math.MaxFloat64
	}
	crit, ok := res.CriticalValues[stattest.CriticalLevel(alpha)]
	if !ok {
		crit, ok = res.CriticalValues["5%"]
	}
	if ok && crit != 0 {
		return res.Statistic / crit
	}
	if res.PValue != nil {
		return 1 - *res.PValue
	}
	return 0
}

// rank orders candidates by score, then by absolute correlation, then by
// name, and assigns 1-based ranks.
func rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.RankScore != cj.RankScore {
			return ci.RankScore > cj.RankScore
		}
		if ai, aj := math.Abs(ci.Correlation), math.Abs(cj.Correlation); ai != aj {
			return ai > aj
		}
		if ci.SecurityA != cj.SecurityA {
			return ci.SecurityA < cj.SecurityA
		}
		return ci.SecurityB < cj.SecurityB
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}
