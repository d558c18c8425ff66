package stattest

import (
	"encoding/json"
	"math"

	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// DefaultSignificanceLevel applies when an options struct leaves the level
// at zero.
const DefaultSignificanceLevel = 0.05

// StationarityResult is the normalized outcome of a unit-root or
// stationarity test on one security.
type StationarityResult struct {
	Method            StationarityMethod `json:"method"`
	Security          string             `json:"security"`
	Statistic         float64            `json:"statistic"`
	PValue            float64            `json:"p_value"`
	CriticalValues    map[string]float64 `json:"critical_values"`
	Trend             trend.Trend        `json:"trend"`
	Stationary        bool               `json:"stationary"`
	LagsUsed          int                `json:"lags_used"`
	NObs              int                `json:"nobs"`
	SignificanceLevel float64            `json:"significance_level"`
	// ICBest is the information criterion of the selected lag when the lag
	// was chosen automatically.
	ICBest *float64 `json:"ic_best,omitempty"`
}

// CointegratingRegression describes the static regression of the first
// security on the second.
type CointegratingRegression struct {
	Dependent   string  `json:"dependent"`
	Independent string  `json:"independent"`
	Intercept   float64 `json:"intercept"`
	Slope       float64 `json:"slope"`
	TrendSlope  float64 `json:"trend_slope"`
	RSquared    float64 `json:"r_squared"`
}

// JohansenDetail carries the full Johansen output.
type JohansenDetail struct {
	Statistic            JohansenStatistic `json:"statistic"`
	Statistics           []float64         `json:"statistics"`
	CriticalValues       [][3]float64      `json:"critical_values"`
	TraceStatistics      []float64         `json:"trace_statistics"`
	TraceCritical        [][3]float64      `json:"trace_critical_values"`
	MaxEigenStatistics   []float64         `json:"max_eigen_statistics"`
	MaxEigenCritical     [][3]float64      `json:"max_eigen_critical_values"`
	Eigenvalues          []float64         `json:"eigenvalues"`
	Eigenvectors         [][]float64       `json:"eigenvectors"`
	CointegratingVectors int               `json:"cointegrating_vectors"`
	LagDiffs             int               `json:"lag_diffs"`
}

// CointegrationResult is the normalized outcome of a cointegration test.
type CointegrationResult struct {
	Method     CointegrationMethod `json:"method"`
	Securities []string            `json:"securities"`
	Statistic  float64             `json:"statistic"`
	// PValue is nil for tests that only report critical values.
	PValue            *float64                 `json:"p_value"`
	CriticalValues    map[string]float64       `json:"critical_values,omitempty"`
	Trend             trend.Trend              `json:"trend"`
	Cointegrated      bool                     `json:"cointegrated"`
	SignificanceLevel float64                  `json:"significance_level"`
	LagsUsed          int                      `json:"lags_used"`
	NObs              int                      `json:"nobs"`
	Regression        *CointegratingRegression `json:"regression,omitempty"`
	Johansen          *JohansenDetail          `json:"johansen,omitempty"`
}

// MarshalJSON encodes a non-finite statistic, which a perfectly collinear
// pair produces, as null.
func (r CointegrationResult) MarshalJSON() ([]byte, error) {
	type plain CointegrationResult
	return json.Marshal(struct {
		plain
		Statistic *float64 `json:"statistic"`
	}{
		plain:     plain(r),
		Statistic: finiteOrNil(r.Statistic),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
