package pairs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/shared/testutil"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

type fakeRecorder struct {
	mu       sync.Mutex
	stages   []string
	outcomes map[string]int
	runs     int
	lastErr  error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: make(map[string]int)}
}

func (r *fakeRecorder) StageCompleted(_ context.Context, stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *fakeRecorder) PairEvaluated(_ context.Context, _ string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *fakeRecorder) RunCompleted(_ context.Context, _ int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.lastErr = err
}

type IdentifierTestSuite struct {
	suite.Suite
	handler    *testutil.BufferedSlogHandler
	recorder   *fakeRecorder
	identifier *Identifier
}

func TestIdentifierTestSuite(t *testing.T) {
	suite.Run(t, new(IdentifierTestSuite))
}

func (s *IdentifierTestSuite) SetupTest() {
	var logger *slog.Logger
	logger, s.handler = testutil.NewTestLogger(s.T())
	s.recorder = newFakeRecorder()
	s.identifier = NewIdentifier(logger, WithRecorder(s.recorder))
}

// universe holds a cointegrated pair (Y, X) and an unrelated white-noise
// column.
func (s *IdentifierTestSuite) universe(seed int64, n int) *timeseries.Table {
	x, y := testutil.CointegratedPair(seed, n)
	noise := testutil.WhiteNoise(testutil.NewRand(seed+1000), n, 0, 1)
	return testutil.NewTable(s.T(), []string{"Y", "X", "NOISE"}, y, x, noise)
}

func findCandidate(r *Report, a, b string) *Candidate {
	for i := range r.Candidates {
		c := &r.Candidates[i]
		if (c.SecurityA == a && c.SecurityB == b) || (c.SecurityA == b && c.SecurityB == a) {
			return c
		}
	}
	return nil
}

func (s *IdentifierTestSuite) TestDetectsCointegratedPair() {
	for seed := int64(1); seed <= 5; seed++ {
		report, err := s.identifier.Identify(context.Background(), s.universe(seed, 250), Options{AllowStationaryLegs: true})
		s.Require().NoError(err, "seed %d", seed)

		c := findCandidate(report, "Y", "X")
		s.Require().NotNil(c, "seed %d", seed)
		s.Equal("Y", c.SecurityA)
		s.Equal("X", c.SecurityB)
		s.True(c.Cointegration.Cointegrated)
		s.Equal(stattest.EngleGrangerMethod, c.Cointegration.Method)
		s.InDelta(0.5, c.HedgeRatio, 0.05, "seed %d", seed)
		s.Positive(c.RankScore)
		s.Greater(c.Correlation, 0.9)
		if c.HalfLife != nil {
			s.Less(*c.HalfLife, 5.0, "iid spread reverts within a few rows")
		}
		s.NotNil(c.StationarityA)
		s.NotNil(c.StationarityB)
	}
}

func (s *IdentifierTestSuite) TestCandidatesAreRanked() {
	x, y := testutil.CointegratedPair(3, 250)
	x2, y2 := testutil.CointegratedPair(4, 250)
	table := testutil.NewTable(s.T(), []string{"Y", "X", "Y2", "X2"}, y, x, y2, x2)

	report, err := s.identifier.Identify(context.Background(), table, Options{AllowStationaryLegs: true, Workers: 3})
	s.Require().NoError(err)
	s.Require().NotEmpty(report.Candidates)

	for i, c := range report.Candidates {
		s.Equal(i+1, c.Rank)
		if i > 0 {
			s.LessOrEqual(c.RankScore, report.Candidates[i-1].RankScore)
		}
	}
	s.Equal(report.Tested, len(report.Candidates)+countReason(report, ReasonNotCointegrated)+countReason(report, ReasonTestFailed))
}

func countReason(r *Report, reason Reason) int {
	n := 0
	for _, rej := range r.Rejected {
		if rej.Reason == reason {
			n++
		}
	}
	return n
}

func (s *IdentifierTestSuite) TestEveryCointegrationMethod() {
	for _, method := range stattest.CointegrationMethods {
		report, err := s.identifier.Identify(context.Background(), s.universe(1, 250), Options{
			CointegrationMethod: method,
			AllowStationaryLegs: true,
		})
		s.Require().NoError(err, method)
		c := findCandidate(report, "Y", "X")
		s.Require().NotNil(c, method)
		s.Equal(method, c.Cointegration.Method)
		if method == stattest.JohansenMethod {
			s.Require().NotNil(c.Cointegration.Johansen)
			s.Positive(c.Cointegration.Johansen.CointegratingVectors)
		}
	}
}

func (s *IdentifierTestSuite) TestIndependentWalksRarelyPass() {
	found := 0
	for seed := int64(100); seed < 120; seed++ {
		a, b := testutil.IndependentWalks(seed, 250)
		table := testutil.NewTable(s.T(), []string{"A", "B"}, a, b)

		// Zero thresholds let every pair through the screen.
		report, err := s.identifier.Identify(context.Background(), table, Options{
			PlusThreshold:       ptr(0.0),
			AllowStationaryLegs: true,
		})
		s.Require().NoError(err)
		s.Len(report.Screen.Pairs, 1)
		found += len(report.Candidates)
	}
	s.LessOrEqual(found, 6)
}

func (s *IdentifierTestSuite) TestStationaryLegsRejectedByDefault() {
	rng := testutil.NewRand(7)
	a := testutil.WhiteNoise(rng, 250, 0, 1)
	b := make([]float64, len(a))
	for i := range a {
		b[i] = a[i] + 0.1*rng.NormFloat64()
	}
	table := testutil.NewTable(s.T(), []string{"A", "B"}, a, b)

	report, err := s.identifier.Identify(context.Background(), table, Options{})
	s.Require().NoError(err)
	s.Empty(report.Candidates)
	s.Zero(report.Tested)
	s.Require().Len(report.Rejected, 1)
	s.Equal(ReasonStationaryLeg, report.Rejected[0].Reason)
	s.Len(report.Stationarity, 2)

	report, err = s.identifier.Identify(context.Background(), table, Options{AllowStationaryLegs: true})
	s.Require().NoError(err)
	s.Equal(1, report.Tested)
}

func (s *IdentifierTestSuite) TestFailedPairIsDroppedAndLogged() {
	x, y := testutil.CointegratedPair(5, 20)
	table := testutil.NewTable(s.T(), []string{"Y", "X"}, y, x)

	report, err := s.identifier.Identify(context.Background(), table, Options{
		StationarityMethod:  stattest.PPMethod,
		CointegrationMethod: stattest.JohansenMethod,
		LagDiffs:            ptr(8),
		AllowStationaryLegs: true,
	})
	s.Require().NoError(err)
	s.Empty(report.Candidates)
	s.Equal(1, report.Tested)
	s.Require().Len(report.Rejected, 1)
	s.Equal(ReasonTestFailed, report.Rejected[0].Reason)
	s.NotEmpty(report.Rejected[0].Error)

	testutil.AssertLogContains(s.T(), s.handler, slog.LevelWarn, "dropping pair after test failure")
	s.Equal(1, s.recorder.outcomes[string(ReasonTestFailed)])
}

func (s *IdentifierTestSuite) TestNothingSurvivesScreen() {
	rng := testutil.NewRand(11)
	table := testutil.NewTable(s.T(), []string{"A", "B", "C"},
		testutil.WhiteNoise(rng, 200, 0, 1),
		testutil.WhiteNoise(rng, 200, 0, 1),
		testutil.WhiteNoise(rng, 200, 0, 1),
	)

	report, err := s.identifier.Identify(context.Background(), table, Options{PlusThreshold: ptr(0.9)})
	s.Require().NoError(err)
	s.NotNil(report.Candidates)
	s.Empty(report.Candidates)
	s.Empty(report.Screen.Pairs)
	s.Zero(report.Tested)
}

func (s *IdentifierTestSuite) TestSecuritiesAndDateBounds() {
	table := s.universe(2, 120)
	dates := table.Dates()
	start, end := dates[10], dates[99]

	report, err := s.identifier.Identify(context.Background(), table, Options{
		Securities:          []string{"X", "Y"},
		Start:               &timeseries.Date{Time: start},
		End:                 &timeseries.Date{Time: end},
		AllowStationaryLegs: true,
	})
	s.Require().NoError(err)
	s.Equal(start.Format(timeseries.DateLayout), report.Start)
	s.Equal(end.Format(timeseries.DateLayout), report.End)
	s.Equal([]string{"X", "Y"}, report.Screen.Matrix.Securities)
	for _, st := range report.Stationarity {
		s.Equal(90, st.NObs+st.LagsUsed+1, st.Security)
	}
}

func (s *IdentifierTestSuite) TestMissingSecurities() {
	_, err := s.identifier.Identify(context.Background(), s.universe(1, 50), Options{
		Securities: []string{"X", "MSFT", "GOOG"},
	})
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrValidation)
	s.Contains(err.Error(), "['MSFT', 'GOOG']")
}

func (s *IdentifierTestSuite) TestUnknownMethodFailsBeforeComputation() {
	_, err := s.identifier.Identify(context.Background(), s.universe(1, 50), Options{CointegrationMethod: "granger"})
	s.Require().Error(err)
	s.ErrorIs(err, apperrors.ErrInvalidParameter)
	s.Empty(s.recorder.stages)
	s.Equal(1, s.recorder.runs)
	s.Equal(err, s.recorder.lastErr)
}

func (s *IdentifierTestSuite) TestNilTable() {
	_, err := s.identifier.Identify(context.Background(), nil, Options{})
	s.ErrorIs(err, apperrors.ErrValue)
}

func (s *IdentifierTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.identifier.Identify(ctx, s.universe(1, 100), Options{})
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
}

func (s *IdentifierTestSuite) TestStagesAndLogs() {
	report, err := s.identifier.Identify(context.Background(), s.universe(1, 250), Options{AllowStationaryLegs: true})
	s.Require().NoError(err)

	s.Equal([]string{StageScreen, StageStationarity, StageCointegration}, s.recorder.stages)
	s.Equal(len(report.Candidates), s.recorder.outcomes["candidate"])

	testutil.AssertLogContains(s.T(), s.handler, slog.LevelInfo, "starting pair identification")
	testutil.AssertLogContains(s.T(), s.handler, slog.LevelInfo, "pair identification complete")
	testutil.AssertLogAttr(s.T(), s.handler, "component", "pair_identifier")
	testutil.AssertLogAttr(s.T(), s.handler, "run_id", report.RunID)
	testutil.AssertNoErrors(s.T(), s.handler)
}

func (s *IdentifierTestSuite) TestReportSerializes() {
	report, err := s.identifier.Identify(context.Background(), s.universe(1, 250), Options{AllowStationaryLegs: true})
	s.Require().NoError(err)

	data, err := json.Marshal(report)
	s.Require().NoError(err)

	var decoded map[string]any
	s.Require().NoError(json.Unmarshal(data, &decoded))
	s.Equal(report.RunID, decoded["run_id"])
	s.Contains(decoded, "candidates")
	s.Contains(decoded, "screen")
}

func TestNewIdentifier_NilLogger(t *testing.T) {
	id := NewIdentifier(nil)
	require.NotNil(t, id)
	assert.NotNil(t, id.logger)
	assert.NotNil(t, id.tracer)
	assert.IsType(t, noopRecorder{}, id.recorder)
}
