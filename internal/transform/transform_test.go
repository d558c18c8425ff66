package transform

import (
	"math"
	"testing"
	"time"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleData mirrors ten calendar days of two linearly rising prices.
func sampleData(t *testing.T) *timeseries.Table {
	t.Helper()
	dates := make([]time.Time, 10)
	aapl := make([]float64, 10)
	msft := make([]float64, 10)
	for i := range dates {
		dates[i] = time.Date(2023, 1, i+1, 0, 0, 0, 0, time.UTC)
		aapl[i] = 150 + float64(i)
		msft[i] = 200 + 2*float64(i)
	}
	table, err := timeseries.New(dates, []string{"AAPL", "MSFT"},
		map[string][]float64{"AAPL": aapl, "MSFT": msft})
	require.NoError(t, err)
	return table
}

func TestComputeReturns(t *testing.T) {
	data := sampleData(t)

	result, err := ComputeReturns(data, []string{"AAPL", "MSFT"}, Daily)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "r_AAPL_d", "r_MSFT_d"}, result.Columns())

	r, err := result.Column("r_AAPL_d")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r[0])
	assert.InDelta(t, 151.0/150-1, r[1], 1e-12)

	assert.False(t, data.Has("r_AAPL_d"), "input table must not change")
}

func TestComputeReturns_PeriodsAndKinds(t *testing.T) {
	data := sampleData(t)

	weekly, err := ComputeReturns(data, []string{"AAPL"}, Weekly, WithKind(Percentage))
	require.NoError(t, err)
	r, _ := weekly.Column("r_AAPL_w")
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, r[:5])
	assert.InDelta(t, (155.0/150-1)*100, r[5], 1e-9)

	logs, err := ComputeReturns(data, []string{"MSFT"}, Daily, WithKind(Log))
	require.NoError(t, err)
	r, _ = logs.Column("r_MSFT_d")
	assert.InDelta(t, math.Log(202.0/200), r[1], 1e-12)

	annual, err := ComputeReturns(data, []string{"AAPL"}, Annual)
	require.NoError(t, err)
	r, _ = annual.Column("r_AAPL_y")
	for _, v := range r {
		assert.Equal(t, 0.0, v)
	}

	_, err = ComputeReturns(data, []string{"AAPL"}, "fortnightly")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameter)

	_, err = ComputeReturns(data, []string{"AAPL"}, Daily, WithKind("arithmetic"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameter)
}

func TestComputeReturns_MissingSecurity(t *testing.T) {
	_, err := ComputeReturns(sampleData(t), []string{"AAPL", "GOOG"}, Daily)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "Securities not found in data: ['GOOG']")
}

func TestNilTable(t *testing.T) {
	_, err := ComputeReturns(nil, []string{"AAPL"}, Daily)
	assert.ErrorIs(t, err, apperrors.ErrValue)

	_, err = ReturnLogs(nil, []string{"AAPL"}, false)
	assert.ErrorIs(t, err, apperrors.ErrValue)

	_, err = ReturnExps(nil, []string{"AAPL"}, true)
	assert.ErrorIs(t, err, apperrors.ErrValue)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input  string
		period Period
		suffix string
		rows   int
	}{
		{"daily", Daily, "d", 1},
		{"w", Weekly, "w", 5},
		{"monthly", Monthly, "m", 21},
		{"q", Quarterly, "q", 63},
		{"annual", Annual, "y", 252},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePeriod(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.period, p)
			assert.Equal(t, tt.suffix, p.Suffix())
			assert.Equal(t, tt.rows, p.Rows())
		})
	}

	_, err := ParsePeriod("hourly")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParameter)
}

func TestReturnLogs(t *testing.T) {
	data := sampleData(t)

	only, err := ReturnLogs(data, []string{"AAPL"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"log_AAPL"}, only.Columns())

	appended, err := ReturnLogs(data, []string{"AAPL"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "log_AAPL"}, appended.Columns())
	logs, _ := appended.Column("log_AAPL")
	assert.InDelta(t, math.Log(150), logs[0], 1e-12)

	negative, err := data.With("NEG", []float64{1, 2, 3, -4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)
	_, err = ReturnLogs(negative, []string{"NEG"}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValue)
	assert.Contains(t, err.Error(), "2023-01-04")

	_, err = ReturnLogs(data, []string{"GOOG"}, true)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestReturnExps(t *testing.T) {
	data := sampleData(t)

	logData, err := ReturnLogs(data, []string{"AAPL"}, true)
	require.NoError(t, err)

	result, err := ReturnExps(logData, []string{"log_AAPL"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"log_AAPL"}, result.Columns())

	restored, _ := result.Column("log_AAPL")
	original, _ := data.Column("AAPL")
	assert.InDeltaSlice(t, original, restored, 1e-9)

	appended, err := ReturnExps(logData, []string{"log_AAPL"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"log_AAPL", "exp_log_AAPL"}, appended.Columns())
}

func TestLogExpRoundTrip(t *testing.T) {
	data := sampleData(t)

	logs, err := ReturnLogs(data, []string{"AAPL", "MSFT"}, false)
	require.NoError(t, err)
	back, err := ReturnExps(logs, []string{"log_AAPL", "log_MSFT"}, false)
	require.NoError(t, err)

	for _, security := range []string{"AAPL", "MSFT"} {
		want, _ := data.Column(security)
		got, err := back.Column("exp_log_" + security)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-9, security)
	}
}

func BenchmarkComputeReturns(b *testing.B) {
	n := 2520
	dates := make([]time.Time, n)
	prices := make([]float64, n)
	for i := range dates {
		dates[i] = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		prices[i] = 100 + math.Sin(float64(i)/50)*10
	}
	table, err := timeseries.New(dates, []string{"P"}, map[string][]float64{"P": prices})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ComputeReturns(table, []string{"P"}, Daily, WithKind(Log)); err != nil {
			b.Fatal(err)
		}
	}
}
