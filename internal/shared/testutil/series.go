package testutil

import (
	"math/rand"
	"testing"
	"time"

	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// NewRand returns a deterministic generator for seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// WhiteNoise draws n independent N(mean, sd²) values.
func WhiteNoise(rng *rand.Rand, n int, mean, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + sd*rng.NormFloat64()
	}
	return out
}

// RandomWalk returns start + cumulative sum of N(drift, sd²) steps.
func RandomWalk(rng *rand.Rand, n int, start, drift, sd float64) []float64 {
	out := make([]float64, n)
	level := start
	for i := range out {
		level += drift + sd*rng.NormFloat64()
		out[i] = level
	}
	return out
}

// AR1 simulates x_t = mean + phi (x_{t-1} - mean) + e_t.
func AR1(rng *rand.Rand, n int, mean, phi, sd float64) []float64 {
	out := make([]float64, n)
	prev := mean
	for i := range out {
		prev = mean + phi*(prev-mean) + sd*rng.NormFloat64()
		out[i] = prev
	}
	return out
}

// CointegratedPair returns a drifting random walk X and Y = 0.5X + noise.
func CointegratedPair(seed int64, n int) (x, y []float64) {
	rng := NewRand(seed)
	x = RandomWalk(rng, n, 100, 0.5, 1)
	y = make([]float64, n)
	for i := range x {
		y[i] = 0.5*x[i] + 0.5*rng.NormFloat64()
	}
	return x, y
}

// IndependentWalks returns two random walks driven by unrelated shocks.
func IndependentWalks(seed int64, n int) (a, b []float64) {
	rng := NewRand(seed)
	a = RandomWalk(rng, n, 100, 0, 1)
	b = RandomWalk(rng, n, 100, 0, 1)
	return a, b
}

// BusinessDays returns n consecutive weekdays starting at start.
func BusinessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := start
	for len(out) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// DefaultStart is the first calendar day of generated tables.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewTable builds a table over business days from DefaultStart, one column
// per values slice. It fails the test on a schema error.
func NewTable(tb testing.TB, names []string, values ...[]float64) *timeseries.Table {
	tb.Helper()
	if len(names) != len(values) {
		tb.Fatalf("NewTable: %d names for %d columns", len(names), len(values))
	}
	n := 0
	if len(values) > 0 {
		n = len(values[0])
	}
	cols := make(map[string][]float64, len(names))
	for i, name := range names {
		cols[name] = values[i]
	}
	table, err := timeseries.New(BusinessDays(DefaultStart, n), names, cols)
	if err != nil {
		tb.Fatalf("NewTable: %v", err)
	}
	return table
}
