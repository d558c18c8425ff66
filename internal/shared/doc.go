// Package shared holds helpers used across the pipeline packages that belong
// to no single stage.
//
// The testutil subpackage provides:
//
//   - seeded series generators (random walks, cointegrated pairs, white noise)
//   - table builders over a business-day calendar
//   - a buffering slog handler for asserting on pipeline logs
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    x, y := testutil.CointegratedPair(42, 250)
//	    table := testutil.NewTable(t, []string{"X", "Y"}, x, y)
//	    ...
//	}
package shared
