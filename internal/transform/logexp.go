package transform

import (
	"fmt"
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// ReturnLogs adds log_<security> columns holding the natural log of each
// security. With onlyLogs the result holds just the new columns. A
// non-positive value fails with a VALUE error; NaN stays NaN.
func ReturnLogs(t *timeseries.Table, securities []string, onlyLogs bool) (*timeseries.Table, error) {
	if err := requireColumns(t, securities); err != nil {
		return nil, err
	}

	dates := t.Dates()
	names := make([]string, 0, len(securities))
	cols := make(map[string][]float64, len(securities))
	for _, security := range securities {
		values, err := t.Column(security)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if v <= 0 {
				return nil, apperrors.NewValueError(fmt.Sprintf(
					"cannot take the log of %g in '%s' on %s", v, security, dates[i].Format(timeseries.DateLayout)))
			}
			values[i] = math.Log(v)
		}
		name := "log_" + security
		names = append(names, name)
		cols[name] = values
	}
	return assemble(t, names, cols, onlyLogs)
}

// ReturnExps exponentiates the named columns. With onlyExps the columns keep
// their names and the result holds just them, which inverts ReturnLogs with
// onlyLogs. Otherwise exp_<security> columns are appended.
func ReturnExps(t *timeseries.Table, securities []string, onlyExps bool) (*timeseries.Table, error) {
	if err := requireColumns(t, securities); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(securities))
	cols := make(map[string][]float64, len(securities))
	for _, security := range securities {
		values, err := t.Column(security)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = math.Exp(v)
		}
		name := security
		if !onlyExps {
			name = "exp_" + security
		}
		names = append(names, name)
		cols[name] = values
	}
	return assemble(t, names, cols, onlyExps)
}

// assemble either builds a table from the derived columns alone or adds them
// to the source table.
func assemble(t *timeseries.Table, names []string, cols map[string][]float64, only bool) (*timeseries.Table, error) {
	if only {
		return timeseries.New(t.Dates(), names, cols)
	}
	out := t
	for _, name := range names {
		var err error
		if out, err = out.With(name, cols[name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
