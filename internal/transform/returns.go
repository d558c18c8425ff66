// Package transform derives return, log and exponential columns from price
// tables. Every function returns a new table and leaves its input untouched.
package transform

import (
	"math"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// Period is the horizon of a return, expressed in rows of the table.
type Period string

const (
	Daily     Period = "daily"
	Weekly    Period = "weekly"
	Monthly   Period = "monthly"
	Quarterly Period = "quarterly"
	Annual    Period = "annual"
)

type periodSpec struct {
	suffix string
	rows   int
}

// Rows assume a trading calendar of 5 days a week and 252 days a year.
var periods = map[Period]periodSpec{
	Daily:     {"d", 1},
	Weekly:    {"w", 5},
	Monthly:   {"m", 21},
	Quarterly: {"q", 63},
	Annual:    {"y", 252},
}

var periodNames = []string{string(Daily), string(Weekly), string(Monthly), string(Quarterly), string(Annual)}

// ParsePeriod accepts a period name or its one-letter suffix.
func ParsePeriod(name string) (Period, error) {
	for p, spec := range periods {
		if name == string(p) || name == spec.suffix {
			return p, nil
		}
	}
	return "", apperrors.NewInvalidParameterError("return period", name, periodNames)
}

// Suffix is the column-name suffix of the period.
func (p Period) Suffix() string { return periods[p].suffix }

// Rows is the number of rows between the two prices of a return.
func (p Period) Rows() int { return periods[p].rows }

// Kind selects the return formula.
type Kind string

const (
	// Simple is p_t / p_{t-k} - 1.
	Simple Kind = "simple"
	// Percentage is the simple return times 100.
	Percentage Kind = "percentage"
	// Log is ln(p_t / p_{t-k}).
	Log Kind = "log"
)

type returnSettings struct {
	kind Kind
}

// ReturnOption customizes ComputeReturns.
type ReturnOption func(*returnSettings)

// WithKind selects the return formula. The default is Simple.
func WithKind(kind Kind) ReturnOption {
	return func(s *returnSettings) { s.kind = kind }
}

// ReturnColumn is the name ComputeReturns gives the return of security.
func ReturnColumn(security string, period Period) string {
	return "r_" + security + "_" + period.Suffix()
}

func requireColumns(t *timeseries.Table, securities []string) error {
	if t == nil {
		return apperrors.NewValueError("no data table supplied")
	}
	return t.RequireColumns(securities)
}

// ComputeReturns appends one return column per security, named
// r_<security>_<suffix>. The first Rows() values have no prior price and are
// 0.
func ComputeReturns(t *timeseries.Table, securities []string, period Period, opts ...ReturnOption) (*timeseries.Table, error) {
	settings := returnSettings{kind: Simple}
	for _, opt := range opts {
		opt(&settings)
	}
	switch settings.kind {
	case Simple, Percentage, Log:
	default:
		return nil, apperrors.NewInvalidParameterError("return kind", settings.kind,
			[]string{string(Simple), string(Percentage), string(Log)})
	}
	if _, ok := periods[period]; !ok {
		return nil, apperrors.NewInvalidParameterError("return period", period, periodNames)
	}
	if err := requireColumns(t, securities); err != nil {
		return nil, err
	}

	k := period.Rows()
	out := t
	for _, security := range securities {
		prices, err := t.Column(security)
		if err != nil {
			return nil, err
		}
		returns := make([]float64, len(prices))
		for i := k; i < len(prices); i++ {
			ratio := prices[i] / prices[i-k]
			switch settings.kind {
			case Simple:
				returns[i] = ratio - 1
			case Percentage:
				returns[i] = (ratio - 1) * 100
			case Log:
				returns[i] = math.Log(ratio)
			}
		}
		if out, err = out.With(ReturnColumn(security, period), returns); err != nil {
			return nil, err
		}
	}
	return out, nil
}
