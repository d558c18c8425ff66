// Package trend maps the human-readable trend vocabulary used by callers to
// the deterministic-term codes understood by the statistical tests.
package trend

import (
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
)

// Trend selects the deterministic terms included in a test regression.
type Trend int

const (
	// None includes no deterministic term.
	None Trend = iota
	// Constant includes an intercept.
	Constant
	// ConstantAndTrend includes an intercept and a linear time trend.
	ConstantAndTrend
)

// Vocabulary of accepted trend descriptions.
const (
	NameNone             = "no deterministic term"
	NameConstant         = "constant"
	NameConstantAndTrend = "constant and time trend"
)

// All lists the complete vocabulary in canonical order.
var All = []string{NameNone, NameConstant, NameConstantAndTrend}

// WithDeterministic excludes "no deterministic term", for tests whose null
// is defined around a level or a trend.
var WithDeterministic = []string{NameConstant, NameConstantAndTrend}

// String returns the human-readable description.
func (t Trend) String() string {
	switch t {
	case None:
		return NameNone
	case Constant:
		return NameConstant
	case ConstantAndTrend:
		return NameConstantAndTrend
	default:
		return "unknown"
	}
}

// Code returns the canonical short code: n, c or ct.
func (t Trend) Code() string {
	switch t {
	case None:
		return "n"
	case Constant:
		return "c"
	case ConstantAndTrend:
		return "ct"
	default:
		return ""
	}
}

// Terms is the number of deterministic regressors the trend adds.
func (t Trend) Terms() int {
	return int(t)
}

// MarshalText encodes the trend as its description.
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts either the description or the short code.
func (t *Trend) UnmarshalText(text []byte) error {
	s := string(text)
	if parsed, err := Parse(s); err == nil {
		*t = parsed
		return nil
	}
	parsed, err := Validate(s, nil)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Validate checks userTrend against the vocabulary and, when allowed is not
// nil, against the allowed subset.
func Validate(userTrend string, allowed []string) (Trend, error) {
	if allowed == nil {
		allowed = All
	}

	var parsed Trend
	switch userTrend {
	case NameNone:
		parsed = None
	case NameConstant:
		parsed = Constant
	case NameConstantAndTrend:
		parsed = ConstantAndTrend
	default:
		return 0, apperrors.NewInvalidTrendError(userTrend, allowed)
	}

	for _, a := range allowed {
		if a == userTrend {
			return parsed, nil
		}
	}
	return 0, apperrors.NewInvalidTrendError(userTrend, allowed)
}

// ValidateCode is Validate for callers holding the short code.
func ValidateCode(code string, allowed []string) (Trend, error) {
	parsed, err := Parse(code)
	if err != nil {
		return 0, err
	}
	return Validate(parsed.String(), allowed)
}

// Parse converts a short code (n, c, ct) to a Trend.
func Parse(code string) (Trend, error) {
	switch code {
	case "n":
		return None, nil
	case "c":
		return Constant, nil
	case "ct":
		return ConstantAndTrend, nil
	default:
		return 0, apperrors.NewInvalidTrendError(code, []string{"n", "c", "ct"})
	}
}
