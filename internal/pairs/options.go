package pairs

import (
	stderrors "errors"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

const (
	// DefaultPlusThreshold is the correlation a pair must reach to be tested.
	DefaultPlusThreshold = 0.5

	DefaultCorrelationMethod   = correlation.Pearson
	DefaultStationarityMethod  = stattest.ADFMethod
	DefaultCointegrationMethod = stattest.EngleGrangerMethod
)

// Options configures a pair identification run. The zero value runs the
// default pipeline over every column of the table.
type Options struct {
	// Securities restricts the universe; empty means every column.
	Securities []string `json:"securities,omitempty" validate:"omitempty,unique,dive,required"`
	// Start and End bound the rows used, both inclusive.
	Start *timeseries.Date `json:"start,omitempty"`
	End   *timeseries.Date `json:"end,omitempty"`

	CorrelationMethod correlation.Method `json:"correlation_method"`
	// PlusThreshold defaults to DefaultPlusThreshold.
	PlusThreshold *float64 `json:"plus_threshold,omitempty" validate:"omitempty,gte=-1,lte=1"`
	// MinusThreshold defaults to -PlusThreshold.
	MinusThreshold *float64 `json:"minus_threshold,omitempty" validate:"omitempty,gte=-1,lte=1"`

	StationarityMethod  stattest.StationarityMethod  `json:"stationarity_method"`
	CointegrationMethod stattest.CointegrationMethod `json:"cointegration_method"`
	Trend               string                       `json:"trend"`
	SignificanceLevel   float64                      `json:"significance_level" validate:"gte=0,lt=1"`

	Autolag           stattest.Autolag           `json:"autolag,omitempty"`
	MaxLag            *int                       `json:"max_lag,omitempty" validate:"omitempty,gte=0"`
	Lags              *int                       `json:"lags,omitempty" validate:"omitempty,gte=0"`
	JohansenStatistic stattest.JohansenStatistic `json:"johansen_statistic,omitempty"`
	LagDiffs          *int                       `json:"lag_diffs,omitempty" validate:"omitempty,gte=0"`

	// AllowStationaryLegs keeps pairs whose legs are already stationary.
	// By default both legs must be non-stationary.
	AllowStationaryLegs bool `json:"allow_stationary_legs"`
	// Workers bounds the concurrent tests; zero means GOMAXPROCS.
	Workers int `json:"workers" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// plan is a validated run: defaults filled in and tests configured.
type plan struct {
	opts          Options
	screen        correlation.ScreenOptions
	stationarity  stattest.StationarityTest
	cointegration stattest.CointegrationTest
	alpha         float64
	workers       int
}

// resolve validates opts and fills in defaults. Method names are checked
// first so that an unknown name is reported before anything else.
func resolve(opts Options) (*plan, error) {
	if opts.CorrelationMethod == "" {
		opts.CorrelationMethod = DefaultCorrelationMethod
	}
	if opts.StationarityMethod == "" {
		opts.StationarityMethod = DefaultStationarityMethod
	}
	if opts.CointegrationMethod == "" {
		opts.CointegrationMethod = DefaultCointegrationMethod
	}
	if _, err := correlation.ParseMethod(string(opts.CorrelationMethod)); err != nil {
		return nil, err
	}
	if _, err := stattest.ParseStationarityMethod(string(opts.StationarityMethod)); err != nil {
		return nil, err
	}
	if _, err := stattest.ParseCointegrationMethod(string(opts.CointegrationMethod)); err != nil {
		return nil, err
	}

	if err := validate.Struct(opts); err != nil {
		return nil, fromValidator(err)
	}
	if opts.Start != nil && opts.End != nil && opts.Start.After(opts.End.Time) {
		return nil, apperrors.NewValueError("start date " + opts.Start.Format(timeseries.DateLayout) +
			" is after end date " + opts.End.Format(timeseries.DateLayout))
	}

	settings := stattest.Settings{
		Trend:             opts.Trend,
		SignificanceLevel: opts.SignificanceLevel,
		Autolag:           opts.Autolag,
		MaxLag:            opts.MaxLag,
		Lags:              opts.Lags,
		JohansenStatistic: opts.JohansenStatistic,
		LagDiffs:          opts.LagDiffs,
	}
	if err := settings.Validate(opts.StationarityMethod, opts.CointegrationMethod); err != nil {
		return nil, err
	}
	st, err := stattest.NewStationarityTest(opts.StationarityMethod, settings)
	if err != nil {
		return nil, err
	}
	ct, err := stattest.NewCointegrationTest(opts.CointegrationMethod, settings)
	if err != nil {
		return nil, err
	}

	if opts.PlusThreshold == nil {
		plus := DefaultPlusThreshold
		opts.PlusThreshold = &plus
	}
	if opts.MinusThreshold == nil {
		minus := -*opts.PlusThreshold
		opts.MinusThreshold = &minus
	}
	if err := correlation.CheckThresholds(*opts.PlusThreshold, *opts.MinusThreshold); err != nil {
		return nil, err
	}
	if opts.SignificanceLevel == 0 {
		opts.SignificanceLevel = stattest.DefaultSignificanceLevel
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &plan{
		opts: opts,
		screen: correlation.ScreenOptions{
			Method:         opts.CorrelationMethod,
			PlusThreshold:  *opts.PlusThreshold,
			MinusThreshold: opts.MinusThreshold,
		},
		stationarity:  st,
		cointegration: ct,
		alpha:         opts.SignificanceLevel,
		workers:       workers,
	}, nil
}

// fromValidator maps the first struct-tag failure to an INVALID_PARAMETER
// error named after the JSON field.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewAppError(apperrors.ErrTypeInvalidParameter, "invalid options", err)
	}
	fe := verrs[0]
	return apperrors.NewInvalidParameterError(strings.ReplaceAll(fe.Field(), "_", " "), fe.Value(), nil).
		WithContext("rule", fe.Tag())
}

// ValidateSecurities fails with a VALIDATION error listing every security
// absent from the table.
func ValidateSecurities(t *timeseries.Table, securities []string) error {
	if t == nil {
		return apperrors.NewValueError("no data table supplied")
	}
	return t.RequireColumns(securities)
}
