package stattest

import (
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
	"github.com/fox-techniques/plutus-pairtrading/internal/trend"
)

// StationarityMethod names a univariate stationarity test.
type StationarityMethod string

const (
	ADFMethod  StationarityMethod = "ADF"
	PPMethod   StationarityMethod = "PP"
	KPSSMethod StationarityMethod = "KPSS"
)

// CointegrationMethod names a cointegration test.
type CointegrationMethod string

const (
	EngleGrangerMethod     CointegrationMethod = "engle-granger"
	PhillipsOuliarisMethod CointegrationMethod = "phillips-ouliaris"
	JohansenMethod         CointegrationMethod = "johansen"
)

// StationarityMethods lists every stationarity method in canonical order.
var StationarityMethods = []StationarityMethod{ADFMethod, PPMethod, KPSSMethod}

// CointegrationMethods lists every cointegration method in canonical order.
var CointegrationMethods = []CointegrationMethod{EngleGrangerMethod, PhillipsOuliarisMethod, JohansenMethod}

// ParseStationarityMethod resolves a method name.
func ParseStationarityMethod(name string) (StationarityMethod, error) {
	for _, m := range StationarityMethods {
		if string(m) == name {
			return m, nil
		}
	}
	allowed := make([]string, len(StationarityMethods))
	for i, m := range StationarityMethods {
		allowed[i] = string(m)
	}
	return "", apperrors.NewInvalidParameterError("stationarity method", name, allowed)
}

// ParseCointegrationMethod resolves a method name.
func ParseCointegrationMethod(name string) (CointegrationMethod, error) {
	for _, m := range CointegrationMethods {
		if string(m) == name {
			return m, nil
		}
	}
	allowed := make([]string, len(CointegrationMethods))
	for i, m := range CointegrationMethods {
		allowed[i] = string(m)
	}
	return "", apperrors.NewInvalidParameterError("cointegration method", name, allowed)
}

// AllowedTrends returns the trend descriptions the method accepts.
func (m StationarityMethod) AllowedTrends() []string {
	if m == KPSSMethod {
		return trend.WithDeterministic
	}
	return trend.All
}

// AllowedTrends returns the trend descriptions the method accepts.
func (m CointegrationMethod) AllowedTrends() []string {
	return trend.All
}

// StationarityTest is a configured univariate test.
type StationarityTest interface {
	Method() StationarityMethod
	Test(t *timeseries.Table, security string) (*StationarityResult, error)
}

// CointegrationTest is a configured multivariate test.
type CointegrationTest interface {
	Method() CointegrationMethod
	Test(t *timeseries.Table, securities []string) (*CointegrationResult, error)
}

func (ADFOptions) Method() StationarityMethod  { return ADFMethod }
func (PPOptions) Method() StationarityMethod   { return PPMethod }
func (KPSSOptions) Method() StationarityMethod { return KPSSMethod }

func (o ADFOptions) Test(t *timeseries.Table, security string) (*StationarityResult, error) {
	return ADF(t, security, o)
}

func (o PPOptions) Test(t *timeseries.Table, security string) (*StationarityResult, error) {
	return PhillipsPerron(t, security, o)
}

func (o KPSSOptions) Test(t *timeseries.Table, security string) (*StationarityResult, error) {
	return KPSS(t, security, o)
}

func (EGOptions) Method() CointegrationMethod       { return EngleGrangerMethod }
func (POOptions) Method() CointegrationMethod       { return PhillipsOuliarisMethod }
func (JohansenOptions) Method() CointegrationMethod { return JohansenMethod }

func (o EGOptions) Test(t *timeseries.Table, securities []string) (*CointegrationResult, error) {
	return EngleGranger(t, securities, o)
}

func (o POOptions) Test(t *timeseries.Table, securities []string) (*CointegrationResult, error) {
	return PhillipsOuliaris(t, securities, o)
}

func (o JohansenOptions) Test(t *timeseries.Table, securities []string) (*CointegrationResult, error) {
	return Johansen(t, securities, o)
}

// Settings holds the method-independent knobs the dispatchers map onto each
// test's options. Fields a method does not use are ignored.
type Settings struct {
	Trend             string
	SignificanceLevel float64
	// Autolag and MaxLag apply to ADF and to the Engle-Granger residual test.
	Autolag Autolag
	MaxLag  *int
	// Lags is the kernel truncation of PP, KPSS and Phillips-Ouliaris.
	Lags              *int
	JohansenStatistic JohansenStatistic
	LagDiffs          *int
}

// NewStationarityTest configures the test named by method.
func NewStationarityTest(method StationarityMethod, s Settings) (StationarityTest, error) {
	switch method {
	case ADFMethod:
		return ADFOptions{Trend: s.Trend, Autolag: s.Autolag, MaxLag: s.MaxLag, SignificanceLevel: s.SignificanceLevel}, nil
	case PPMethod:
		return PPOptions{Trend: s.Trend, Lags: s.Lags, SignificanceLevel: s.SignificanceLevel}, nil
	case KPSSMethod:
		return KPSSOptions{Trend: s.Trend, Lags: s.Lags, SignificanceLevel: s.SignificanceLevel}, nil
	default:
		_, err := ParseStationarityMethod(string(method))
		return nil, err
	}
}

// NewCointegrationTest configures the test named by method.
func NewCointegrationTest(method CointegrationMethod, s Settings) (CointegrationTest, error) {
	switch method {
	case EngleGrangerMethod:
		return EGOptions{Trend: s.Trend, Autolag: s.Autolag, MaxLag: s.MaxLag, SignificanceLevel: s.SignificanceLevel}, nil
	case PhillipsOuliarisMethod:
		return POOptions{Trend: s.Trend, Lags: s.Lags, SignificanceLevel: s.SignificanceLevel}, nil
	case JohansenMethod:
		return JohansenOptions{Trend: s.Trend, Statistic: s.JohansenStatistic, LagDiffs: s.LagDiffs, SignificanceLevel: s.SignificanceLevel}, nil
	default:
		_, err := ParseCointegrationMethod(string(method))
		return nil, err
	}
}

// Validate checks the settings against a stationarity and a cointegration
// method without touching any data. It reports the same errors the tests
// themselves would raise at entry.
func (s Settings) Validate(sm StationarityMethod, cm CointegrationMethod) error {
	if _, err := ParseStationarityMethod(string(sm)); err != nil {
		return err
	}
	if _, err := ParseCointegrationMethod(string(cm)); err != nil {
		return err
	}
	if _, err := resolveTrend(s.Trend, sm.AllowedTrends()); err != nil {
		return err
	}
	if _, err := resolveTrend(s.Trend, cm.AllowedTrends()); err != nil {
		return err
	}
	alpha, err := resolveAlpha(s.SignificanceLevel)
	if err != nil {
		return err
	}
	if _, err := resolveAutolag(s.Autolag); err != nil {
		return err
	}
	if err := checkNonNegative("max lag", s.MaxLag); err != nil {
		return err
	}
	if err := checkNonNegative("lags", s.Lags); err != nil {
		return err
	}
	if err := checkNonNegative("lag differences", s.LagDiffs); err != nil {
		return err
	}
	if cm == JohansenMethod {
		switch s.JohansenStatistic {
		case "", StatisticTrace, StatisticMaxEigen:
		default:
			return apperrors.NewInvalidParameterError("statistic", s.JohansenStatistic,
				[]string{string(StatisticTrace), string(StatisticMaxEigen)})
		}
		if _, ok := johansenLevels[alpha]; !ok {
			return apperrors.NewInvalidParameterError("significance level", alpha, []string{"0.1", "0.05", "0.01"})
		}
	}
	return nil
}
