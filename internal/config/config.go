package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
}

// PipelineConfig holds the pair identification settings.
type PipelineConfig struct {
	Securities []string `yaml:"securities" envconfig:"SECURITIES" validate:"omitempty,unique,dive,required"`
	// Start and End are ISO dates bounding the rows used.
	Start string `yaml:"start" envconfig:"START" validate:"omitempty,datetime=2006-01-02"`
	End   string `yaml:"end" envconfig:"END" validate:"omitempty,datetime=2006-01-02"`

	CorrelationMethod string   `yaml:"correlation_method" envconfig:"CORRELATION_METHOD" validate:"oneof=pearson spearman kendall"`
	PlusThreshold     float64  `yaml:"plus_threshold" envconfig:"PLUS_THRESHOLD" validate:"gte=-1,lte=1"`
	MinusThreshold    *float64 `yaml:"minus_threshold" envconfig:"MINUS_THRESHOLD" validate:"omitempty,gte=-1,lte=1"`

	StationarityMethod  string  `yaml:"stationarity_method" envconfig:"STATIONARITY_METHOD" validate:"oneof=ADF PP KPSS"`
	CointegrationMethod string  `yaml:"cointegration_method" envconfig:"COINTEGRATION_METHOD" validate:"oneof=engle-granger phillips-ouliaris johansen"`
	Trend               string  `yaml:"trend" envconfig:"TREND" validate:"oneof='no deterministic term' constant 'constant and time trend'"`
	SignificanceLevel   float64 `yaml:"significance_level" envconfig:"SIGNIFICANCE_LEVEL" validate:"gt=0,lt=1"`

	Autolag           string `yaml:"autolag" envconfig:"AUTOLAG" validate:"oneof=AIC BIC t-stat none"`
	MaxLag            *int   `yaml:"max_lag" envconfig:"MAX_LAG" validate:"omitempty,gte=0"`
	Lags              *int   `yaml:"lags" envconfig:"LAGS" validate:"omitempty,gte=0"`
	JohansenStatistic string `yaml:"johansen_statistic" envconfig:"JOHANSEN_STATISTIC" validate:"oneof=trace max-eigenvalue"`
	LagDiffs          int    `yaml:"lag_diffs" envconfig:"LAG_DIFFS" validate:"gte=0"`

	AllowStationaryLegs bool `yaml:"allow_stationary_legs" envconfig:"ALLOW_STATIONARY_LEGS"`
	Workers             int  `yaml:"workers" envconfig:"WORKERS" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	// Output is "stderr", "file" or "both". Stdout is reserved for reports.
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stderr file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output stderr"`
	// AddSource includes the caller position in every record.
	AddSource bool `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`

	TracingEnabled bool `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	// TraceExporter is "stdout" (written to TraceFile, or stderr when
	// empty) or "none".
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	TraceFile     string  `yaml:"trace_file" envconfig:"TRACE_FILE"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`

	MetricsEnabled bool `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	// MetricsFile receives a Prometheus text dump when the run ends.
	MetricsFile string `yaml:"metrics_file" envconfig:"METRICS_FILE"`
}

// ServerConfig contains HTTP server configuration for pairs-server
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	// RequestTimeout bounds one identification request.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`
	// MaxBodyBytes caps uploaded price tables.
	MaxBodyBytes int64 `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" validate:"gt=0"`
	// IncludeStack adds stack traces to problem responses. Development only.
	IncludeStack bool            `yaml:"include_stack" envconfig:"INCLUDE_STACK"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"required_if=Enabled true,gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"required_if=Enabled true,gte=0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// EnvPrefix namespaces every environment variable, for example
// PLUTUS_PIPELINE_PLUS_THRESHOLD.
const EnvPrefix = "PLUTUS"

// ConfigFileEnv names the variable that points at the YAML file.
const ConfigFileEnv = "PLUTUS_CONFIG_FILE"

// DefaultConfigFile is read when present and no path is given.
const DefaultConfigFile = "plutus.yaml"

// Default returns default configuration
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			CorrelationMethod:   string(pairs.DefaultCorrelationMethod),
			PlusThreshold:       pairs.DefaultPlusThreshold,
			StationarityMethod:  string(pairs.DefaultStationarityMethod),
			CointegrationMethod: string(pairs.DefaultCointegrationMethod),
			Trend:               "constant",
			SignificanceLevel:   stattest.DefaultSignificanceLevel,
			Autolag:             string(stattest.AutolagAIC),
			JohansenStatistic:   string(stattest.StatisticTrace),
			LagDiffs:            stattest.DefaultLagDiffs,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stderr",
			FilePath: "logs/plutus.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    ServiceName,
			ServiceVersion: ServiceVersion,
			Environment:    "development",
			TraceExporter:  "none",
			SampleRatio:    1.0,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  90 * time.Second,
			MaxBodyBytes:    32 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
	}
}

// Load builds the configuration from defaults, then the YAML file, then
// environment variables, each layer overriding the previous one. An empty
// path falls back to $PLUTUS_CONFIG_FILE and then to plutus.yaml when it
// exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	configFile, explicit := configFilePath(path)
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			if explicit || !stderrors.Is(err, os.ErrNotExist) {
				return nil, apperrors.NewConfigError(fmt.Sprintf("failed to load config file %s", configFile), err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configFilePath reports the file to read and whether the caller named it.
func configFilePath(path string) (string, bool) {
	if path != "" {
		return path, true
	}
	if env := os.Getenv(ConfigFileEnv); env != "" {
		return env, true
	}
	return DefaultConfigFile, false
}

// loadFromFile overlays the keys present in a YAML file onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New()

// Validate checks every section against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.NewConfigError(
				fmt.Sprintf("invalid %s: %v (rule %s)", fe.Namespace(), fe.Value(), fe.Tag()), err)
		}
		return apperrors.NewConfigError("config validation failed", err)
	}
	return nil
}

// IdentifyOptions converts the pipeline section to pairs.Options.
func (c *Config) IdentifyOptions() (pairs.Options, error) {
	p := c.Pipeline
	opts := pairs.Options{
		Securities:          append([]string(nil), p.Securities...),
		CorrelationMethod:   correlation.Method(p.CorrelationMethod),
		MinusThreshold:      p.MinusThreshold,
		StationarityMethod:  stattest.StationarityMethod(p.StationarityMethod),
		CointegrationMethod: stattest.CointegrationMethod(p.CointegrationMethod),
		Trend:               p.Trend,
		SignificanceLevel:   p.SignificanceLevel,
		Autolag:             stattest.Autolag(p.Autolag),
		MaxLag:              p.MaxLag,
		Lags:                p.Lags,
		JohansenStatistic:   stattest.JohansenStatistic(p.JohansenStatistic),
		AllowStationaryLegs: p.AllowStationaryLegs,
		Workers:             p.Workers,
	}
	plus := p.PlusThreshold
	opts.PlusThreshold = &plus
	lagDiffs := p.LagDiffs
	opts.LagDiffs = &lagDiffs

	if p.Start != "" {
		start, err := timeseries.ParseDate(p.Start)
		if err != nil {
			return pairs.Options{}, err
		}
		opts.Start = &timeseries.Date{Time: start}
	}
	if p.End != "" {
		end, err := timeseries.ParseDate(p.End)
		if err != nil {
			return pairs.Options{}, err
		}
		opts.End = &timeseries.Date{Time: end}
	}
	return opts, nil
}
