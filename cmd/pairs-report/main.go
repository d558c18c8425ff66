package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fox-techniques/plutus-pairtrading/internal/config"
	"github.com/fox-techniques/plutus-pairtrading/internal/dataio"
	"github.com/fox-techniques/plutus-pairtrading/internal/infrastructure"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

type flags struct {
	configPath    string
	input         string
	tickers       string
	valueColumn   string
	join          string
	dateColumn    string
	sheet         string
	securities    string
	metricsOut    string
	candidatesOut string
	top           int
	compact       bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet(config.AppName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "YAML config file (defaults to $PLUTUS_CONFIG_FILE or plutus.yaml)")
	fs.StringVar(&f.input, "in", "", "price table (.csv or .xlsx), or a directory of <ticker>.csv files with -tickers")
	fs.StringVar(&f.tickers, "tickers", "", "comma-separated tickers to read from the -in directory")
	fs.StringVar(&f.valueColumn, "value-column", "", "column kept from each ticker file (e.g. close)")
	fs.StringVar(&f.join, "join", string(timeseries.InnerJoin), "how ticker files are joined: inner or outer")
	fs.StringVar(&f.dateColumn, "date-column", dataio.DefaultDateColumn, "name of the date column")
	fs.StringVar(&f.sheet, "sheet", "", "worksheet to read from an .xlsx file (defaults to the first)")
	fs.StringVar(&f.securities, "securities", "", "comma-separated securities to screen (overrides the config)")
	fs.StringVar(&f.metricsOut, "metrics-out", "", "write Prometheus metrics to this file (overrides the config)")
	fs.StringVar(&f.candidatesOut, "candidates-out", "", "also write the ranked candidates to this .csv or .xlsx file")
	fs.IntVar(&f.top, "top", 0, "print only the n best candidates (0 prints all)")
	fs.BoolVar(&f.compact, "compact", false, "print the report without indentation")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.input == "" {
		return nil, errors.New("-in is required")
	}
	return f, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("Pair report failed", "error", err)
		}
		os.Exit(1)
	}
}

// run loads the configuration and the price table, identifies pairs and
// writes the JSON report to stdout. Logs go to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.securities != "" {
		cfg.Pipeline.Securities = splitList(f.securities)
	}
	if f.metricsOut != "" {
		cfg.Telemetry.MetricsEnabled = true
		cfg.Telemetry.MetricsFile = f.metricsOut
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()
	logger = infrastructure.WithComponent(logger, "pairs-report")

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			infrastructure.WithError(logger, err).Warn("Telemetry shutdown failed")
		}
	}()

	recorder, err := infrastructure.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx = infrastructure.EnsureTraceID(ctx)

	table, err := loadTable(f)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", f.input, err)
	}
	logger.InfoContext(ctx, "Loaded price table",
		slog.String("path", f.input),
		slog.Int("rows", table.Len()),
		slog.Int("columns", len(table.Columns())))

	opts, err := cfg.IdentifyOptions()
	if err != nil {
		return err
	}

	identifier := pairs.NewIdentifier(logger,
		pairs.WithTracer(providers.Tracer),
		pairs.WithRecorder(recorder))

	report, runErr := identifier.Identify(ctx, table, opts)

	// Metrics cover failed runs too.
	if err := providers.WriteMetrics(cfg.Telemetry.MetricsFile); err != nil {
		infrastructure.WithError(logger, err).WarnContext(ctx, "Failed to write metrics")
	}
	if runErr != nil {
		infrastructure.WithError(logger, runErr).ErrorContext(ctx, "Pair identification failed")
		return runErr
	}

	if f.candidatesOut != "" {
		if err := dataio.WriteCandidates(report, f.candidatesOut); err != nil {
			return err
		}
	}

	if f.top > 0 {
		report.Candidates = report.Top(f.top)
	}
	return writeReport(stdout, report, f.compact)
}

func loadTable(f *flags) (*timeseries.Table, error) {
	opts := dataio.Options{DateColumn: f.dateColumn, Sheet: f.sheet}
	if f.tickers == "" {
		return dataio.Load(f.input, opts)
	}
	return dataio.ReadTickerFiles(f.input, splitList(f.tickers), dataio.TickerOptions{
		Options:     opts,
		ValueColumn: f.valueColumn,
		Join:        timeseries.JoinKind(f.join),
	})
}

func writeReport(w io.Writer, report *pairs.Report, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
