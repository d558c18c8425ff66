package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fox-techniques/plutus-pairtrading/internal/app"
	"github.com/fox-techniques/plutus-pairtrading/internal/config"
	"github.com/fox-techniques/plutus-pairtrading/internal/infrastructure"
)

type flags struct {
	configPath string
	port       int
	metrics    bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet(app.ServiceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "YAML config file (defaults to $PLUTUS_CONFIG_FILE or plutus.yaml)")
	fs.IntVar(&f.port, "port", -1, "listen port (overrides server.port)")
	fs.BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics on /metrics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.port > 65535 {
		return nil, fmt.Errorf("-port %d is out of range", f.port)
	}
	return f, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("Server failed", "error", err)
		}
		os.Exit(1)
	}
}

// run serves the pairs API until ctx is cancelled.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.port >= 0 {
		cfg.Server.Port = f.port
	}
	if f.metrics {
		cfg.Telemetry.MetricsEnabled = true
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()
	logger = infrastructure.WithComponent(logger, app.ServiceName)

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.WriteMetrics(cfg.Telemetry.MetricsFile); err != nil {
			infrastructure.WithError(logger, err).Warn("Failed to write metrics")
		}
		if err := providers.Shutdown(shutdownCtx); err != nil {
			infrastructure.WithError(logger, err).Warn("Telemetry shutdown failed")
		}
	}()

	application, err := app.New(cfg, logger, providers)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}
