package main

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/infrastructure"
)

// isolate resets the process-wide logger and telemetry after a run.
func isolate(t *testing.T) {
	t.Helper()
	prevLogger := slog.Default()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(func() {
		infrastructure.ResetLoggerForTesting()
		slog.SetDefault(prevLogger)
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "plutus.yaml")
	content := "logging:\n" +
		"  level: debug\n" +
		"  output: file\n" +
		"  file_path: " + filepath.Join(dir, "server.log") + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"-config", "x.yaml", "-port", "9000", "-metrics"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "x.yaml", f.configPath)
	assert.Equal(t, 9000, f.port)
	assert.True(t, f.metrics)

	f, err = parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, -1, f.port, "config port is kept by default")

	_, err = parseFlags([]string{"-port", "70000"}, &bytes.Buffer{})
	assert.Error(t, err)

	var usage bytes.Buffer
	_, err = parseFlags([]string{"-h"}, &usage)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, usage.String(), "-config")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	metricsFile := filepath.Join(dir, "metrics.prom")
	configPath := writeConfig(t, dir, "telemetry:\n  metrics_file: "+metricsFile+"\n")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := run(ctx, []string{"-config", configPath, "-port", "0", "-metrics"}, &bytes.Buffer{})
	require.NoError(t, err)

	logs, err := os.ReadFile(filepath.Join(dir, "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logs), "Server started")
	assert.Contains(t, string(logs), "Server shutdown complete")
	assert.FileExists(t, metricsFile)
}

func TestRun_InvalidConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "server:\n  request_timeout: 0s\n")

	err := run(context.Background(), []string{"-config", configPath}, &bytes.Buffer{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}
