package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
)

// PipelineMetrics records pair identification runs. It satisfies
// pairs.Recorder.
type PipelineMetrics struct {
	runsTotal      metric.Int64Counter
	runDuration    metric.Float64Histogram
	stageDuration  metric.Float64Histogram
	pairsEvaluated metric.Int64Counter
	candidates     metric.Int64Histogram

	// Runtime snapshot taken when a run completes
	goRoutines metric.Int64Gauge
	heapAlloc  metric.Int64Gauge
	gcCount    metric.Int64Gauge
}

// NewPipelineMetrics creates the pipeline instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	runsTotal, err := meter.Int64Counter(
		"plutus_runs",
		metric.WithDescription("Pair identification runs by status"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"plutus_run_duration",
		metric.WithDescription("Duration of a pair identification run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"plutus_stage_duration",
		metric.WithDescription("Duration of a pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pairsEvaluated, err := meter.Int64Counter(
		"plutus_pairs_evaluated",
		metric.WithDescription("Screened pairs by cointegration method and outcome"),
	)
	if err != nil {
		return nil, err
	}

	candidates, err := meter.Int64Histogram(
		"plutus_candidates",
		metric.WithDescription("Candidate pairs produced per run"),
	)
	if err != nil {
		return nil, err
	}

	goRoutines, err := meter.Int64Gauge(
		"plutus_runtime_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"plutus_runtime_heap_alloc",
		metric.WithDescription("Heap bytes allocated by the Go runtime"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Gauge(
		"plutus_runtime_gc_count",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		stageDuration:  stageDuration,
		pairsEvaluated: pairsEvaluated,
		candidates:     candidates,
		goRoutines:     goRoutines,
		heapAlloc:      heapAlloc,
		gcCount:        gcCount,
	}, nil
}

// StageCompleted records the duration of one pipeline stage
func (m *PipelineMetrics) StageCompleted(ctx context.Context, stage string, elapsed time.Duration) {
	m.stageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// PairEvaluated counts one screened pair
func (m *PipelineMetrics) PairEvaluated(ctx context.Context, method string, outcome string) {
	m.pairsEvaluated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RunCompleted records the run outcome and a runtime snapshot
func (m *PipelineMetrics) RunCompleted(ctx context.Context, candidates int, elapsed time.Duration, err error) {
	status := attribute.String("status", "success")
	if err != nil {
		status = attribute.String("status", "failure")
	}
	attrs := []attribute.KeyValue{status}
	if err != nil {
		errType := string(apperrors.TypeOf(err))
		if errType == "" {
			errType = "UNKNOWN"
		}
		attrs = append(attrs, attribute.String("error_type", errType))
	}

	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(status))
	if err == nil {
		m.candidates.Record(ctx, int64(candidates))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goRoutines.Record(ctx, int64(runtime.NumGoroutine()))
	m.heapAlloc.Record(ctx, int64(ms.HeapAlloc))
	m.gcCount.Record(ctx, int64(ms.NumGC))
}

// HTTPMetrics records requests served by pairs-server.
type HTTPMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	rateLimited     metric.Int64Counter
}

// NewHTTPMetrics creates the HTTP instruments on meter
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"plutus_http_requests",
		metric.WithDescription("HTTP requests by method, route and status code"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"plutus_http_request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"plutus_http_active_requests",
		metric.WithDescription("Requests currently being served"),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"plutus_http_rate_limited",
		metric.WithDescription("Requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
		rateLimited:     rateLimited,
	}, nil
}

// RequestStarted marks a request as in flight
func (m *HTTPMetrics) RequestStarted(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// RequestCompleted records a served request
func (m *HTTPMetrics) RequestCompleted(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	m.activeRequests.Add(ctx, -1)
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RequestRateLimited counts a request rejected with 429
func (m *HTTPMetrics) RequestRateLimited(ctx context.Context, route string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
