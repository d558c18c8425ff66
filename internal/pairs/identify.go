package pairs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fox-techniques/plutus-pairtrading/internal/correlation"
	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/stattest"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// TracerName is the instrumentation scope of the spans Identify starts.
const TracerName = "plutus.pairs"

// Pipeline stages reported to the Recorder and used as span names.
const (
	StageScreen        = "screen"
	StageStationarity  = "stationarity"
	StageCointegration = "cointegration"
)

// Recorder receives pipeline measurements.
type Recorder interface {
	StageCompleted(ctx context.Context, stage string, elapsed time.Duration)
	PairEvaluated(ctx context.Context, method string, outcome string)
	RunCompleted(ctx context.Context, candidates int, elapsed time.Duration, err error)
}

type noopRecorder struct{}

func (noopRecorder) StageCompleted(context.Context, string, time.Duration)   {}
func (noopRecorder) PairEvaluated(context.Context, string, string)           {}
func (noopRecorder) RunCompleted(context.Context, int, time.Duration, error) {}

// Identifier runs the pair identification pipeline. It is safe for
// concurrent use.
type Identifier struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// Option customizes an Identifier.
type Option func(*Identifier)

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(id *Identifier) { id.tracer = tracer }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(id *Identifier) { id.recorder = r }
}

// NewIdentifier creates an Identifier. A nil logger uses slog.Default().
func NewIdentifier(logger *slog.Logger, opts ...Option) *Identifier {
	if logger == nil {
		logger = slog.Default()
	}
	id := &Identifier{
		logger:   logger.With(slog.String("component", "pair_identifier")),
		tracer:   otel.Tracer(TracerName),
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(id)
	}
	return id
}

// legOutcome is the cached stationarity verdict of one security.
type legOutcome struct {
	result *stattest.StationarityResult
	err    error
}

// pairOutcome is written by exactly one worker.
type pairOutcome struct {
	candidate *Candidate
	rejection *Rejection
	tested    bool
}

// Identify screens the table by correlation, tests each surviving pair and
// returns the cointegrated pairs ranked strongest first.
//
// Invalid options fail before any computation. Pairs whose tests fail
// numerically are dropped and listed in Report.Rejected.
func (id *Identifier) Identify(ctx context.Context, t *timeseries.Table, opts Options) (report *Report, err error) {
	started := time.Now()
	ctx, span := id.tracer.Start(ctx, "pairs.Identify")
	defer func() {
		candidates := 0
		if report != nil {
			candidates = len(report.Candidates)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		id.recorder.RunCompleted(ctx, candidates, time.Since(started), err)
		span.End()
	}()

	p, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, securities, err := prepare(t, p.opts)
	if err != nil {
		return nil, err
	}
	first, last, err := correlation.DateRange(t)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := id.logger.With(slog.String("run_id", runID))
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.Int("securities", len(securities)),
		attribute.Int("rows", t.Len()),
		attribute.String("stationarity_method", string(p.opts.StationarityMethod)),
		attribute.String("cointegration_method", string(p.opts.CointegrationMethod)),
	)
	logger.InfoContext(ctx, "starting pair identification",
		slog.Int("securities", len(securities)),
		slog.Int("rows", t.Len()),
		slog.String("start", first),
		slog.String("end", last),
		slog.String("correlation_method", string(p.opts.CorrelationMethod)),
		slog.String("stationarity_method", string(p.opts.StationarityMethod)),
		slog.String("cointegration_method", string(p.opts.CointegrationMethod)),
		slog.Int("workers", p.workers),
	)

	screen, err := id.screen(ctx, t, securities, p)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "correlation screen complete",
		slog.Int("pairs", len(screen.Pairs)),
		slog.Int("securities", len(screen.Securities)),
	)

	legs, err := id.testLegs(ctx, logger, t, screen.Securities, p)
	if err != nil {
		return nil, err
	}
	outcomes, err := id.testPairs(ctx, logger, t, screen.Pairs, legs, p)
	if err != nil {
		return nil, err
	}

	report = &Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Start:       first,
		End:         last,
		Options:     p.opts,
		Screen:      screen,
		Candidates:  []Candidate{},
		Rejected:    []Rejection{},
	}
	for _, s := range screen.Securities {
		if leg := legs[s]; leg.err == nil {
			report.Stationarity = append(report.Stationarity, leg.result)
		}
	}
	for _, o := range outcomes {
		if o.tested {
			report.Tested++
		}
		if o.candidate != nil {
			report.Candidates = append(report.Candidates, *o.candidate)
		}
		if o.rejection != nil {
			report.Rejected = append(report.Rejected, *o.rejection)
		}
	}
	rank(report.Candidates)

	logger.InfoContext(ctx, "pair identification complete",
		slog.Int("screened", len(screen.Pairs)),
		slog.Int("tested", report.Tested),
		slog.Int("candidates", len(report.Candidates)),
		slog.Duration("duration", time.Since(started)),
	)
	return report, nil
}

// prepare validates the universe and applies the date bounds.
func prepare(t *timeseries.Table, opts Options) (*timeseries.Table, []string, error) {
	if t == nil {
		return nil, nil, apperrors.NewValueError("no data table supplied")
	}
	securities := opts.Securities
	if len(securities) == 0 {
		securities = t.Columns()
	}
	if err := ValidateSecurities(t, securities); err != nil {
		return nil, nil, err
	}
	if opts.Start == nil && opts.End == nil {
		return t, securities, nil
	}
	start, end, err := t.DateRange()
	if err != nil {
		return nil, nil, err
	}
	if opts.Start != nil {
		start = opts.Start.Time
	}
	if opts.End != nil {
		end = opts.End.Time
	}
	sliced, err := correlation.SliceWithDates(t, start, end)
	if err != nil {
		return nil, nil, err
	}
	return sliced, securities, nil
}

func (id *Identifier) screen(ctx context.Context, t *timeseries.Table, securities []string, p *plan) (*correlation.Result, error) {
	ctx, span := id.tracer.Start(ctx, StageScreen)
	defer span.End()
	started := time.Now()

	screen, err := correlation.Screen(t, securities, p.screen)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("correlation screen: %w", err)
	}
	span.SetAttributes(attribute.Int("pairs", len(screen.Pairs)))
	id.recorder.StageCompleted(ctx, StageScreen, time.Since(started))
	return screen, nil
}

// testLegs runs the stationarity test once per security.
func (id *Identifier) testLegs(ctx context.Context, logger *slog.Logger, t *timeseries.Table, securities []string, p *plan) (map[string]legOutcome, error) {
	ctx, span := id.tracer.Start(ctx, StageStationarity,
		trace.WithAttributes(attribute.Int("securities", len(securities))))
	defer span.End()
	started := time.Now()

	results := make([]legOutcome, len(securities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, security := range securities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.stationarity.Test(t, security)
			results[i] = legOutcome{result: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stationarity tests: %w", err)
	}

	legs := make(map[string]legOutcome, len(securities))
	for i, security := range securities {
		legs[security] = results[i]
		if err := results[i].err; err != nil {
			logger.WarnContext(ctx, "stationarity test failed",
				slog.String("security", security),
				slog.String("method", string(p.opts.StationarityMethod)),
				slog.String("error", err.Error()),
			)
		}
	}
	id.recorder.StageCompleted(ctx, StageStationarity, time.Since(started))
	return legs, nil
}

// testPairs evaluates the screened pairs concurrently. Each worker writes
// only its own slot of the result slice.
func (id *Identifier) testPairs(ctx context.Context, logger *slog.Logger, t *timeseries.Table, pairs []correlation.CorrelatedPair, legs map[string]legOutcome, p *plan) ([]pairOutcome, error) {
	ctx, span := id.tracer.Start(ctx, StageCointegration,
		trace.WithAttributes(attribute.Int("pairs", len(pairs))))
	defer span.End()
	started := time.Now()

	var failures atomic.Int64
	outcomes := make([]pairOutcome, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o := evaluate(t, pair, legs[pair.SecurityA], legs[pair.SecurityB], p)
			outcomes[i] = o
			outcome := "candidate"
			if o.rejection != nil {
				outcome = string(o.rejection.Reason)
				if o.rejection.Reason == ReasonTestFailed {
					failures.Add(1)
					logger.WarnContext(gctx, "dropping pair after test failure",
						slog.String("security_a", pair.SecurityA),
						slog.String("security_b", pair.SecurityB),
						slog.String("error", o.rejection.Error),
					)
				} else {
					logger.DebugContext(gctx, "pair rejected",
						slog.String("security_a", pair.SecurityA),
						slog.String("security_b", pair.SecurityB),
						slog.String("reason", outcome),
					)
				}
			}
			id.recorder.PairEvaluated(gctx, string(p.opts.CointegrationMethod), outcome)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cointegration tests: %w", err)
	}
	span.SetAttributes(attribute.Int64("failures", failures.Load()))
	id.recorder.StageCompleted(ctx, StageCointegration, time.Since(started))
	return outcomes, nil
}

// evaluate applies the leg criterion and the cointegration test to one pair.
func evaluate(t *timeseries.Table, pair correlation.CorrelatedPair, legA, legB legOutcome, p *plan) pairOutcome {
	reject := func(reason Reason, err error) pairOutcome {
		r := &Rejection{SecurityA: pair.SecurityA, SecurityB: pair.SecurityB, Correlation: pair.Correlation, Reason: reason}
		if err != nil {
			r.Error = err.Error()
		}
		return pairOutcome{rejection: r}
	}

	if legA.err != nil {
		return reject(ReasonStationarityFailed, legA.err)
	}
	if legB.err != nil {
		return reject(ReasonStationarityFailed, legB.err)
	}
	if !p.opts.AllowStationaryLegs && (legA.result.Stationary || legB.result.Stationary) {
		return reject(ReasonStationaryLeg, nil)
	}

	securities := []string{pair.SecurityA, pair.SecurityB}
	res, err := p.cointegration.Test(t, securities)
	if err != nil {
		o := reject(ReasonTestFailed, err)
		o.tested = true
		return o
	}
	if !res.Cointegrated {
		o := reject(ReasonNotCointegrated, nil)
		o.tested = true
		return o
	}

	c, err := newCandidate(t, pair, legA.result, legB.result, res, p.alpha)
	if err != nil {
		o := reject(ReasonTestFailed, err)
		o.tested = true
		return o
	}
	return pairOutcome{candidate: c, tested: true}
}
