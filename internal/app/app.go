package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/fox-techniques/plutus-pairtrading/internal/config"
	"github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/infrastructure"
	customMiddleware "github.com/fox-techniques/plutus-pairtrading/internal/middleware"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	handlers "github.com/fox-techniques/plutus-pairtrading/internal/transport/http"
)

// ServiceName identifies the server in /version and in logs.
const ServiceName = "pairs-server"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server
	Health        *handlers.HealthHandler

	identifier   handlers.PairIdentifier
	defaults     pairs.Options
	errorHandler *errors.ErrorHandler
	httpMetrics  *infrastructure.HTTPMetrics
}

// New wires the pairs pipeline, the middleware chain and the HTTP server.
// The caller owns providers and shuts them down after Run returns.
func New(cfg *config.Config, logger *slog.Logger, providers *infrastructure.OTelProviders) (*Application, error) {
	defaults, err := cfg.IdentifyOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	recorder, err := infrastructure.NewPipelineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	httpMetrics, err := infrastructure.NewHTTPMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Health:        handlers.NewHealthHandler(ServiceName, cfg.Telemetry.ServiceVersion, logger),
		identifier: pairs.NewIdentifier(logger,
			pairs.WithTracer(providers.Tracer),
			pairs.WithRecorder(recorder)),
		defaults:     defaults,
		errorHandler: errors.NewErrorHandler(logger, cfg.Server.IncludeStack),
		httpMetrics:  httpMetrics,
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// setupRouter builds the router. Middleware order:
// RequestID → RealIP → OTel → Logger → Recoverer → SecurityHeaders → RateLimit.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders, a.httpMetrics).Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(a.errorHandler.Recoverer)
	r.Use(customMiddleware.SecurityHeaders)

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	r.Get("/healthz", a.Health.LivenessCheck)
	r.Get("/readyz", a.Health.ReadinessCheck)
	r.Get("/version", a.Health.Version)

	// Scrapes are exempt from rate limiting.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if rl := a.Config.Server.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger, a.httpMetrics).Handler)
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.BodyLimit(a.Config.Server.MaxBodyBytes))

		pairsHandler := handlers.NewPairsHandler(a.identifier, a.defaults, a.Logger, a.errorHandler)
		r.Mount("/pairs", pairsHandler.Routes())
	})

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:              a.Config.Server.Addr(),
		Handler:           a.Router,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		WriteTimeout:      a.Config.Server.WriteTimeout,
		IdleTimeout:       a.Config.Server.IdleTimeout,
		MaxHeaderBytes:    a.Config.Server.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Run listens on the configured port and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for at most the configured shutdown timeout.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Server.Serve(ln)
	}()

	a.Logger.InfoContext(ctx, "Server started",
		slog.String("address", ln.Addr().String()),
		slog.String("version", a.Config.Telemetry.ServiceVersion),
		slog.Bool("rate_limit", a.Config.Server.RateLimit.Enabled),
		slog.Bool("metrics", a.OTelProviders.PrometheusHTTP != nil))

	select {
	case err := <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down server")
	a.Health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Logger.InfoContext(ctx, "Server shutdown complete", slog.Duration("elapsed", time.Since(start)))
	return nil
}
