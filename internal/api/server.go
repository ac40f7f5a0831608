// Package api serves feature extraction, stored runs and light-curve charts
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/db"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/monitoring"
)

// RunStore reads stored batch runs.
type RunStore interface {
	Runs(ctx context.Context) ([]db.RunSummary, error)
	FeatureRows(ctx context.Context, runID string) ([]db.FeatureRow, error)
	Exclusions(ctx context.Context, runID string) ([]batch.Exclusion, error)
}

// FitStore reads every cached fit of an object.
type FitStore interface {
	Fits(ctx context.Context, objectID string, mode gp.Mode) (map[string]*gp.Fit, error)
}

// Server wraps an echo instance with the lightcurve routes.
type Server struct {
	echo    *echo.Echo
	cfg     pipeline.Config
	runs    RunStore
	fits    FitStore
	cache   pipeline.FitCache
	metrics *monitoring.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore enables the /runs routes.
func WithRunStore(s RunStore) Option { return func(srv *Server) { srv.runs = s } }

// WithFitStore enables the chart route.
func WithFitStore(s FitStore) Option { return func(srv *Server) { srv.fits = s } }

// WithFitCache is passed to every pipeline built for POST /features.
func WithFitCache(c pipeline.FitCache) Option { return func(srv *Server) { srv.cache = c } }

// WithMetrics records pipeline and request metrics and serves /metrics.
func WithMetrics(m *monitoring.Metrics) Option { return func(srv *Server) { srv.metrics = m } }

// NewServer validates cfg and registers routes.
func NewServer(cfg pipeline.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recoverMiddleware(), s.loggingMiddleware())

	e.GET("/healthz", s.healthz)
	v1 := e.Group("/api/v1")
	v1.POST("/features", s.postFeatures)
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id/rows", s.runRows)
	v1.GET("/runs/:id/exclusions", s.runExclusions)
	v1.GET("/objects/:id/chart", s.objectChart)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	s.echo = e
	return s, nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("api: listening on %s", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	monitoring.Logf("api: stopped")
	return nil
}

func recoverMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := monitoring.Logger()
					logger.Error().Str("stack", string(debug.Stack())).Msgf("api: panic: %v", r)
					err = c.JSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
				}
			}()
			return next(c)
		}
	}
}

func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			logger := monitoring.Logger()
			logger.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("api request")
			if s.metrics != nil {
				route := c.Path()
				if route == "" {
					route = "unmatched"
				}
				s.metrics.ObserveRequest(route, strconv.Itoa(status))
			}
			return nil
		}
	}
}
