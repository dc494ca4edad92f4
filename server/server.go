// Package server exposes the registry engine over HTTP.
//
// Routes:
//
//	POST /discover            discovery query {type, filters}
//	GET  /discover/{type}     discovery query, filters from the query string
//	POST /validate            validate every cached resource
//	POST /validate/{id}       validate one resource
//	GET  /validate/report     last full compliance report
//	GET  /stats               registry statistics
//	POST /resources           register a resource
//	POST /rebuild             rebuild the snapshot now
//	GET  /health              liveness, readiness and breaker states
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/registry"
	"github.com/itsneelabh/ordregistry/scheduler"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server is the HTTP front of a registry Engine.
type Server struct {
	engine    *registry.Engine
	scheduler *scheduler.Scheduler
	cfg       core.HTTPConfig
	logger    core.Logger
	verbose   bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	handler    http.Handler
	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScheduler reports the scheduler's task stats on /health.
func WithScheduler(sch *scheduler.Scheduler) Option {
	return func(s *Server) { s.scheduler = sch }
}

// WithProviders instruments handlers with the given OpenTelemetry providers.
func WithProviders(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
		s.meterProvider = mp
	}
}

// WithVerboseLogging logs every request, not only failed and slow ones.
func WithVerboseLogging() Option {
	return func(s *Server) { s.verbose = true }
}

// New creates a server for engine.
func New(engine *registry.Engine, cfg core.HTTPConfig, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger, s.verbose, time.Second))
	r.Use(cors(s.cfg.CORS))

	r.Get("/health", s.handleHealth)
	r.Post("/discover", s.handleDiscover)
	r.Get("/discover/{type}", s.handleDiscoverGet)
	r.Route("/validate", func(r chi.Router) {
		r.Post("/", s.handleValidateAll)
		r.Get("/report", s.handleReport)
		r.Post("/{id}", s.handleValidateOne)
	})
	r.Get("/stats", s.handleStats)
	r.Post("/resources", s.handleRegister)
	r.Post("/rebuild", s.handleRebuild)

	var otelOpts []otelhttp.Option
	if s.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(s.tracerProvider))
	}
	if s.meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(s.meterProvider))
	}
	otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + r.URL.Path
	}))
	return otelhttp.NewHandler(r, "ordregistry", otelOpts...)
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until the server stops.
// It returns nil after a clean Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"operation": "http_start",
		"address":   addr,
		"cors":      s.cfg.CORS.Enabled,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return core.ErrNotStarted
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return srv.Shutdown(ctx)
}
