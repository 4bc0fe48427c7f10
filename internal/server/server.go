// Package server is the REST and WebSocket adapter over the scheduling
// core. It owns no domain state; every request is served from the
// registries, the scheduler, and the result archive.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/slideflow/internal/config"
	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/internal/metrics"
	"github.com/me/slideflow/internal/registry"
	"github.com/me/slideflow/internal/results"
	"github.com/me/slideflow/internal/scheduler"
	"github.com/me/slideflow/internal/tenant"
)

// Server is the slideflow API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time

	jobs      *registry.Jobs
	workflows *registry.Workflows
	tenants   *tenant.Manager
	scheduler *scheduler.Scheduler
	bus       *eventbus.Bus
	archive   *results.Store
	metrics   *metrics.Metrics
}

// New creates a new Server with all routes registered.
// archive and metrics may be nil (e.g. in tests).
func New(cfg config.ServerConfig, jobs *registry.Jobs, workflows *registry.Workflows, tenants *tenant.Manager, sched *scheduler.Scheduler, bus *eventbus.Bus, archive *results.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		jobs:      jobs,
		workflows: workflows,
		tenants:   tenants,
		scheduler: sched,
		bus:       bus,
		archive:   archive,
		metrics:   m,
	}
	s.routes()
	return s
}

// StartScheduler begins the dispatch loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(userIDMiddleware)

			// Workflows
			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", s.handleListWorkflows)
				r.Post("/", s.handleSubmitWorkflow)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetWorkflow)
					r.Get("/jobs", s.handleListWorkflowJobs)
					r.Post("/cancel", s.handleCancelWorkflow)
				})
			})

			// Jobs
			r.Route("/jobs", func(r chi.Router) {
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetJob)
					r.Get("/result", s.handleGetJobResult)
					r.Post("/cancel", s.handleCancelJob)
				})
			})
		})
	})

	// Operational surfaces
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// WebSocket endpoints for real-time updates
	r.Route("/ws", func(r chi.Router) {
		r.Get("/workflows/{id}", s.handleWorkflowSocket)
		r.Get("/jobs/{id}", s.handleJobSocket)
	})
}
