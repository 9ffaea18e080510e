// Package web provides the HTTP API for the standardization pipeline.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/jobs"
	"github.com/JonMunkholm/amrglass/internal/service"
	"github.com/JonMunkholm/amrglass/internal/web/middleware"
)

// JobQueue is the subset of *jobs.Queue used by the handlers.
type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Server is the HTTP server for the API.
type Server struct {
	service *service.Service
	queue   JobQueue
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	limits  *rateLimiter
}

// NewServer creates a Server. queue may be nil when Redis is not configured;
// the job endpoints then answer 503.
func NewServer(svc *service.Service, queue JobQueue, cfg *config.Config) *Server {
	s := &Server{
		service: svc,
		queue:   queue,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
	s.router.Use(requestMetadata)

	if s.cfg.Rate.Enabled {
		s.limits = newRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.UploadLimit)
		s.router.Use(s.limits.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Breakpoint tables
		r.Get("/breakpoints", s.handleListStandards)
		r.Get("/breakpoints/{standard}/versions", s.handleListVersions)

		// Single stages
		r.Post("/interpret", s.handleInterpret)
		r.Post("/deduplicate", s.handleDeduplicate)
		r.Post("/export/glass", s.handleExportGlass)
		r.Post("/export/whonet", s.handleExportWhonet)
		r.Post("/validate/glass", s.handleValidateGlass)
		r.Post("/mappings/suggest", s.handleSuggestMappings)

		// Full runs
		r.Post("/pipeline", s.handlePipeline)
		r.Post("/upload", s.handleUpload)
		r.Get("/runs/{id}", s.handleGetRun)

		// Background jobs
		r.Post("/jobs/pipeline", s.handleEnqueueJob(service.JobPipeline))
		r.Post("/jobs/interpret", s.handleEnqueueJob(service.JobInterpret))
		r.Get("/jobs/{id}", s.handleGetJob)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limits != nil {
		s.limits.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses. The API serves
// no HTML, so the content policy forbids everything.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
