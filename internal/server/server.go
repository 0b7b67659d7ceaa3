// Package server exposes the admin HTTP surface of the analytics engine.
// Everything under /admin requires the shared admin key; /health and
// /metrics are open for probes and scrapers.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/batch"
	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/portfolio"
	"github.com/aristath/spyglass/internal/snapshot"
)

// Deps bundles everything the admin surface operates on.
type Deps struct {
	Config       *config.Config
	AnalyticsDB  *database.DB
	CacheDB      *database.DB
	Orchestrator *batch.Orchestrator
	Tracker      *batch.Tracker
	Portfolios   *portfolio.Repository
	Snapshots    *snapshot.Repository
	Calendar     *calendar.Calendar
	// Backup triggers a manual database backup when set.
	Backup func(ctx context.Context) error
}

// Server is the admin HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	deps    Deps
	log     zerolog.Logger
	started time.Time
}

// New builds the server with routes and middleware configured.
func New(d Deps, log zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		deps:    d,
		log:     log.With().Str("component", "server").Logger(),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	// Liveness probe, no auth
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdminKey)

		r.Route("/batch", func(r chi.Router) {
			r.Post("/run", s.handleBatchRun)
			r.Get("/run/current", s.handleCurrentRun)
			r.Post("/trigger/market-data", s.handleTriggerMarketData)
			r.Post("/trigger/correlations", s.handleTriggerCorrelations)
			r.Post("/trigger/company-profiles", s.handleTriggerProfiles)
			r.Post("/cleanup-incomplete", s.handleCleanupIncomplete)
			r.Post("/restore-sector-tags", s.handleRestoreSectorTags)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
			r.Post("/backup", s.handleBackup)
		})
	})
}

// requireAdminKey rejects requests without the shared admin secret. The key
// is accepted either as X-Admin-Key or as a bearer token.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		expected := s.deps.Config.AdminKey
		if expected == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
			s.log.Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Rejected unauthenticated admin request")
			s.writeError(w, http.StatusUnauthorized, "admin key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The current-run endpoint is polled every few seconds; keep it
		// out of the info log.
		ev := s.log.Info()
		if r.URL.Path == "/admin/batch/run/current" || r.URL.Path == "/metrics" {
			ev = s.log.Debug()
		}
		ev.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("Request")
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.deps.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }
