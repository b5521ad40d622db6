// Package server provides the HTTP read/trigger surface: a chi router with
// a standard middleware stack (Recoverer, RequestID, RealIP, a zerolog
// request-logging middleware, Timeout, CORS), one route group per resource,
// and handler structs constructed with their dependencies and a logger.
// Every handler is a thin read or trigger over the engines and
// repositories; none of the sync, valuation, lot, or returns logic lives
// here.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/accountsvc"
	"github.com/aristath/ledgerfolio/internal/assetclass"
	"github.com/aristath/ledgerfolio/internal/preferences"
	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/repo"
	"github.com/aristath/ledgerfolio/internal/returns"
	"github.com/aristath/ledgerfolio/internal/sync"
	"github.com/aristath/ledgerfolio/internal/valuation"
)

// Config holds every dependency the server needs to build its handlers.
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	Orchestrator *sync.Orchestrator
	Valuation    *valuation.Engine
	Returns      *returns.Engine
	Accounts     *accountsvc.Service
	AssetClasses *assetclass.Service
	Preferences  *preferences.Service
	Providers    *providers.Registry
	Securities   *repo.SecurityRepository
	Querier      repo.Querier
	StartedAt    time.Time
}

// Server wraps a chi.Mux plus the http.Server it serves.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger
}

// New builds the router and registers every route group.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}

	s.router.Get("/health", s.handleHealth(cfg))

	s.router.Route("/api", func(r chi.Router) {
		newSyncHandlers(cfg.Orchestrator, cfg.Valuation, cfg.StartedAt, s.log).registerRoutes(r)
		newAccountHandlers(cfg.Accounts, s.log).registerRoutes(r)
		newReturnsHandlers(cfg.Returns, cfg.Querier, s.log).registerRoutes(r)
		newAssetClassHandlers(cfg.AssetClasses, s.log).registerRoutes(r)
		newPreferenceHandlers(cfg.Preferences, s.log).registerRoutes(r)
		newProviderHandlers(cfg.Providers, s.log).registerRoutes(r)
		newSecurityHandlers(cfg.Securities, cfg.Querier, s.log).registerRoutes(r)
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server; blocks until Shutdown is called or a fatal
// listener error occurs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"sync_in_progress": cfg.Orchestrator.IsSyncInProgress(),
			"uptime_seconds":   int(time.Since(cfg.StartedAt).Seconds()),
		})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
