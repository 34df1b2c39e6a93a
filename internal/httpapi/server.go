// Package httpapi exposes the evaluation core over HTTP: registry and
// series reads, snapshot/router computation, the recompute/backfill event
// endpoints, and the LLM brief/ask surface (including an SSE stream for
// ask).
//
// The package is a thin adapter: handlers delegate to internal/snapshot,
// internal/agent, or direct store reads; beyond query parsing, date
// filtering and per-day de-duplication of snapshot history, no logic
// lives here.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/derickschaefer/reserve/internal/agent"
	"github.com/derickschaefer/reserve/internal/model"
	"github.com/derickschaefer/reserve/internal/snapshot"
	"github.com/derickschaefer/reserve/internal/store"
)

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	snapshot.Store
	RecentPoints(seriesID string, limit int) ([]model.SeriesPoint, error)
	AsOfFetched(seriesID string, asOf time.Time, limit int) ([]model.SeriesPoint, error)
	ListSeriesMeta() ([]model.SeriesMeta, error)
	IndicatorHistory(indicatorID, horizon string, limit int) ([]store.IndicatorHistoryPoint, error)
	ListSnapshots(horizon string) ([]model.Snapshot, error)
}

// Server wraps the chi router and its dependencies.
type Server struct {
	router *chi.Mux
	store  Store
	agent  *agent.Agent
	specs  []model.IndicatorSpec
}

// Config bundles the dependencies New needs.
type Config struct {
	Store Store
	Agent *agent.Agent
	Specs []model.IndicatorSpec
}

// New builds a Server with its full route table wired.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  cfg.Store,
		agent:  cfg.Agent,
		specs:  cfg.Specs,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/indicators", s.handleIndicators)
	s.router.Get("/indicators/list", s.handleIndicatorsList)
	s.router.Get("/registry/buckets", s.handleRegistryBuckets)

	s.router.Get("/series/{id}", s.handleSeriesGet)
	s.router.Get("/series/list", s.handleSeriesList)

	s.router.Get("/snapshot", s.handleSnapshotGet)
	s.router.Get("/router", s.handleRouterGet)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/events/recompute", s.handleEventsRecompute)
		r.Post("/events/backfill_history", s.handleEventsBackfillHistory)
	})

	s.router.Get("/snapshot/history", s.handleSnapshotHistory)
	s.router.Get("/indicators/{id}/history", s.handleIndicatorHistory)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(20 * time.Second))
		r.Post("/llm/brief", s.handleLLMBrief)
	})
	s.router.Get("/llm/ask_stream", s.handleLLMAskStream)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe starts the HTTP server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // ask_stream holds the connection open for its own duration
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
