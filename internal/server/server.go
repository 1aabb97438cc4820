// Package server provides the operator-facing HTTP surface for farmd:
// status, circuit breaker control, task pause/resume, manual rebalance,
// and live event streaming (SSE + websocket).
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

	"github.com/aristath/farmd/internal/adapter"
	"github.com/aristath/farmd/internal/allocator"
	"github.com/aristath/farmd/internal/clock"
	"github.com/aristath/farmd/internal/config"
	"github.com/aristath/farmd/internal/events"
	"github.com/aristath/farmd/internal/portfolio"
	"github.com/aristath/farmd/internal/risk"
	"github.com/aristath/farmd/internal/scheduler"
	"github.com/aristath/farmd/internal/tasks"
)

// Config holds everything the operator surface needs wired in from the
// composition root.
type Config struct {
	Log       zerolog.Logger
	Cfg       *config.Config
	Registry  *tasks.Registry
	Adapters  *adapter.Registry
	Risk      *risk.Manager
	Allocator *allocator.Allocator
	Scheduler *scheduler.Scheduler
	Bus       *events.Bus
	Portfolio *portfolio.View
	Clock     clock.Clock
	DevMode   bool
}

// Server is the production operator HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	registry  *tasks.Registry
	adapters  *adapter.Registry
	risk      *risk.Manager
	allocator *allocator.Allocator
	scheduler *scheduler.Scheduler
	bus       *events.Bus
	portfolio *portfolio.View
	clock     clock.Clock
}

// New builds a Server, wiring routes and middleware, but does not start
// listening — call Start for that.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Cfg,
		registry:  cfg.Registry,
		adapters:  cfg.Adapters,
		risk:      cfg.Risk,
		allocator: cfg.Allocator,
		scheduler: cfg.Scheduler,
		bus:       cfg.Bus,
		portfolio: cfg.Portfolio,
		clock:     cfg.Clock,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events/stream", s.handleEventsStream)
		r.Get("/ws", s.handleWebsocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireOperatorToken)
			r.Post("/circuit/trip", s.handleCircuitTrip)
			r.Post("/circuit/reset", s.handleCircuitReset)
			r.Post("/tasks/{id}/pause", s.handleTaskPause)
			r.Post("/tasks/{id}/resume", s.handleTaskResume)
			r.Post("/allocator/rebalance", s.handleAllocatorRebalance)
		})
	})
}

// requireOperatorToken gates mutating operator endpoints behind the
// configured bearer token; the same token that clears a HALTED circuit.
func (s *Server) requireOperatorToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.cfg.OperatorToken
		if s.cfg.OperatorToken == "" || got != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting operator HTTP server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down operator HTTP server")
	return s.server.Shutdown(ctx)
}
