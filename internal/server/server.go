// Package server exposes the read-only HTTP surface over the decision
// store. Handlers never mutate evaluation state; the only write path is
// the manual evaluation trigger.
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

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/events"
	"github.com/aristath/wheel-trader/internal/modules/artifact"
	"github.com/aristath/wheel-trader/internal/modules/ledger"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/modules/universe"
	"github.com/aristath/wheel-trader/internal/scheduler"
)

// Options carries the server collaborators. History may be nil.
type Options struct {
	Config    *config.Config
	Store     *artifact.Store
	Positions *lifecycle.Store
	Ledger    *ledger.Ledger
	History   *universe.ScoreHistory
	Events    *events.Manager
	Hours     *scheduler.MarketHoursService
	EvalJob   *scheduler.EvaluationJob
	PosJob    *scheduler.PositionCheckJob
	Log       zerolog.Logger
}

// Server is the HTTP front of the evaluation system.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	cfg       *config.Config
	store     *artifact.Store
	positions *lifecycle.Store
	ledger    *ledger.Ledger
	history   *universe.ScoreHistory
	events    *events.Manager
	hours     *scheduler.MarketHoursService
	evalJob   *scheduler.EvaluationJob
	posJob    *scheduler.PositionCheckJob
	log       zerolog.Logger
	now       func() time.Time
}

// New creates the HTTP server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       opts.Config,
		store:     opts.Store,
		positions: opts.Positions,
		ledger:    opts.Ledger,
		history:   opts.History,
		events:    opts.Events,
		hours:     opts.Hours,
		evalJob:   opts.EvalJob,
		posJob:    opts.PosJob,
		log:       opts.Log.With().Str("component", "server").Logger(),
		now:       time.Now,
	}

	s.setupMiddleware(opts.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Config.Port),
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
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
		r.Route("/ui", func(r chi.Router) {
			r.Get("/decision/latest", s.handleDecisionLatest)
			r.Get("/universe", s.handleUniverse)
			r.Get("/symbol-diagnostics", s.handleSymbolDiagnostics)
		})

		r.Get("/market-status", s.handleMarketStatus)
		r.Get("/positions", s.handlePositions)

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", s.handleLedgerEntries)
			r.Get("/summary", s.handleLedgerSummary)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/status", s.handleOpsStatus)
			r.Post("/evaluate", s.handleOpsEvaluate)
			r.Get("/evaluate/{jobID}", s.handleOpsJobState)
		})

		r.Route("/eval", func(r chi.Router) {
			r.Get("/latest-run", s.handleLatestRun)
			r.Get("/symbol/{symbol}", s.handleEvalSymbol)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
			r.Get("/events", s.handleSystemEvents)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

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
			Msg("HTTP request")
	})
}
