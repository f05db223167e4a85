// Package server implements the admin/read REST surface (§6): a thin HTTP
// layer over AppState and the engine's read-side components. Handlers
// mutate AppState and/or invoke component methods; they carry no business
// logic of their own.
//
// Grounded on the teacher's server.Server
// (internal/server/server.go): chi.Mux + go-chi/cors middleware stack
// (Recoverer, RequestID, RealIP, Timeout, CORS, conditional gzip
// Compress), the same `/health` + `/api` route-tree shape, and the same
// http.Server{ReadTimeout, WriteTimeout, IdleTimeout} + graceful
// Start/Shutdown pair.
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
)

// Config holds everything the server needs to wire its routes.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	State       StateHandlers
	Stats       StatsReader
	Rebalance   RebalanceReader
	Monitor     HealthReader
	Exchanges   ExchangeHealthReader
	Exporter    CellExporter
}

// Server is the admin/read HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server with its middleware and routes configured but not
// yet listening.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "admin_server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
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

func (s *Server) setupRoutes(cfg Config) {
	h := &handlers{state: cfg.State, stats: cfg.Stats, rebalance: cfg.Rebalance, monitor: cfg.Monitor, exchanges: cfg.Exchanges, exporter: cfg.Exporter, log: s.log}

	s.router.Get("/health", h.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/rebalance/proposals", h.handleRebalanceProposals)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", h.handleGetState)
			r.Post("/sandbox", h.handleToggleSandbox)
			r.Post("/auto-trade", h.handleToggleAutoTrade)
			r.Post("/auto-rebalance", h.handleToggleAutoRebalance)
			r.Post("/smart-strategy", h.handleToggleSmartStrategy)
			r.Post("/pair-threshold", h.handleSetPairThreshold)
			r.Post("/safety-limits", h.handleSetSafetyLimits)
			r.Post("/kill-switch/reset", h.handleResetKillSwitch)
			r.Post("/wallet-override", h.handleSetWalletOverride)
		})

		r.Post("/export/cell", h.handleExportCell)
	})
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting admin server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down admin server")
	return s.server.Shutdown(ctx)
}
