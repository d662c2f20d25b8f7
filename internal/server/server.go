// Package server provides the HTTP server and routing for the pooled
// fund engine.
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

	"github.com/calder-hwy/poolhouse/internal/events"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/router"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

// Config holds server configuration
type Config struct {
	Port          int
	OperatorToken string
	DevMode       bool
	Log           zerolog.Logger
	Vaults        map[string]*vault.Vault
	Queues        map[string]*router.Queue
	Ledger        *ledger.Ledger
	VaultRepo     *vault.Repository
	Bus           *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router        *chi.Mux
	server        *http.Server
	log           zerolog.Logger
	operatorToken string
	startupTime   time.Time

	vaults    map[string]*vault.Vault
	queues    map[string]*router.Queue
	ledger    *ledger.Ledger
	vaultRepo *vault.Repository
	bus       *events.Bus
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		log:           cfg.Log.With().Str("component", "server").Logger(),
		operatorToken: cfg.OperatorToken,
		startupTime:   time.Now(),
		vaults:        cfg.Vaults,
		queues:        cfg.Queues,
		ledger:        cfg.Ledger,
		vaultRepo:     cfg.VaultRepo,
		bus:           cfg.Bus,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
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
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
		})

		r.Get("/events/ws", s.handleEventsWS)

		// Participant surface
		r.Route("/buckets/{bucket}", func(r chi.Router) {
			r.Post("/deposits", s.handleEnqueueDeposit)
			r.Post("/withdrawals", s.handleEnqueueWithdraw)
			r.Get("/pending/{participant}", s.handleGetPending)
			r.Get("/batch", s.handleBatchStatus)

			// Operator surface
			r.Group(func(r chi.Router) {
				r.Use(s.operatorOnly)
				r.Post("/flush", s.handleFlush)
				r.Put("/batch-interval", s.handleSetBatchInterval)
				r.Put("/minimum-deposit", s.handleSetMinimumDeposit)
			})
		})

		r.Route("/vaults/{bucket}", func(r chi.Router) {
			r.Get("/", s.handleGetVault)
			r.Get("/holders/{participant}", s.handleGetHolder)
			r.Get("/metrics", s.handleGetMetrics)

			r.Group(func(r chi.Router) {
				r.Use(s.operatorOnly)
				r.Post("/compound", s.handleCompound)
				r.Post("/rebalance", s.handleRebalance)
				r.Post("/emergency-withdraw", s.handleEmergencyWithdraw)
				r.Put("/fee-rate", s.handleSetFeeRate)
				r.Put("/harvest-interval", s.handleSetHarvestInterval)
				r.Put("/allocations", s.handleSetAllocations)
			})
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/{account}", s.handleGetLedgerBalance)

			r.Group(func(r chi.Router) {
				r.Use(s.operatorOnly)
				r.Post("/credit", s.handleLedgerCredit)
				r.Post("/debit", s.handleLedgerDebit)
			})
		})
	})
}

// loggingMiddleware logs requests with zerolog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
