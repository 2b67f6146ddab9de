// Package api provides the HTTP surface for Kestrel.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/banding"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, bander *banding.Bander, views domain.ViewConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, bander, views, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for the dashboard
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Customer ledger
	router.Post("/customers", handler.CreateCustomer)
	router.Get("/customers/{id}", handler.GetCustomer)
	router.Delete("/customers/{id}", handler.DeleteCustomer)
	router.Put("/customers/{id}/risk", handler.SetCustomerRisk)
	router.Get("/customers/{id}/transactions", handler.ListCustomerTransactions)

	// Transaction log
	router.Post("/transactions", handler.CreateTransaction)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Get("/transactions/{id}/predictions", handler.ListTransactionPredictions)

	// Prediction log
	router.Post("/predictions", handler.CreatePrediction)

	// Model registry
	router.Post("/models/runs", handler.CreateModelRun)
	router.Get("/models/{name}/latest", handler.GetLatestModelRun)

	// Reporting views
	router.Route("/views", func(r chi.Router) {
		r.Get("/transaction-summary", handler.TransactionSummaryView)
		r.Get("/daily-fraud-summary", handler.DailyFraudSummaryView)
		r.Get("/high-risk-transactions", handler.HighRiskTransactionsView)
		r.Get("/customer-risk-profile", handler.CustomerRiskProfileView)
		r.Get("/model-performance", handler.ModelPerformanceView)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
