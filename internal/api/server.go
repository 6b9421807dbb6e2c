package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	metrics *Metrics
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. cache and bus may be nil.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, c domain.Cache, bus domain.EventBus, engine *scoring.Engine, detailTTL time.Duration, version string) *Server {
	metrics := NewMetrics()
	handler := NewHandler(repo, c, bus, engine, metrics, detailTTL, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/", handler.Root)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/transactions", func(r chi.Router) {
		r.Post("/", handler.CreateTransaction)
		r.Get("/", handler.ListTransactions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetTransaction)
			r.Post("/approve", handler.Approve)
			r.Post("/reject", handler.Reject)
			r.Post("/review", handler.MarkForReview)
			r.Get("/audit", handler.AuditTrail)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		metrics: metrics,
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

// AttachWorker makes /ready report the detail worker's subscriptions.
func (s *Server) AttachWorker(w *worker.Worker) {
	s.handler.worker = w
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
