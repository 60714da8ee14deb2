// Package transport serves the orchestrator's wire surface: the A2A
// JSON-RPC endpoint, agent discovery, health, and metrics. It is the
// only layer that converts errors into wire shapes; everything below
// it degrades in place.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/kv"
	"github.com/majordomohq/majordomo/pkg/observability"
	"github.com/majordomohq/majordomo/pkg/promptcache"
	"github.com/majordomohq/majordomo/pkg/workflow"
)

// maxBodyBytes bounds a JSON-RPC request body.
const maxBodyBytes = 1 << 20

// Server hosts the HTTP surface over the workflow driver.
type Server struct {
	cfg      *config.Config
	driver   *workflow.Driver
	registry *agent.Registry
	cache    *promptcache.Cache
	store    kv.Store
	metrics  http.Handler
	logger   *slog.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP surface. metrics may be nil when the
// scrape endpoint is disabled; cache may be nil when caching is
// disabled (the admin methods then report an empty cache).
func NewServer(cfg *config.Config, driver *workflow.Driver, registry *agent.Registry, cache *promptcache.Cache, store kv.Store, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		driver:   driver,
		registry: registry,
		cache:    cache,
		store:    store,
		metrics:  metrics,
		logger:   logger.With("component", "transport"),
	}
}

// Handler builds the route tree. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Middleware)
	r.Use(s.logRequests)
	r.Use(cors)

	r.Post("/", s.handleRPC)
	r.Get(s.cfg.Server.CardPath, s.handleCard)
	r.Get("/v1/agents", s.handleDirectory)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}

	return r
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Serving A2A endpoint",
		"address", s.cfg.Server.Address(),
		"cardPath", s.cfg.Server.CardPath)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
