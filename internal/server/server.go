// Package server exposes the order gateway over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/server/handler"
	"github.com/alanyoungcy/dexrouter/internal/server/middleware"
	"github.com/alanyoungcy/dexrouter/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards order submission; empty disables authentication.
	APIKey string
}

// Handlers aggregates the endpoint handlers.
type Handlers struct {
	Health *handler.HealthHandler
	// Orders and Stream are nil in modes that do not serve them.
	Orders *handler.OrderHandler
	Stream *ws.Handler
}

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in the middleware chain:
// CORS, then logging, then auth. Order submission is additionally metered
// per client by admission; a nil admission admits everything.
func NewServer(
	cfg Config,
	handlers Handlers,
	admission domain.AdmissionLimiter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", m.Handler())

	if handlers.Orders != nil {
		submit := middleware.Admission(admission, logger)(http.HandlerFunc(handlers.Orders.Execute))
		mux.Handle("POST /api/orders/execute", submit)
		mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.Get)
	}
	if handlers.Stream != nil {
		mux.HandleFunc("GET /api/orders/execute", handlers.Stream.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires. Hijacked
// WebSocket connections are not tracked here; they end when their
// subscriber is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
