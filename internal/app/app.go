// Package app provides the top-level application lifecycle for the order
// router. It wires the shared infrastructure and starts the components of the
// configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexrouter/internal/config"
	"github.com/alanyoungcy/dexrouter/internal/server"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the components of the configured mode
// and blocks until ctx is cancelled or a component fails. The returned error
// is context.Canceled after a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, gctx := errgroup.WithContext(ctx)
	var handlers server.Handlers

	switch a.cfg.Mode {
	case config.ModeGateway:
		a.startGateway(gctx, g, deps, &handlers)
	case config.ModeRouter:
		a.startRouter(gctx, g, deps)
	case config.ModePersister:
		a.startPersister(gctx, g, deps)
	case config.ModeFull:
		a.startGateway(gctx, g, deps, &handlers)
		a.startRouter(gctx, g, deps)
		a.startPersister(gctx, g, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, handlers)
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
