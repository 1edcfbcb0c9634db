package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexrouter/internal/archive"
	"github.com/alanyoungcy/dexrouter/internal/config"
	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/executor"
	"github.com/alanyoungcy/dexrouter/internal/fanout"
	"github.com/alanyoungcy/dexrouter/internal/persist"
	"github.com/alanyoungcy/dexrouter/internal/server"
	"github.com/alanyoungcy/dexrouter/internal/server/handler"
	"github.com/alanyoungcy/dexrouter/internal/server/ws"
	"github.com/alanyoungcy/dexrouter/internal/service"
	"github.com/alanyoungcy/dexrouter/internal/stream"
	"github.com/alanyoungcy/dexrouter/internal/venue"
)

// startGateway registers order admission and lookup, and tails the status
// stream to the WebSocket subscribers it accepts. The fan-out consumer
// starts at the newest entry and never checkpoints: subscribers only exist
// in this process.
func (a *App) startGateway(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers *server.Handlers) {
	a.logger.InfoContext(ctx, "starting gateway")

	orders := service.NewOrderService(deps.Log, a.cfg.Streams.Orders, deps.OrderStore, deps.Metrics, a.logger)
	handlers.Orders = handler.NewOrderHandler(orders, a.logger)

	registry := fanout.NewRegistry(deps.Metrics)
	router := fanout.NewRouter(registry, deps.Metrics, a.logger)
	handlers.Stream = ws.NewHandler(registry, a.logger)

	consumer := stream.NewConsumer(deps.Log, nil, a.streamConfig(a.cfg.Streams.Status, "fanout", domain.CursorLatest, false), deps.Metrics, a.logger)
	g.Go(func() error {
		defer registry.CloseAll()
		return consumer.Run(ctx, router.HandleEntry)
	})
}

// startRouter runs the execution engine: the orders consumer hands entries to
// the scheduler, executors publish through the single status publisher.
//
// Shutdown order: the consumer stops, in-flight executors get ShutdownTimeout
// to reach a terminal status before the scheduler aborts them, then the
// publisher is closed and drains its queue for at most ShutdownTimeout.
func (a *App) startRouter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	a.logger.InfoContext(ctx, "starting router")
	cfg := a.cfg

	pub := executor.NewPublisher(deps.Log, executor.PublisherConfig{
		Stream:     cfg.Streams.Status,
		Capacity:   cfg.Executor.PublisherCapacity,
		RetryDelay: cfg.Executor.PublishRetryDelay.Duration,
	}, deps.Metrics, a.logger)

	// The publisher outlives ctx: aborted orders still publish their
	// terminal status after the consumer stops.
	pubCtx, cancelPub := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		defer cancelPub()
		return pub.Run(pubCtx)
	})

	exec := executor.NewExecutor(
		venue.NewMockOracle(venueProfiles(cfg.Venues), nil),
		venue.NewMockSettler(cfg.Venues.SettleSuccessRate, cfg.Venues.SettleLatency.Duration, nil),
		venue.NewUniformMovement(cfg.Venues.MovementBandPct, nil),
		pub,
		executor.Config{
			MaxRetries: cfg.Executor.MaxRetries,
			BaseDelay:  cfg.Executor.BaseDelay.Duration,
			Venues:     domain.Venues,
		},
		deps.Metrics,
		a.logger,
	)

	dedup := executor.NewDedup(cfg.Executor.DedupTTL.Duration, deps.Claims)
	g.Go(func() error {
		return a.runDedupCleanup(ctx, dedup, cfg.Executor.DedupTTL.Duration)
	})

	sched := executor.NewScheduler(exec, cfg.Executor.Concurrency, dedup, deps.Metrics, a.logger)
	consumer := stream.NewConsumer(deps.Log, deps.Cursors, a.streamConfig(cfg.Streams.Orders, "executor", cfg.Streams.OrdersStart, true), deps.Metrics, a.logger)
	g.Go(func() error {
		err := consumer.Run(ctx, sched.HandleEntry)

		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Executor.ShutdownTimeout.Duration)
		defer cancel()
		if serr := sched.Shutdown(shutCtx); serr != nil {
			a.logger.Warn("executors aborted on shutdown", slog.String("error", serr.Error()))
		}

		pub.Close()
		time.AfterFunc(cfg.Executor.ShutdownTimeout.Duration, cancelPub)
		return err
	})
}

// startPersister records terminal outcomes from the status stream and, when
// enabled, archives old records to S3.
func (a *App) startPersister(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	a.logger.InfoContext(ctx, "starting persister")
	cfg := a.cfg

	sink := persist.NewSink(deps.OrderStore, deps.Notifier, cfg.Executor.PersistRetryDelay.Duration, deps.Metrics, a.logger)
	consumer := stream.NewConsumer(deps.Log, deps.Cursors, a.streamConfig(cfg.Streams.Status, "persister", cfg.Streams.PersisterStart, true), deps.Metrics, a.logger)
	g.Go(func() error {
		return consumer.Run(ctx, sink.HandleEntry)
	})

	if deps.BlobWriter != nil {
		archiver := archive.NewArchiver(deps.OrderStore, deps.BlobWriter, archive.Config{
			Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
			Cron:      cfg.Archive.Cron,
		}, deps.Metrics, a.logger)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}
}

// startHTTPServer serves the handlers of the running mode until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, handlers server.Handlers) {
	handlers.Health = handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, deps.Admission, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) streamConfig(name, consumer, start string, checkpoint bool) stream.Config {
	return stream.Config{
		Stream:     name,
		Name:       consumer,
		Start:      start,
		Checkpoint: checkpoint,
		Count:      a.cfg.Streams.ReadCount,
		Block:      a.cfg.Streams.ReadBlock.Duration,
		RetryDelay: a.cfg.Streams.RetryDelay.Duration,
	}
}

func venueProfiles(cfg config.VenuesConfig) map[domain.Venue]venue.Profile {
	return map[domain.Venue]venue.Profile{
		domain.VenueRaydium: {
			BasePrice: decimal.NewFromFloat(cfg.Raydium.BasePrice),
			Latency:   cfg.Raydium.Latency.Duration,
		},
		domain.VenueMeteora: {
			BasePrice: decimal.NewFromFloat(cfg.Meteora.BasePrice),
			Latency:   cfg.Meteora.Latency.Duration,
		},
	}
}

// runDedupCleanup evicts expired local claims every ttl.
func (a *App) runDedupCleanup(ctx context.Context, d *executor.Dedup, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Cleanup()
			a.logger.DebugContext(ctx, "dedup cleanup", slog.Int("remaining", d.Len()))
		}
	}
}
