package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/dexrouter/internal/blob/s3"
	"github.com/alanyoungcy/dexrouter/internal/cache/redis"
	"github.com/alanyoungcy/dexrouter/internal/config"
	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/notify"
	"github.com/alanyoungcy/dexrouter/internal/server/handler"
	"github.com/alanyoungcy/dexrouter/internal/store/memory"
	"github.com/alanyoungcy/dexrouter/internal/store/postgres"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Metrics *metrics.Metrics

	// Durable logs
	Log     domain.StreamLog
	Cursors domain.CursorStore

	// Coordination; nil without Redis.
	Claims    domain.OrderClaimer
	Admission domain.AdmissionLimiter

	// OrderStore is nil when no mode in this process reads or writes it.
	OrderStore domain.OrderStore
	// BlobWriter is nil unless the archive is enabled.
	BlobWriter domain.BlobWriter

	Notifier *notify.Notifier

	// HealthChecks feed GET /api/health.
	HealthChecks map[string]handler.Check
}

// Wire builds the dependencies for cfg and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(metrics.DefaultConfig()),
		HealthChecks: make(map[string]handler.Check),
	}

	// --- Redis (stream backend, claims, admission metering) ---
	if cfg.Streams.Backend == "redis" || cfg.Server.RateLimit > 0 {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
			Role:       cfg.Mode,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient.Ping
		if cfg.Server.RateLimit > 0 {
			deps.Admission = redis.NewAdmissionLimiter(redisClient, redis.AdmissionPolicy{
				Limit:   cfg.Server.RateLimit,
				Window:  cfg.Server.RateWindow.Duration,
				Clients: cfg.Server.ClientLimits,
			})
		}

		if cfg.Streams.Backend == "redis" {
			deps.Log = redis.NewStreamLogWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
			deps.Cursors = redis.NewCursorStore(redisClient)
			deps.Claims = redis.NewOrderClaimer(redisClient, cfg.Redis.ClaimTTL.Duration)
		}
	}
	if cfg.Streams.Backend == "memory" {
		logger.Warn("using in-memory streams; orders and status events do not survive a restart")
		deps.Log = stream.NewMemoryLog()
		deps.Cursors = stream.NewMemoryCursors()
	}

	// --- Order store ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.OrderStore = postgres.NewOrderStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Pool().Ping
	} else if cfg.Mode == config.ModeFull {
		logger.Warn("postgres disabled; persisting orders in memory")
		deps.OrderStore = memory.NewOrderStore()
	}

	// --- S3 archive target ---
	if cfg.Archive.Enabled && deps.OrderStore != nil && (cfg.Mode == config.ModePersister || cfg.Mode == config.ModeFull) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s3Client.Health(hctx); err != nil {
			logger.Warn("archive bucket not reachable yet", slog.String("error", err.Error()))
		}
		cancel()
		deps.BlobWriter = s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)<<20)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
