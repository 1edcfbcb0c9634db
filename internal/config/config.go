// Package config defines the configuration of the order router and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by DEXROUTER_* environment variables.
type Config struct {
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Streams  StreamsConfig  `toml:"streams"`
	Executor ExecutorConfig `toml:"executor"`
	Venues   VenuesConfig   `toml:"venues"`
	Server   ServerConfig   `toml:"server"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes cursor, claim and admission keys.
	Namespace string `toml:"namespace"`
	// StreamMaxLen approximately caps each stream; 0 keeps everything.
	StreamMaxLen int64 `toml:"stream_max_len"`
	// ClaimTTL is how long an order claim blocks re-execution.
	ClaimTTL duration `toml:"claim_ttl"`
}

// PostgresConfig holds the durable order store connection.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// StreamsConfig names the two logs and tunes how they are tailed.
type StreamsConfig struct {
	// Backend is "redis", or "memory" for a single-process full mode.
	Backend    string   `toml:"backend"`
	Orders     string   `toml:"orders"`
	Status     string   `toml:"status"`
	ReadCount  int      `toml:"read_count"`
	ReadBlock  duration `toml:"read_block"`
	RetryDelay duration `toml:"retry_delay"`
	// OrdersStart is where the executor consumer begins without a
	// checkpoint: "$" or "0".
	OrdersStart string `toml:"orders_start"`
	// PersisterStart is where the persistence sink begins without a
	// checkpoint.
	PersisterStart string `toml:"persister_start"`
}

// ExecutorConfig tunes order execution.
type ExecutorConfig struct {
	Concurrency       int      `toml:"concurrency"`
	MaxRetries        int      `toml:"max_retries"`
	BaseDelay         duration `toml:"base_delay"`
	PublisherCapacity int      `toml:"publisher_capacity"`
	PublishRetryDelay duration `toml:"publish_retry_delay"`
	PersistRetryDelay duration `toml:"persist_retry_delay"`
	DedupTTL          duration `toml:"dedup_ttl"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
}

// VenuesConfig parameterizes the simulated venues.
type VenuesConfig struct {
	Raydium           VenueProfile `toml:"raydium"`
	Meteora           VenueProfile `toml:"meteora"`
	SettleSuccessRate float64      `toml:"settle_success_rate"`
	SettleLatency     duration     `toml:"settle_latency"`
	// MovementBandPct is the half-width, in percent, of the simulated price
	// movement between quote and build.
	MovementBandPct float64 `toml:"movement_band_pct"`
}

// VenueProfile is one venue's quoting behaviour.
type VenueProfile struct {
	BasePrice float64  `toml:"base_price"`
	Latency   duration `toml:"latency"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is the order submissions each client may make per
	// RateWindow; 0 disables admission metering.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// ClientLimits overrides RateLimit for specific client addresses.
	ClientLimits map[string]int `toml:"client_limits"`
}

// S3Config holds object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// ArchiveConfig schedules the export of old orders to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets TOML carry durations as strings such as "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. config.example.toml mirrors
// these values.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			ClaimTTL:   duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "dexrouter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Streams: StreamsConfig{
			Backend:        "redis",
			Orders:         "order_stream",
			Status:         "status_updates",
			ReadCount:      10,
			ReadBlock:      duration{time.Second},
			RetryDelay:     duration{time.Second},
			OrdersStart:    "$",
			PersisterStart: "0",
		},
		Executor: ExecutorConfig{
			Concurrency:       10,
			MaxRetries:        3,
			BaseDelay:         duration{time.Second},
			PublisherCapacity: 1000,
			PublishRetryDelay: duration{500 * time.Millisecond},
			PersistRetryDelay: duration{time.Second},
			DedupTTL:          duration{time.Hour},
			ShutdownTimeout:   duration{15 * time.Second},
		},
		Venues: VenuesConfig{
			Raydium:           VenueProfile{BasePrice: 220, Latency: duration{200 * time.Millisecond}},
			Meteora:           VenueProfile{BasePrice: 218, Latency: duration{250 * time.Millisecond}},
			SettleSuccessRate: 0.7,
			SettleLatency:     duration{200 * time.Millisecond},
			MovementBandPct:   2,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       3000,
			RateLimit:  100,
			RateWindow: duration{time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "dexrouter-archive",
			ForcePathStyle: true,
			PartSizeMB:     5,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Notify: NotifyConfig{
			Events: []string{"order_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeGateway   = "gateway"
	ModeRouter    = "router"
	ModePersister = "persister"
	ModeFull      = "full"
)

var validModes = map[string]bool{
	ModeGateway:   true,
	ModeRouter:    true,
	ModePersister: true,
	ModeFull:      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the configured mode persists or reads
// terminal orders from PostgreSQL.
func (c *Config) NeedsPostgres() bool {
	if !c.Postgres.Enabled {
		return false
	}
	switch c.Mode {
	case ModeGateway, ModePersister, ModeFull:
		return true
	default:
		return false
	}
}

// Validate checks the configuration and returns one error listing every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: gateway, router, persister, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Streams
	switch c.Streams.Backend {
	case "redis":
	case "memory":
		if c.Mode != ModeFull {
			errs = append(errs, "streams: backend \"memory\" only works in mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("streams: unknown backend %q (valid: redis, memory)", c.Streams.Backend))
	}
	if c.Streams.Orders == "" || c.Streams.Status == "" {
		errs = append(errs, "streams: orders and status must not be empty")
	}
	if c.Streams.Orders == c.Streams.Status {
		errs = append(errs, "streams: orders and status must differ")
	}
	if !validStart(c.Streams.OrdersStart) {
		errs = append(errs, fmt.Sprintf("streams: orders_start must be \"$\" or \"0\", got %q", c.Streams.OrdersStart))
	}
	if !validStart(c.Streams.PersisterStart) {
		errs = append(errs, fmt.Sprintf("streams: persister_start must be \"$\" or \"0\", got %q", c.Streams.PersisterStart))
	}

	// Redis
	if c.Streams.Backend == "redis" || c.Server.RateLimit > 0 {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	} else if !c.Postgres.Enabled && c.Mode == ModePersister {
		errs = append(errs, "postgres: must be enabled for mode persister")
	}

	// Executor
	if c.Executor.Concurrency < 1 {
		errs = append(errs, "executor: concurrency must be >= 1")
	}
	if c.Executor.MaxRetries < 1 {
		errs = append(errs, "executor: max_retries must be >= 1")
	}
	if c.Executor.BaseDelay.Duration < 0 {
		errs = append(errs, "executor: base_delay must not be negative")
	}
	if c.Executor.PublisherCapacity < 1 {
		errs = append(errs, "executor: publisher_capacity must be >= 1")
	}

	// Venues
	if c.Venues.Raydium.BasePrice <= 0 || c.Venues.Meteora.BasePrice <= 0 {
		errs = append(errs, "venues: base_price must be > 0 for every venue")
	}
	if c.Venues.SettleSuccessRate < 0 || c.Venues.SettleSuccessRate > 1 {
		errs = append(errs, fmt.Sprintf("venues: settle_success_rate must be within [0, 1], got %g", c.Venues.SettleSuccessRate))
	}
	if c.Venues.MovementBandPct < 0 {
		errs = append(errs, "venues: movement_band_pct must not be negative")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		for client, n := range c.Server.ClientLimits {
			if n <= 0 {
				errs = append(errs, fmt.Sprintf("server: client_limits[%q] must be > 0, got %d", client, n))
			}
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must not be negative")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "s3: bucket and region are required when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validStart(s string) bool {
	return s == "$" || s == "0"
}
