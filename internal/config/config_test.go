package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeFull, cfg.Mode)
	assert.Equal(t, "order_stream", cfg.Streams.Orders)
	assert.Equal(t, "status_updates", cfg.Streams.Status)
	assert.Equal(t, 10, cfg.Executor.Concurrency)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, time.Second, cfg.Executor.BaseDelay.Duration)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeFile(t, `
mode = "router"
log_level = "debug"

[executor]
concurrency = 4
base_delay = "250ms"

[venues]
settle_success_rate = 0.9

[venues.raydium]
base_price = 150
latency = "50ms"

[server]
cors_origins = ["https://a.example"]
`)
	t.Setenv("DEXROUTER_REDIS_ADDR", "redis:6380")
	t.Setenv("DEXROUTER_SERVER_CORS_ORIGINS", "https://b.example, https://c.example")
	t.Setenv("DEXROUTER_EXECUTOR_MAX_RETRIES", "5")
	t.Setenv("DEXROUTER_EXECUTOR_CONCURRENCY", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeRouter, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Executor.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.BaseDelay.Duration)
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
	assert.Equal(t, 0.9, cfg.Venues.SettleSuccessRate)
	assert.Equal(t, 150.0, cfg.Venues.Raydium.BasePrice)
	assert.Equal(t, 50*time.Millisecond, cfg.Venues.Raydium.Latency.Duration)
	assert.Equal(t, 218.0, cfg.Venues.Meteora.BasePrice)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Server.CORSOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, `
[executor]
concurency = 4
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "executor.concurency")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Executor.Concurrency = 0
	cfg.Venues.SettleSuccessRate = 1.5
	cfg.Streams.Status = cfg.Streams.Orders
	cfg.Streams.OrdersStart = "1-0"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"executor: concurrency",
		"settle_success_rate",
		"orders and status must differ",
		"orders_start",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateMemoryBackendNeedsFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.Streams.Backend = "memory"
	require.NoError(t, cfg.Validate())

	cfg.Mode = ModeGateway
	assert.ErrorContains(t, cfg.Validate(), "only works in mode full")
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	assert.ErrorContains(t, cfg.Validate(), "s3: bucket and region")
}

func TestLoadClientLimits(t *testing.T) {
	path := writeFile(t, `
[redis]
namespace = "staging"

[server]
rate_limit = 10

[server.client_limits]
"10.0.0.5" = 500
`)
	t.Setenv("DEXROUTER_SERVER_RATE_WINDOW", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Redis.Namespace)
	assert.Equal(t, 10, cfg.Server.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, map[string]int{"10.0.0.5": 500}, cfg.Server.ClientLimits)
	require.NoError(t, cfg.Validate())

	cfg.Server.ClientLimits["10.0.0.6"] = 0
	assert.ErrorContains(t, cfg.Validate(), `client_limits["10.0.0.6"]`)
}

func TestNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	for mode, want := range map[string]bool{
		ModeGateway:   true,
		ModeRouter:    false,
		ModePersister: true,
		ModeFull:      true,
	} {
		cfg.Mode = mode
		assert.Equal(t, want, cfg.NeedsPostgres(), mode)
	}
	cfg.Postgres.Enabled = false
	cfg.Mode = ModeFull
	assert.False(t, cfg.NeedsPostgres())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.CORSOrigins = []string{"https://a.example"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Redis.Password)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Server.APIKey)

	assert.Equal(t, "hunter2", cfg.Redis.Password)
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "https://a.example", cfg.Server.CORSOrigins[0])
}
