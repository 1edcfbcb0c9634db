package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/config"
	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/store/memory"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memoryConfig runs every mode in one process without Redis or Postgres.
func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = config.ModeFull
	cfg.Streams.Backend = "memory"
	cfg.Streams.OrdersStart = "0"
	cfg.Postgres.Enabled = false
	cfg.Server.Enabled = false
	cfg.Server.RateLimit = 0
	return &cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestWireMemory(t *testing.T) {
	cfg := memoryConfig()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Log)
	assert.NotNil(t, deps.Cursors)
	assert.IsType(t, &memory.OrderStore{}, deps.OrderStore)
	assert.Nil(t, deps.Claims)
	assert.Nil(t, deps.Admission)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.HealthChecks)
	assert.False(t, deps.Notifier.Enabled())
}

func TestWireRedisRouter(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Mode = config.ModeRouter
	cfg.Redis.Addr = mr.Addr()
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Log)
	assert.NotNil(t, deps.Claims)
	assert.NotNil(t, deps.Admission)
	assert.Nil(t, deps.OrderStore)
	require.Contains(t, deps.HealthChecks, "redis")
	assert.NoError(t, deps.HealthChecks["redis"](context.Background()))
}

func TestWireRedisUnreachable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = config.ModeRouter
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := Wire(ctx, &cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: redis")
}

func TestRunStopsOnCancel(t *testing.T) {
	a := New(memoryConfig(), discard())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunUnsupportedMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	err := New(cfg, discard()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestFullModeExecutesAndPersists(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.Enabled = true
	cfg.Server.Port = freePort(t)
	cfg.Venues.Raydium.Latency.Duration = 0
	cfg.Venues.Meteora.Latency.Duration = 0
	cfg.Venues.SettleLatency.Duration = 0
	cfg.Venues.SettleSuccessRate = 1
	cfg.Venues.MovementBandPct = 0
	cfg.Streams.ReadBlock.Duration = 20 * time.Millisecond
	require.NoError(t, cfg.Validate())

	a := New(cfg, discard())
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body := []byte(`{"token_in":"SOL","token_out":"USDC","amount":"1.5"}`)
	resp, err := http.Post(base+"/api/orders/execute", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var admitted struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&admitted))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, admitted.OrderID)
	assert.Equal(t, "pending", admitted.Status)

	var rec domain.PersistedOrder
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/orders/" + admitted.OrderID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&rec) == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, admitted.OrderID, rec.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, rec.Status)
	require.NotNil(t, rec.TxHash)
	require.NotNil(t, rec.ExecutionPrice)
	assert.True(t, rec.ExecutionPrice.IsPositive())
}
