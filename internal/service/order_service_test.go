package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/store/memory"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSubmitAppendsOrder(t *testing.T) {
	log := stream.NewMemoryLog()
	svc := NewOrderService(log, "", nil, nil, discard())
	svc.newID = func() string { return "ord-1" }

	order, err := svc.Submit(context.Background(), domain.OrderRequest{
		TokenIn:     "SOL",
		TokenOut:    "USDC",
		Amount:      decimal.RequireFromString("1.5"),
		MaxSlippage: dec("0.02"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)

	entries := log.Entries(domain.StreamOrders)
	require.Len(t, entries, 1)
	got, err := stream.DecodeOrder(entries[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.ID)
	assert.Equal(t, domain.OrderTypeMarket, got.OrderType)
	assert.True(t, got.MaxSlippage.Equal(decimal.RequireFromString("0.02")))
}

func TestSubmitDefaultsSlippage(t *testing.T) {
	log := stream.NewMemoryLog()
	svc := NewOrderService(log, "orders", nil, nil, discard())

	order, err := svc.Submit(context.Background(), domain.OrderRequest{
		TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	assert.True(t, order.MaxSlippage.Equal(domain.DefaultSlippage))
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, 1, log.Len("orders"))
}

func TestSubmitRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		req  domain.OrderRequest
	}{
		{"slippage too high", domain.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.NewFromInt(1), MaxSlippage: dec("0.6")}},
		{"slippage at lower bound", domain.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.NewFromInt(1), MaxSlippage: dec("0.01")}},
		{"zero amount", domain.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.Zero}},
		{"missing token", domain.OrderRequest{TokenIn: "SOL", Amount: decimal.NewFromInt(1)}},
		{"same token", domain.OrderRequest{TokenIn: "SOL", TokenOut: "sol", Amount: decimal.NewFromInt(1)}},
		{"limit order", domain.OrderRequest{TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.NewFromInt(1), OrderType: "limit"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := stream.NewMemoryLog()
			svc := NewOrderService(log, "", nil, nil, discard())
			_, err := svc.Submit(context.Background(), tc.req)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
			assert.Zero(t, log.Len(domain.StreamOrders))
		})
	}
}

type failingLog struct{ domain.StreamLog }

func (failingLog) Append(context.Context, string, []byte) (string, error) {
	return "", errors.New("redis down")
}

func TestSubmitAppendFailure(t *testing.T) {
	svc := NewOrderService(failingLog{}, "", nil, nil, discard())
	_, err := svc.Submit(context.Background(), domain.OrderRequest{
		TokenIn: "SOL", TokenOut: "USDC", Amount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	svc := NewOrderService(stream.NewMemoryLog(), "", nil, nil, discard())
	_, err := svc.Get(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	store := memory.NewOrderStore()
	_, err = store.UpsertIfAbsent(ctx, domain.PersistedOrder{OrderID: "x", Status: domain.OrderStatusConfirmed})
	require.NoError(t, err)
	svc = NewOrderService(stream.NewMemoryLog(), "", store, nil, discard())
	o, err := svc.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, o.Status)

	_, err = svc.Get(ctx, "y")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
