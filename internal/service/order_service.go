// Package service holds the gateway-side use cases: admitting new orders to
// the orders log and reading back persisted outcomes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// OrderService admits orders and serves their persisted outcomes.
type OrderService struct {
	log     domain.StreamLog
	stream  string
	orders  domain.OrderStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	newID   func() string
}

// NewOrderService creates an OrderService that appends admitted orders to
// ordersStream. orders may be nil when no durable store is configured.
func NewOrderService(
	log domain.StreamLog,
	ordersStream string,
	orders domain.OrderStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OrderService {
	if ordersStream == "" {
		ordersStream = domain.StreamOrders
	}
	return &OrderService{
		log:     log,
		stream:  ordersStream,
		orders:  orders,
		metrics: m,
		logger:  logger.With(slog.String("component", "order_service")),
		newID:   func() string { return uuid.New().String() },
	}
}

// Submit validates req, assigns an order id and appends the order to the
// orders log. Invalid requests return an error wrapping
// domain.ErrInvalidOrder and nothing is appended.
func (s *OrderService) Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := req.Validate(); err != nil {
		s.metrics.OrderRejected("validation")
		return domain.Order{}, err
	}

	order := domain.NewOrder(s.newID(), req)
	payload, err := stream.EncodeOrder(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: encode order: %w", err)
	}
	entryID, err := s.log.Append(ctx, s.stream, payload)
	if err != nil {
		s.metrics.OrderRejected("append")
		return domain.Order{}, fmt.Errorf("order_service: append order %s: %w", order.ID, err)
	}

	s.metrics.OrderAdmitted()
	s.logger.InfoContext(ctx, "order admitted",
		slog.String("order_id", order.ID),
		slog.String("entry_id", entryID),
		slog.String("token_in", order.TokenIn),
		slog.String("token_out", order.TokenOut),
		slog.String("amount", order.Amount.String()),
		slog.String("max_slippage", order.MaxSlippage.String()),
	)
	return order, nil
}

// Get returns the persisted terminal outcome of an order, or
// domain.ErrNotFound while it is in flight or unknown.
func (s *OrderService) Get(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	if s.orders == nil {
		return domain.PersistedOrder{}, domain.ErrNotFound
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PersistedOrder{}, err
		}
		return domain.PersistedOrder{}, fmt.Errorf("order_service: get %s: %w", orderID, err)
	}
	return o, nil
}
