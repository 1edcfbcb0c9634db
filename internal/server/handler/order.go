package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// OrderService is the admission and lookup surface used by OrderHandler.
type OrderService interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.PersistedOrder, error)
}

// OrderHandler serves order submission and status lookup.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger.With(slog.String("handler", "orders")),
	}
}

type submitResponse struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

// Execute admits a market order and returns its id. Execution continues
// asynchronously; progress is streamed on the WebSocket endpoint.
// POST /api/orders/execute
func (h *OrderHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := h.orders.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("order submission failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "order could not be queued")
		return
	}

	// Admission only queues the order; the executor owns every later status.
	writeJSON(w, http.StatusCreated, submitResponse{OrderID: order.ID, Status: domain.OrderStatusPending})
}

// Get returns the persisted outcome of an order. In-flight and unknown
// orders are 404.
// GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("order lookup failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}
