package fanout

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// Router delivers each status entry to the order's registered subscriber and
// retires the registration once the order is terminal.
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRouter creates a Router over registry.
func NewRouter(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		metrics:  m,
		logger:   logger.With(slog.String("component", "fanout_router")),
	}
}

// HandleEntry satisfies stream.Handler. Only malformed entries yield an
// error; a missing subscriber or a failed delivery does not.
func (r *Router) HandleEntry(_ context.Context, entry domain.StreamEntry) error {
	ev, err := stream.DecodeStatus(entry.Payload)
	if err != nil {
		return err
	}

	sub, ok := r.registry.Lookup(ev.OrderID)
	if !ok {
		r.metrics.FanoutMissed()
		return nil
	}

	if err := sub.Deliver(entry.Payload); err != nil {
		r.logger.Warn("status delivery failed",
			slog.String("order_id", ev.OrderID),
			slog.String("status", string(ev.Status)),
			slog.String("error", err.Error()),
		)
	} else {
		r.metrics.FanoutDelivered()
	}

	// A subscriber that registered after the lookup missed this terminal
	// event and would never hear from the order again, so it goes too.
	if ev.Terminal() {
		if cur, ok := r.registry.Remove(ev.OrderID); ok {
			cur.Close()
		}
	}
	return nil
}
