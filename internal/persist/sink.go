// Package persist records terminal order outcomes from the status stream in
// the durable store, exactly once per order id.
package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// OrderNotifier is told about each newly persisted outcome.
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, o domain.PersistedOrder) error
}

// Sink upserts terminal status events. Replays of an already stored outcome
// are no-ops, so the sink is safe under at-least-once delivery.
type Sink struct {
	store      domain.OrderStore
	notifier   OrderNotifier
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewSink creates a Sink. notifier may be nil.
func NewSink(
	store domain.OrderStore,
	notifier OrderNotifier,
	retryDelay time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Sink {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Sink{
		store:      store,
		notifier:   notifier,
		retryDelay: retryDelay,
		metrics:    m,
		logger:     logger.With(slog.String("component", "persistence_sink")),
	}
}

// HandleEntry satisfies stream.Handler. Non-terminal events are ignored. It
// only returns once the event is stored, or ctx ends.
func (s *Sink) HandleEntry(ctx context.Context, entry domain.StreamEntry) error {
	ev, err := stream.DecodeStatus(entry.Payload)
	if err != nil {
		return err
	}
	if !ev.Terminal() {
		return nil
	}
	_, err = s.Persist(ctx, ev)
	return err
}

// Persist upserts a terminal event, retrying store errors every retryDelay
// until it succeeds or ctx ends.
func (s *Sink) Persist(ctx context.Context, ev domain.StatusEvent) (domain.UpsertResult, error) {
	record := domain.PersistedFromEvent(ev)
	log := s.logger.With(slog.String("order_id", ev.OrderID))

	for {
		res, err := s.store.UpsertIfAbsent(ctx, record)
		if err == nil {
			s.metrics.Persisted(res.String())
			switch res {
			case domain.UpsertInserted:
				log.Info("order outcome persisted", slog.String("status", string(ev.Status)))
				s.notify(ctx, log, record)
			case domain.UpsertAlreadyPresent:
				log.Debug("order outcome already persisted")
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		s.metrics.PersistError()
		log.Warn("order upsert failed, retrying",
			slog.Duration("retry_in", s.retryDelay),
			slog.String("error", err.Error()),
		)
		t := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Sink) notify(ctx context.Context, log *slog.Logger, o domain.PersistedOrder) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrder(ctx, o); err != nil {
		log.Warn("order notification failed", slog.String("error", err.Error()))
	}
}
