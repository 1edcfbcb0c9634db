package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// PublisherConfig sizes the publisher queue.
type PublisherConfig struct {
	// Stream is the status log key.
	Stream string
	// Capacity bounds the queue; producers block when it is full.
	Capacity int
	// RetryDelay is the pause before retrying a failed append.
	RetryDelay time.Duration
}

// DefaultPublisherConfig returns the default queue settings.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Stream:     domain.StreamStatus,
		Capacity:   1000,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Publisher is a many-producer, single-consumer queue in front of the status
// stream. Run is the only goroutine that appends, so events reach the stream
// in the order they were accepted.
type Publisher struct {
	log     domain.StreamLog
	cfg     PublisherConfig
	queue   chan domain.StatusEvent
	closing chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. Run must be started for events to flow.
func NewPublisher(log domain.StreamLog, cfg PublisherConfig, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if cfg.Stream == "" {
		cfg.Stream = domain.StreamStatus
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Publisher{
		log:     log,
		cfg:     cfg,
		queue:   make(chan domain.StatusEvent, cfg.Capacity),
		closing: make(chan struct{}),
		metrics: m,
		logger:  logger.With(slog.String("component", "status_publisher")),
	}
}

// Publish enqueues ev, blocking while the queue is full. It returns
// domain.ErrPublisherClosed after Close, or ctx.Err() if ctx ends first.
func (p *Publisher) Publish(ctx context.Context, ev domain.StatusEvent) error {
	select {
	case <-p.closing:
		return domain.ErrPublisherClosed
	default:
	}
	select {
	case p.queue <- ev:
		return nil
	case <-p.closing:
		return domain.ErrPublisherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Run drains what is already queued and
// returns. Close is safe to call more than once.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.closing) })
}

// Len returns the number of queued events.
func (p *Publisher) Len() int {
	return len(p.queue)
}

// Run appends queued events to the status stream until Close or ctx ends.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("status publisher started", slog.String("stream", p.cfg.Stream))
	defer p.logger.Info("status publisher stopped")

	for {
		select {
		case ev := <-p.queue:
			p.append(ctx, ev)
		case <-p.closing:
			p.drain(ctx)
			return nil
		case <-ctx.Done():
			if n := len(p.queue); n > 0 {
				p.logger.Warn("status publisher stopped with queued events", slog.Int("queued", n))
			}
			return ctx.Err()
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			p.append(ctx, ev)
		default:
			return
		}
	}
}

// append writes ev, retrying transient failures until it lands or ctx ends.
func (p *Publisher) append(ctx context.Context, ev domain.StatusEvent) {
	p.metrics.PublisherDepth(len(p.queue))

	payload, err := stream.EncodeStatus(ev)
	if err != nil {
		p.logger.Error("encode status event",
			slog.String("order_id", ev.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		_, err := p.log.Append(ctx, p.cfg.Stream, payload)
		if err == nil {
			p.metrics.StatusPublished()
			return
		}
		if ctx.Err() != nil {
			p.logger.Error("status event dropped on shutdown",
				slog.String("order_id", ev.OrderID),
				slog.String("status", string(ev.Status)),
			)
			return
		}
		p.metrics.PublishRetry()
		p.logger.Warn("status append failed, retrying",
			slog.String("order_id", ev.OrderID),
			slog.String("status", string(ev.Status)),
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, p.cfg.RetryDelay) {
			return
		}
	}
}
