// Package stream tails a durable log as a restartable sequence of entries and
// defines the strict wire schemas of the orders and status streams.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
)

// Handler processes one entry. A returned error drops the entry with a
// diagnostic; the cursor advances past it either way.
type Handler func(ctx context.Context, entry domain.StreamEntry) error

// Config controls where a Consumer starts and how it reads.
type Config struct {
	// Stream is the log key to tail.
	Stream string
	// Name identifies the consumer in logs, metrics and checkpoints.
	Name string
	// Start is the cursor used when no checkpoint exists: "$" for latest,
	// "0" for the beginning, or a concrete entry id.
	Start string
	// Checkpoint saves the cursor to the CursorStore after every entry.
	Checkpoint bool
	// Count is the maximum number of entries per read.
	Count int
	// Block is how long one read waits for new entries.
	Block time.Duration
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Start == "" {
		c.Start = domain.CursorLatest
	}
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Name == "" {
		c.Name = c.Stream
	}
}

// Consumer delivers the entries of one stream, in order, to a Handler.
type Consumer struct {
	log     domain.StreamLog
	cursors domain.CursorStore
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	cursor string
}

// NewConsumer creates a Consumer. cursors may be nil when cfg.Checkpoint is
// false.
func NewConsumer(
	log domain.StreamLog,
	cursors domain.CursorStore,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Consumer {
	cfg.applyDefaults()
	return &Consumer{
		log:     log,
		cursors: cursors,
		cfg:     cfg,
		metrics: m,
		logger: logger.With(
			slog.String("component", "stream_consumer"),
			slog.String("consumer", cfg.Name),
			slog.String("stream", cfg.Stream),
		),
	}
}

// Cursor returns the id of the last entry handed to the handler, or the
// resolved start position before any entry was delivered.
func (c *Consumer) Cursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Consumer) setCursor(id string) {
	c.mu.Lock()
	c.cursor = id
	c.mu.Unlock()
}

// Run resolves the start cursor and then reads until ctx is cancelled.
// Read failures are retried after RetryDelay and never end the loop.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	cursor, err := c.resolveStart(ctx)
	if err != nil {
		return err
	}
	c.setCursor(cursor)
	c.logger.Info("stream consumer started", slog.String("cursor", cursor))
	defer func() {
		c.logger.Info("stream consumer stopped", slog.String("cursor", c.Cursor()))
	}()

	for {
		entries, err := c.log.Read(ctx, c.cfg.Stream, cursor, c.cfg.Count, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("stream read failed",
				slog.String("cursor", cursor),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, c.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		for _, entry := range entries {
			herr := h(ctx, entry)
			if ctx.Err() != nil {
				// The handler may not have finished; leave the cursor before
				// this entry so it is redelivered on restart.
				return ctx.Err()
			}
			c.metrics.EntryConsumed(c.cfg.Name)
			if herr != nil {
				c.metrics.EntryDropped(c.cfg.Name)
				c.logger.Warn("dropping stream entry",
					slog.String("entry_id", entry.ID),
					slog.String("error", herr.Error()),
				)
			}
			cursor = entry.ID
			c.setCursor(cursor)
			c.checkpoint(ctx, cursor)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// resolveStart picks the checkpoint if one exists, otherwise cfg.Start. A "$"
// start is pinned to the newest existing id so entries appended between
// reads are not skipped.
func (c *Consumer) resolveStart(ctx context.Context) (string, error) {
	start := c.cfg.Start
	if c.cfg.Checkpoint && c.cursors != nil {
		saved, err := c.cursors.Load(ctx, c.cfg.Name)
		switch {
		case err == nil:
			return saved, nil
		case errors.Is(err, domain.ErrNotFound):
		default:
			c.logger.Warn("cursor load failed, using configured start",
				slog.String("start", start),
				slog.String("error", err.Error()),
			)
		}
	}

	if start != domain.CursorLatest {
		return start, nil
	}
	for {
		id, err := c.log.LastID(ctx, c.cfg.Stream)
		if err == nil {
			return id, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("stream last id failed", slog.String("error", err.Error()))
		if !sleep(ctx, c.cfg.RetryDelay) {
			return "", ctx.Err()
		}
	}
}

func (c *Consumer) checkpoint(ctx context.Context, cursor string) {
	if !c.cfg.Checkpoint || c.cursors == nil {
		return
	}
	if err := c.cursors.Save(ctx, c.cfg.Name, cursor); err != nil {
		c.logger.Warn("cursor save failed",
			slog.String("cursor", cursor),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
