// Package archive exports persisted terminal orders to object storage as
// JSON Lines, one object per run.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
)

// Config controls what is archived and when.
type Config struct {
	// Retention is how long a record stays out of the archive after it was
	// persisted.
	Retention time.Duration
	// Cron is a five-field UTC schedule, e.g. "0 3 * * *". Objects are
	// keyed by day, so it should fire at most once a day.
	Cron string
}

// Archiver copies orders older than the retention window to a BlobWriter.
// Rows are never deleted from the store. A watermark keeps successive runs
// from exporting the same rows twice within one process.
type Archiver struct {
	store   domain.OrderStore
	writer  domain.BlobWriter
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	watermark time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(store domain.OrderStore, writer domain.BlobWriter, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:   store,
		writer:  writer,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce exports every record created in [watermark, now-Retention) to
// archive/orders/<cutoff date>.jsonl and returns how many were written.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.cfg.Retention)
	orders, err := a.store.ListBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("archive: list orders before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	n := 0
	for _, o := range orders {
		if o.CreatedAt.Before(a.watermark) {
			continue
		}
		if err := enc.Encode(o); err != nil {
			return 0, fmt.Errorf("archive: encode order %s: %w", o.OrderID, err)
		}
		n++
	}
	if n == 0 {
		a.logger.Debug("nothing to archive", slog.Time("cutoff", cutoff))
		return 0, nil
	}

	path := Path(cutoff)
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archive: upload %s: %w", path, err)
	}

	a.watermark = cutoff
	a.metrics.Archived(n)
	a.logger.Info("orders archived",
		slog.String("path", path),
		slog.Int("count", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}

// Run calls RunOnce on the configured schedule until ctx is cancelled. A
// failed run is logged and retried at the next trigger.
func (a *Archiver) Run(ctx context.Context) error {
	sched, err := parseSchedule(a.cfg.Cron)
	if err != nil {
		return err
	}
	a.logger.Info("archiver started",
		slog.String("cron", a.cfg.Cron),
		slog.Duration("retention", a.cfg.Retention),
	)

	for {
		next, err := sched.next(a.now())
		if err != nil {
			return err
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-t.C:
		}
		if _, err := a.RunOnce(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}
}

// Path returns the object key for a run with the given cutoff.
func Path(cutoff time.Time) string {
	return fmt.Sprintf("archive/orders/%s.jsonl", cutoff.UTC().Format("2006-01-02"))
}
