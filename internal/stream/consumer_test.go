package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) handle(_ context.Context, e domain.StreamEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, e.ID)
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func runConsumer(t *testing.T, c *Consumer, h Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestConsumerDeliversInOrderAndSkipsMalformed(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	id1, _ := log.Append(ctx, "s", []byte("a"))
	id2, _ := log.Append(ctx, "s", nil)
	id3, _ := log.Append(ctx, "s", []byte("c"))

	c := NewConsumer(log, nil, Config{Stream: "s", Start: domain.CursorBeginning, Block: 20 * time.Millisecond}, nil, discardLogger())
	var col collector
	cancel, done := runConsumer(t, c, col.handle)

	require.Eventually(t, func() bool { return c.Cursor() == id3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{id1, id2, id3}, col.seen())
}

func TestConsumerResolvesLatest(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	_, _ = log.Append(ctx, "s", []byte("old"))
	last, _ := log.Append(ctx, "s", []byte("old"))

	c := NewConsumer(log, nil, Config{Stream: "s"}, nil, discardLogger())
	start, err := c.resolveStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, start)
}

func TestConsumerWakesOnAppend(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	c := NewConsumer(log, nil, Config{Stream: "s", Start: domain.CursorBeginning, Block: time.Minute}, nil, discardLogger())
	var col collector
	cancel, done := runConsumer(t, c, col.handle)

	id, _ := log.Append(ctx, "s", []byte("x"))
	require.Eventually(t, func() bool { return len(col.seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{id}, col.seen())

	cancel()
	<-done
}

func TestConsumerCheckpointResume(t *testing.T) {
	log := NewMemoryLog()
	cursors := NewMemoryCursors()
	ctx := context.Background()
	id1, _ := log.Append(ctx, "s", []byte("a"))
	id2, _ := log.Append(ctx, "s", []byte("b"))
	require.NoError(t, cursors.Save(ctx, "sink", id1))

	cfg := Config{Stream: "s", Name: "sink", Start: domain.CursorBeginning, Checkpoint: true, Block: 20 * time.Millisecond}
	c := NewConsumer(log, cursors, cfg, nil, discardLogger())
	var col collector
	cancel, done := runConsumer(t, c, col.handle)

	require.Eventually(t, func() bool {
		saved, err := cursors.Load(ctx, "sink")
		return err == nil && saved == id2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{id2}, col.seen())
}

type flakyLog struct {
	*MemoryLog
	mu    sync.Mutex
	fails int
}

func (f *flakyLog) Read(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamEntry, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	f.mu.Unlock()
	return f.MemoryLog.Read(ctx, stream, lastID, count, block)
}

func TestConsumerRetriesReadErrors(t *testing.T) {
	log := &flakyLog{MemoryLog: NewMemoryLog(), fails: 2}
	id, _ := log.Append(context.Background(), "s", []byte("a"))

	cfg := Config{Stream: "s", Start: domain.CursorBeginning, Block: 20 * time.Millisecond, RetryDelay: time.Millisecond}
	c := NewConsumer(log, nil, cfg, nil, discardLogger())
	var col collector
	cancel, done := runConsumer(t, c, col.handle)

	require.Eventually(t, func() bool { return len(col.seen()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []string{id}, col.seen())
}

func TestMemoryLogReadTimeout(t *testing.T) {
	log := NewMemoryLog()
	start := time.Now()
	entries, err := log.Read(context.Background(), "s", "0", 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
