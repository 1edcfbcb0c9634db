package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// MemoryLog is an in-process domain.StreamLog with Redis-style ids and
// blocking reads. It backs single-process runs and tests.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamEntry
	seq     uint64
	wake    chan struct{}
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		streams: make(map[string][]domain.StreamEntry),
		wake:    make(chan struct{}),
	}
}

// Append stores payload and wakes blocked readers.
func (l *MemoryLog) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	id := fmt.Sprintf("%d-0", l.seq)
	var p []byte
	if payload != nil {
		p = append([]byte(nil), payload...)
	}
	l.streams[stream] = append(l.streams[stream], domain.StreamEntry{ID: id, Payload: p})

	close(l.wake)
	l.wake = make(chan struct{})
	return id, nil
}

// Read returns entries after lastID, waiting up to block for one to arrive.
func (l *MemoryLog) Read(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamEntry, error) {
	after, err := parseID(lastID)
	if err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		deadline = t.C
	}

	for {
		l.mu.Lock()
		if lastID == domain.CursorLatest {
			after = l.lastLocked(stream)
			lastID = formatID(after)
		}
		out := l.afterLocked(stream, after, count)
		wake := l.wake
		l.mu.Unlock()

		if len(out) > 0 || deadline == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wake:
		}
	}
}

// LastID returns the newest id, or "0-0" for an empty stream.
func (l *MemoryLog) LastID(ctx context.Context, stream string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return formatID(l.lastLocked(stream)), nil
}

// Entries returns a copy of every entry in stream.
func (l *MemoryLog) Entries(stream string) []domain.StreamEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.StreamEntry(nil), l.streams[stream]...)
}

// Len returns the number of entries in stream.
func (l *MemoryLog) Len(stream string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams[stream])
}

func (l *MemoryLog) lastLocked(stream string) streamID {
	entries := l.streams[stream]
	if len(entries) == 0 {
		return streamID{}
	}
	id, _ := parseID(entries[len(entries)-1].ID)
	return id
}

func (l *MemoryLog) afterLocked(stream string, after streamID, count int) []domain.StreamEntry {
	var out []domain.StreamEntry
	for _, e := range l.streams[stream] {
		id, _ := parseID(e.ID)
		if !after.less(id) {
			continue
		}
		out = append(out, e)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out
}

type streamID struct {
	ms, seq uint64
}

func (a streamID) less(b streamID) bool {
	if a.ms != b.ms {
		return a.ms < b.ms
	}
	return a.seq < b.seq
}

func formatID(id streamID) string {
	return fmt.Sprintf("%d-%d", id.ms, id.seq)
}

func parseID(s string) (streamID, error) {
	if s == domain.CursorLatest {
		return streamID{}, nil
	}
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("stream: invalid id %q", s)
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return streamID{}, fmt.Errorf("stream: invalid id %q", s)
		}
	}
	return streamID{ms: ms, seq: seq}, nil
}

// MemoryCursors is an in-process domain.CursorStore.
type MemoryCursors struct {
	mu      sync.Mutex
	cursors map[string]string
}

// NewMemoryCursors creates an empty MemoryCursors.
func NewMemoryCursors() *MemoryCursors {
	return &MemoryCursors{cursors: make(map[string]string)}
}

func (m *MemoryCursors) Load(_ context.Context, consumer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.cursors[consumer]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

func (m *MemoryCursors) Save(_ context.Context, consumer, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[consumer] = id
	return nil
}

// Compile-time interface checks.
var (
	_ domain.StreamLog   = (*MemoryLog)(nil)
	_ domain.CursorStore = (*MemoryCursors)(nil)
)
