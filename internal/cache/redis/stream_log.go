package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field that carries the JSON document.
const payloadField = "payload"

// defaultStreamMaxLen is the approximate maximum length for streams, enforced
// via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 100000

// StreamLog implements domain.StreamLog on Redis Streams.
type StreamLog struct {
	rdb    *redis.Client
	maxLen int64
}

// NewStreamLog creates a StreamLog backed by the given Client.
func NewStreamLog(c *Client) *StreamLog {
	return NewStreamLogWithMaxLen(c, defaultStreamMaxLen)
}

// NewStreamLogWithMaxLen creates a StreamLog that trims streams to roughly
// maxLen entries. A non-positive maxLen disables trimming.
func NewStreamLogWithMaxLen(c *Client, maxLen int64) *StreamLog {
	return &StreamLog{rdb: c.rdb, maxLen: maxLen}
}

// Append adds payload to the stream under the payload field using XADD with
// an auto-generated id.
func (l *StreamLog) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			payloadField: payload,
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	id, err := l.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// Read issues XREAD BLOCK for entries after lastID. A block of zero or less
// is treated as "do not block".
func (l *StreamLog) Read(ctx context.Context, stream, lastID string, count int, block time.Duration) ([]domain.StreamEntry, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}
	if block > 0 {
		args.Block = block
	}

	results, err := l.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var entries []domain.StreamEntry
	for _, s := range results {
		for _, msg := range s.Messages {
			entries = append(entries, domain.StreamEntry{
				ID:      msg.ID,
				Payload: payloadBytes(msg.Values[payloadField]),
			})
		}
	}
	return entries, nil
}

// LastID returns the id of the newest entry via XREVRANGE, or "0-0" when the
// stream is empty or does not exist.
func (l *StreamLog) LastID(ctx context.Context, stream string) (string, error) {
	msgs, err := l.rdb.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "0-0", nil
		}
		return "", fmt.Errorf("redis: stream last id %s: %w", stream, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// payloadBytes converts a decoded field value to bytes. Unexpected types
// yield nil so the entry is treated as malformed upstream.
func payloadBytes(v interface{}) []byte {
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return nil
	}
}

// Compile-time interface check.
var _ domain.StreamLog = (*StreamLog)(nil)
