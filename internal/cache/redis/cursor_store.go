package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/redis/go-redis/v9"
)

// CursorStore implements domain.CursorStore with one plain string key per
// consumer.
type CursorStore struct {
	client *Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{client: c}
}

// Load returns the saved cursor for consumer or domain.ErrNotFound.
func (s *CursorStore) Load(ctx context.Context, consumer string) (string, error) {
	id, err := s.client.rdb.Get(ctx, s.client.key("cursor", consumer)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: load cursor %s: %w", consumer, err)
	}
	return id, nil
}

// Save overwrites the cursor for consumer. Cursors never expire.
func (s *CursorStore) Save(ctx context.Context, consumer, id string) error {
	if err := s.client.rdb.Set(ctx, s.client.key("cursor", consumer), id, 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", consumer, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CursorStore = (*CursorStore)(nil)
