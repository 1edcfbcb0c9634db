package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/google/uuid"
)

// defaultClaimTTL bounds how long a claim survives; well past any redelivery
// window of the orders stream.
const defaultClaimTTL = 24 * time.Hour

// OrderClaimer implements domain.OrderClaimer using Redis SETNX with a TTL.
// Each claimer instance writes its own token so operators can tell which
// process picked up an order.
type OrderClaimer struct {
	client *Client
	token  string
	ttl    time.Duration
}

// NewOrderClaimer creates an OrderClaimer backed by the given Client. A
// non-positive ttl selects the default of 24h.
func NewOrderClaimer(c *Client, ttl time.Duration) *OrderClaimer {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &OrderClaimer{
		client: c,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Claim records orderID as taken. It returns domain.ErrAlreadyClaimed if any
// claimer, including this one, took it before.
func (c *OrderClaimer) Claim(ctx context.Context, orderID string) error {
	ok, err := c.client.rdb.SetNX(ctx, c.client.key("claim", "order", orderID), c.token, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: claim order %s: %w", orderID, err)
	}
	if !ok {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderClaimer = (*OrderClaimer)(nil)
