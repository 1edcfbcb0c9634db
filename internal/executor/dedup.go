package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// Dedup prevents an order id from being handed to more than one executor
// within a configurable time-to-live window. It records claims in memory and,
// when next is set, also claims through it so a restarted process that sees
// the same orders entry again does not re-execute it. It is safe for
// concurrent use.
type Dedup struct {
	seen map[string]time.Time // orderID -> claimed at
	ttl  time.Duration
	next domain.OrderClaimer
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers claims for ttl. next may be nil.
func NewDedup(ttl time.Duration, next domain.OrderClaimer) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		next: next,
	}
}

// Claim returns domain.ErrAlreadyClaimed if orderID was claimed within the
// TTL window, locally or through next. Any other error from next is returned
// wrapped; the local claim is kept in that case.
func (d *Dedup) Claim(ctx context.Context, orderID string) error {
	d.mu.Lock()
	now := time.Now()
	if claimedAt, ok := d.seen[orderID]; ok && now.Sub(claimedAt) < d.ttl {
		d.mu.Unlock()
		return domain.ErrAlreadyClaimed
	}
	d.seen[orderID] = now
	d.mu.Unlock()

	if d.next == nil {
		return nil
	}
	if err := d.next.Claim(ctx, orderID); err != nil {
		return fmt.Errorf("executor: claim %s: %w", orderID, err)
	}
	return nil
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Compile-time interface check.
var _ domain.OrderClaimer = (*Dedup)(nil)
