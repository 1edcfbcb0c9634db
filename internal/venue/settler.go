package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// ErrSettlementRejected is returned for a simulated failed attempt.
var ErrSettlementRejected = errors.New("settlement rejected")

// MockSettler implements domain.Settler. Each attempt succeeds with a fixed
// probability after a fixed latency.
type MockSettler struct {
	successRate float64
	latency     time.Duration
	rnd         func() float64
}

// NewMockSettler creates a MockSettler. A nil rnd uses math/rand/v2.
func NewMockSettler(successRate float64, latency time.Duration, rnd func() float64) *MockSettler {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &MockSettler{successRate: successRate, latency: latency, rnd: rnd}
}

// Settle simulates one attempt to land txHash on venue.
func (s *MockSettler) Settle(ctx context.Context, venue domain.Venue, txHash string) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("venue: settle %s on %s: %w", txHash, venue, ctx.Err())
		case <-t.C:
		}
	}
	if s.rnd() >= s.successRate {
		return fmt.Errorf("venue: settle %s on %s: %w", txHash, venue, ErrSettlementRejected)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Settler = (*MockSettler)(nil)
