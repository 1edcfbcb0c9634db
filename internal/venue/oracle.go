// Package venue simulates the execution venues: per-venue price quotes,
// settlement attempts and short-term price movement. Every source of
// randomness is injectable so the executor can be driven deterministically.
package venue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// Profile describes how a simulated venue quotes.
type Profile struct {
	// BasePrice is the reference price before the quote spread is applied.
	BasePrice decimal.Decimal
	// Latency is how long a quote takes to return.
	Latency time.Duration
}

// DefaultProfiles returns the built-in venue profiles.
func DefaultProfiles() map[domain.Venue]Profile {
	return map[domain.Venue]Profile{
		domain.VenueRaydium: {BasePrice: decimal.NewFromInt(220), Latency: 200 * time.Millisecond},
		domain.VenueMeteora: {BasePrice: decimal.NewFromInt(218), Latency: 250 * time.Millisecond},
	}
}

// quoteSpread is the width of the band a quote is drawn from, centred on the
// base price (±0.5%).
var quoteSpread = decimal.RequireFromString("0.01")

// MockOracle implements domain.PriceOracle with randomized quotes around a
// per-venue base price.
type MockOracle struct {
	profiles map[domain.Venue]Profile
	rnd      func() float64
}

// NewMockOracle creates a MockOracle. A nil rnd uses math/rand/v2.
func NewMockOracle(profiles map[domain.Venue]Profile, rnd func() float64) *MockOracle {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return &MockOracle{profiles: profiles, rnd: rnd}
}

// Quote waits for the venue's latency and returns
// base * (0.995 + r*0.01) for r in [0, 1).
func (o *MockOracle) Quote(ctx context.Context, venue domain.Venue, amount decimal.Decimal) (domain.Quote, error) {
	p, ok := o.profiles[venue]
	if !ok {
		return domain.Quote{}, fmt.Errorf("venue: quote %s: %w", venue, domain.ErrUnknownVenue)
	}

	start := time.Now()
	if p.Latency > 0 {
		t := time.NewTimer(p.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.Quote{}, fmt.Errorf("venue: quote %s: %w", venue, ctx.Err())
		case <-t.C:
		}
	}

	factor := decimal.RequireFromString("0.995").
		Add(decimal.NewFromFloat(o.rnd()).Mul(quoteSpread))
	return domain.Quote{
		Venue:   venue,
		Price:   p.BasePrice.Mul(factor).Round(8),
		Latency: time.Since(start),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*MockOracle)(nil)
