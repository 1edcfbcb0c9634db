package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Venue names a simulated execution venue.
type Venue string

const (
	VenueRaydium Venue = "raydium"
	VenueMeteora Venue = "meteora"
)

// Venues is the fixed enumeration of venues in tie-break order.
var Venues = []Venue{VenueRaydium, VenueMeteora}

// Quote is a venue's price for a trade size and how long it took to obtain.
type Quote struct {
	Venue   Venue
	Price   decimal.Decimal
	Latency time.Duration
}

// PriceOracle quotes a trade size on a single venue.
type PriceOracle interface {
	Quote(ctx context.Context, venue Venue, amount decimal.Decimal) (Quote, error)
}

// Settler performs one settlement attempt for a submitted transaction.
type Settler interface {
	// Settle returns nil on success. Any error counts as a failed attempt.
	Settle(ctx context.Context, venue Venue, txHash string) error
}
