package venue

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// Movement yields the price change, in percent, observed between quoting and
// building a transaction.
type Movement interface {
	Next() decimal.Decimal
}

// UniformMovement draws uniformly from [-Band, +Band) percent.
type UniformMovement struct {
	band float64
	rnd  func() float64
}

// NewUniformMovement creates a UniformMovement over ±band percent. A nil rnd
// uses math/rand/v2.
func NewUniformMovement(band float64, rnd func() float64) *UniformMovement {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &UniformMovement{band: band, rnd: rnd}
}

// Next returns (r - 0.5) * 2 * band for r in [0, 1).
func (m *UniformMovement) Next() decimal.Decimal {
	return decimal.NewFromFloat((m.rnd() - 0.5) * 2 * m.band).Round(6)
}

// FixedMovement always returns the same movement.
type FixedMovement decimal.Decimal

// Next returns the fixed movement.
func (m FixedMovement) Next() decimal.Decimal {
	return decimal.Decimal(m)
}
