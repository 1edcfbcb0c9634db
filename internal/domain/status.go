package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusEvent is a single lifecycle transition as appended to the status log.
type StatusEvent struct {
	OrderID        string           `json:"order_id"`
	Status         OrderStatus      `json:"status"`
	TxHash         *string          `json:"tx_hash,omitempty"`
	Reason         *string          `json:"reason,omitempty"`
	ExecutionPrice *decimal.Decimal `json:"execution_price,omitempty"`
	Venue          string           `json:"venue,omitempty"`
}

// Terminal reports whether the event closes the order's lifecycle.
func (e StatusEvent) Terminal() bool {
	return e.Status.Terminal()
}

// PersistedOrder is the durable record of an order's terminal outcome.
type PersistedOrder struct {
	OrderID        string           `json:"order_id"`
	Status         OrderStatus      `json:"status"`
	TxHash         *string          `json:"tx_hash,omitempty"`
	Reason         *string          `json:"reason,omitempty"`
	ExecutionPrice *decimal.Decimal `json:"execution_price,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PersistedFromEvent maps a terminal status event to its durable record.
// Timestamps are assigned by the store.
func PersistedFromEvent(ev StatusEvent) PersistedOrder {
	return PersistedOrder{
		OrderID:        ev.OrderID,
		Status:         ev.Status,
		TxHash:         ev.TxHash,
		Reason:         ev.Reason,
		ExecutionPrice: ev.ExecutionPrice,
	}
}

// UpsertResult is the outcome of an insert-if-absent write.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota + 1
	UpsertAlreadyPresent
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertAlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}
