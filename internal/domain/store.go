package domain

import (
	"context"
	"time"
)

// OrderStore persists terminal order outcomes.
type OrderStore interface {
	// UpsertIfAbsent inserts the record unless one already exists for the
	// order id. It never overwrites an existing row.
	UpsertIfAbsent(ctx context.Context, order PersistedOrder) (UpsertResult, error)
	GetByID(ctx context.Context, orderID string) (PersistedOrder, error)
	// ListBefore returns records created strictly before the cutoff, oldest
	// first.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]PersistedOrder, error)
}
