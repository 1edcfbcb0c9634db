// Package memory implements domain.OrderStore in process memory for
// single-process runs without PostgreSQL, and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// OrderStore keeps terminal order records in a map keyed by order id.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.PersistedOrder
	now    func() time.Time
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]domain.PersistedOrder),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpsertIfAbsent stores o unless a record for its id exists.
func (s *OrderStore) UpsertIfAbsent(ctx context.Context, o domain.PersistedOrder) (domain.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.OrderID]; ok {
		return domain.UpsertAlreadyPresent, nil
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.OrderID] = o
	return domain.UpsertInserted, nil
}

// GetByID returns the record for orderID or domain.ErrNotFound.
func (s *OrderStore) GetByID(_ context.Context, orderID string) (domain.PersistedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.PersistedOrder{}, domain.ErrNotFound
	}
	return o, nil
}

// ListBefore returns records created before the cutoff, oldest first.
func (s *OrderStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.PersistedOrder, error) {
	s.mu.Lock()
	var out []domain.PersistedOrder
	for _, o := range s.orders {
		if o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *OrderStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
