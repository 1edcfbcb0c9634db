package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

func TestUpsertIfAbsentConcurrent(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan domain.UpsertResult, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.UpsertIfAbsent(ctx, domain.PersistedOrder{OrderID: "a", Status: domain.OrderStatusConfirmed})
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	inserted := 0
	for r := range results {
		if r == domain.UpsertInserted {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, s.Len())
}

func TestGetByID(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	_, err := s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UpsertIfAbsent(ctx, domain.PersistedOrder{OrderID: "a", Status: domain.OrderStatusFailed})
	require.NoError(t, err)
	o, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
	assert.False(t, o.CreatedAt.IsZero())
}

func TestListBefore(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Hour)
	}

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.UpsertIfAbsent(ctx, domain.PersistedOrder{OrderID: id, Status: domain.OrderStatusConfirmed})
		require.NoError(t, err)
	}

	got, err := s.ListBefore(ctx, base.Add(150*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].OrderID)
	assert.Equal(t, "b", got[1].OrderID)

	got, err = s.ListBefore(ctx, base.Add(24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].OrderID)
}
