package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/venue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects published events in order.
// With honorCtx set it rejects events on a done context like Publisher.
type recorder struct {
	mu       sync.Mutex
	events   []domain.StatusEvent
	err      error
	honorCtx bool
}

func (r *recorder) Publish(ctx context.Context, ev domain.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) statuses(orderID string) []domain.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderStatus
	for _, ev := range r.events {
		if ev.OrderID == orderID {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (r *recorder) last() domain.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

// fixedOracle quotes a fixed price per venue; venues in errs fail.
type fixedOracle struct {
	prices map[domain.Venue]string
	errs   map[domain.Venue]error
}

func (o fixedOracle) Quote(_ context.Context, v domain.Venue, _ decimal.Decimal) (domain.Quote, error) {
	if err := o.errs[v]; err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Venue: v, Price: decimal.RequireFromString(o.prices[v])}, nil
}

// scriptedSettler returns results in order, then repeats the last one.
type scriptedSettler struct {
	mu       sync.Mutex
	results  []error
	attempts int
	venue    domain.Venue
}

func (s *scriptedSettler) Settle(_ context.Context, v domain.Venue, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venue = v
	i := s.attempts
	s.attempts++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

var errRejected = errors.New("rejected")

func defaultOracle() fixedOracle {
	return fixedOracle{prices: map[domain.Venue]string{
		domain.VenueRaydium: "220",
		domain.VenueMeteora: "218",
	}}
}

func testOrder(id string, slippage string) domain.Order {
	s := decimal.RequireFromString(slippage)
	return domain.NewOrder(id, domain.OrderRequest{
		TokenIn:     "SOL",
		TokenOut:    "USDC",
		Amount:      decimal.NewFromInt(10),
		MaxSlippage: &s,
	})
}

func newTestExecutor(oracle domain.PriceOracle, settler domain.Settler, movement string, rec *recorder) *Executor {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	return NewExecutor(oracle, settler, venue.FixedMovement(decimal.RequireFromString(movement)), rec, cfg, nil, discardLogger())
}

func TestExecuteConfirmed(t *testing.T) {
	rec := &recorder{}
	settler := &scriptedSettler{results: []error{nil}}
	e := newTestExecutor(defaultOracle(), settler, "1", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))

	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusRouting,
		domain.OrderStatusBuilding,
		domain.OrderStatusSubmitted,
		domain.OrderStatusConfirmed,
	}, rec.statuses("ord-1"))

	final := rec.last()
	require.NotNil(t, final.TxHash)
	assert.True(t, strings.HasPrefix(*final.TxHash, "0x"))
	assert.Len(t, *final.TxHash, 66)
	require.NotNil(t, final.ExecutionPrice)
	assert.True(t, final.ExecutionPrice.Equal(decimal.RequireFromString("222.2")), final.ExecutionPrice.String())
	assert.Equal(t, "raydium", final.Venue)
	assert.Equal(t, domain.VenueRaydium, settler.venue)
	assert.Equal(t, 1, settler.attempts)
}

func TestExecuteSubmittedCarriesSameTxHash(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(defaultOracle(), &scriptedSettler{results: []error{nil}}, "0", rec)
	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))

	var submitted, confirmed *string
	for _, ev := range rec.events {
		switch ev.Status {
		case domain.OrderStatusSubmitted:
			submitted = ev.TxHash
		case domain.OrderStatusConfirmed:
			confirmed = ev.TxHash
		}
	}
	require.NotNil(t, submitted)
	require.NotNil(t, confirmed)
	assert.Equal(t, *submitted, *confirmed)
}

func TestExecuteSlippageRejection(t *testing.T) {
	rec := &recorder{}
	settler := &scriptedSettler{results: []error{nil}}
	e := newTestExecutor(defaultOracle(), settler, "-3", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.02")))

	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusRouting,
		domain.OrderStatusFailed,
	}, rec.statuses("ord-1"))
	require.NotNil(t, rec.last().Reason)
	assert.Equal(t, "price moved 3.00% (max allowed 2.00%)", *rec.last().Reason)
	assert.Nil(t, rec.last().TxHash)
	assert.Zero(t, settler.attempts)
}

func TestExecuteMovementAtLimitPasses(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(defaultOracle(), &scriptedSettler{results: []error{nil}}, "2", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.02")))
	assert.Equal(t, domain.OrderStatusConfirmed, rec.last().Status)
}

func TestExecuteRetryBoundExhausted(t *testing.T) {
	rec := &recorder{}
	settler := &scriptedSettler{results: []error{errRejected}}
	e := newTestExecutor(defaultOracle(), settler, "0", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))

	assert.Equal(t, 3, settler.attempts)
	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusRouting,
		domain.OrderStatusBuilding,
		domain.OrderStatusSubmitted,
		domain.OrderStatusFailed,
	}, rec.statuses("ord-1"))
	require.NotNil(t, rec.last().Reason)
	assert.Equal(t, "execution failed after 3 attempts", *rec.last().Reason)
}

func TestExecuteConfirmsOnLastAttempt(t *testing.T) {
	rec := &recorder{}
	settler := &scriptedSettler{results: []error{errRejected, errRejected, nil}}
	e := newTestExecutor(defaultOracle(), settler, "0", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))
	assert.Equal(t, 3, settler.attempts)
	assert.Equal(t, domain.OrderStatusConfirmed, rec.last().Status)
}

func TestBestQuoteSelection(t *testing.T) {
	cases := []struct {
		name   string
		oracle fixedOracle
		want   domain.Venue
	}{
		{
			name:   "highest price wins",
			oracle: fixedOracle{prices: map[domain.Venue]string{domain.VenueRaydium: "218", domain.VenueMeteora: "219"}},
			want:   domain.VenueMeteora,
		},
		{
			name:   "tie goes to first venue",
			oracle: fixedOracle{prices: map[domain.Venue]string{domain.VenueRaydium: "219", domain.VenueMeteora: "219.00"}},
			want:   domain.VenueRaydium,
		},
		{
			name: "failing venue is skipped",
			oracle: fixedOracle{
				prices: map[domain.Venue]string{domain.VenueRaydium: "300", domain.VenueMeteora: "218"},
				errs:   map[domain.Venue]error{domain.VenueRaydium: errors.New("timeout")},
			},
			want: domain.VenueMeteora,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settler := &scriptedSettler{results: []error{nil}}
			e := newTestExecutor(tc.oracle, settler, "0", &recorder{})
			require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))
			assert.Equal(t, tc.want, settler.venue)
		})
	}
}

func TestExecuteNoQuotes(t *testing.T) {
	rec := &recorder{}
	oracle := fixedOracle{errs: map[domain.Venue]error{
		domain.VenueRaydium: errors.New("down"),
		domain.VenueMeteora: errors.New("down"),
	}}
	e := newTestExecutor(oracle, &scriptedSettler{results: []error{nil}}, "0", rec)

	require.NoError(t, e.Execute(context.Background(), testOrder("ord-1", "0.05")))
	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusRouting,
		domain.OrderStatusFailed,
	}, rec.statuses("ord-1"))
	assert.Equal(t, "no venue quotes available", *rec.last().Reason)
}

func TestExecutePublishFailureAborts(t *testing.T) {
	rec := &recorder{err: domain.ErrPublisherClosed}
	settler := &scriptedSettler{results: []error{nil}}
	e := newTestExecutor(defaultOracle(), settler, "0", rec)

	err := e.Execute(context.Background(), testOrder("ord-1", "0.05"))
	assert.ErrorIs(t, err, domain.ErrPublisherClosed)
	assert.Zero(t, settler.attempts)
}

func TestExecuteCancelledDuringBackoffClosesOut(t *testing.T) {
	rec := &recorder{honorCtx: true}
	settler := &scriptedSettler{results: []error{errRejected}}
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Hour
	e := NewExecutor(defaultOracle(), settler, venue.FixedMovement(decimal.Zero), rec, cfg, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Execute(ctx, testOrder("ord-1", "0.05"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusRouting,
		domain.OrderStatusBuilding,
		domain.OrderStatusSubmitted,
		domain.OrderStatusFailed,
	}, rec.statuses("ord-1"))
	last := rec.last()
	require.NotNil(t, last.Reason)
	assert.Equal(t, AbortReason, *last.Reason)
	assert.Equal(t, 1, settler.attempts)
}

func TestExecuteCancelledBeforeStartClosesOut(t *testing.T) {
	rec := &recorder{honorCtx: true}
	settler := &scriptedSettler{results: []error{nil}}
	e := newTestExecutor(cancelledOracle{}, settler, "0", rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, testOrder("ord-1", "0.05"))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusFailed}, rec.statuses("ord-1"))
	assert.Zero(t, settler.attempts)
}

func TestExecuteConfirmationSurvivesCancel(t *testing.T) {
	rec := &recorder{honorCtx: true}
	ctx, cancel := context.WithCancel(context.Background())
	settler := &cancellingSettler{cancel: cancel}
	e := newTestExecutor(defaultOracle(), settler, "0", rec)

	require.NoError(t, e.Execute(ctx, testOrder("ord-1", "0.05")))
	assert.Equal(t, domain.OrderStatusConfirmed, rec.last().Status)
}

// cancelledOracle fails like a real venue call on a cancelled context.
type cancelledOracle struct{}

func (cancelledOracle) Quote(ctx context.Context, v domain.Venue, _ decimal.Decimal) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Venue: v, Price: decimal.NewFromInt(220)}, nil
}

// cancellingSettler lands the transaction and then cancels the caller, as a
// shutdown racing the confirmation would.
type cancellingSettler struct {
	cancel context.CancelFunc
}

func (s *cancellingSettler) Settle(context.Context, domain.Venue, string) error {
	s.cancel()
	return nil
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoff(time.Second, 2))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
}

func TestSyntheticTxHashUnique(t *testing.T) {
	a := syntheticTxHash("ord-1")
	b := syntheticTxHash("ord-1")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 66)
}

// TestExecuteSequencesAreValidPrefixes drives many orders with random
// movement and settlement outcomes and checks every observed sequence.
func TestExecuteSequencesAreValidPrefixes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var rngMu sync.Mutex
	rnd := func() float64 {
		rngMu.Lock()
		defer rngMu.Unlock()
		return rng.Float64()
	}

	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.BaseDelay = 0
	profiles := venue.DefaultProfiles()
	for k, p := range profiles {
		p.Latency = 0
		profiles[k] = p
	}
	e := NewExecutor(
		venue.NewMockOracle(profiles, rnd),
		venue.NewMockSettler(0.7, 0, rnd),
		venue.NewUniformMovement(2, rnd),
		rec, cfg, nil, discardLogger(),
	)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slippage := []string{"0.011", "0.015", "0.02", "0.05"}[i%4]
			assert.NoError(t, e.Execute(context.Background(), testOrder(fmt.Sprintf("ord-%d", i), slippage)))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		seq := rec.statuses(fmt.Sprintf("ord-%d", i))
		require.NotEmpty(t, seq)
		assert.Equal(t, domain.OrderStatusPending, seq[0])
		for j := 1; j < len(seq); j++ {
			assert.True(t, seq[j-1].CanTransition(seq[j]), "%v", seq)
		}
		terminals := 0
		for _, s := range seq {
			if s.Terminal() {
				terminals++
			}
		}
		assert.Equal(t, 1, terminals, "%v", seq)
		assert.True(t, seq[len(seq)-1].Terminal())
	}
}
