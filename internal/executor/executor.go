// Package executor runs the per-order execution state machine, schedules
// executors behind a permit pool and serializes their status events onto the
// status stream.
package executor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/venue"
)

// StatusEmitter accepts status events for publication. It is implemented by
// Publisher.
type StatusEmitter interface {
	Publish(ctx context.Context, ev domain.StatusEvent) error
}

// Config tunes the settlement retry loop.
type Config struct {
	// MaxRetries is the number of settlement attempts before giving up.
	MaxRetries int
	// BaseDelay is the backoff before the second attempt; it doubles after
	// each further failure.
	BaseDelay time.Duration
	// Venues are queried in this order; earlier venues win price ties.
	Venues []domain.Venue
}

// DefaultConfig returns three attempts with a one second base delay over
// every known venue.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Venues:     domain.Venues,
	}
}

var hundred = decimal.NewFromInt(100)

// AbortReason is the failure reason of an order cut short by shutdown.
const AbortReason = "aborted on shutdown"

// abortPublishTimeout bounds the publish of the abort status.
const abortPublishTimeout = 5 * time.Second

// Executor drives one order at a time from pending to a terminal status. A
// single Executor is shared by all in-flight orders; per-order state lives on
// the stack of Execute.
type Executor struct {
	oracle   domain.PriceOracle
	settler  domain.Settler
	movement venue.Movement
	emitter  StatusEmitter
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	txHash func(orderID string) string
}

// NewExecutor creates an Executor.
func NewExecutor(
	oracle domain.PriceOracle,
	settler domain.Settler,
	movement venue.Movement,
	emitter StatusEmitter,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = domain.Venues
	}
	return &Executor{
		oracle:   oracle,
		settler:  settler,
		movement: movement,
		emitter:  emitter,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(slog.String("component", "executor")),
		txHash:   syntheticTxHash,
	}
}

// run is the per-order state carried through Execute.
type run struct {
	order  domain.Order
	status domain.OrderStatus
	venue  domain.Venue
}

// Execute runs order to completion. It returns nil once a terminal status
// was published. An error means a status could not be published or ctx
// ended; in the latter case the order is closed out as failed with
// AbortReason.
func (e *Executor) Execute(ctx context.Context, order domain.Order) error {
	log := e.logger.With(slog.String("order_id", order.ID))
	r := &run{order: order}

	if err := e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusPending}); err != nil {
		return e.abort(ctx, log, r, err)
	}
	if err := e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusRouting}); err != nil {
		return e.abort(ctx, log, r, err)
	}

	best, err := e.bestQuote(ctx, order.Amount, log)
	if err != nil {
		if ctx.Err() != nil {
			return e.abort(ctx, log, r, ctx.Err())
		}
		return e.fail(ctx, log, r, domain.ErrNoQuotes.Error())
	}
	r.venue = best.Venue
	log = log.With(slog.String("venue", string(best.Venue)))

	movement := e.movement.Next()
	finalPrice := best.Price.Mul(decimal.NewFromInt(1).Add(movement.Div(hundred))).Round(8)
	allowed := order.MaxSlippage.Mul(hundred)
	log.Debug("price discovered",
		slog.String("best_price", best.Price.String()),
		slog.String("movement_pct", movement.StringFixed(2)),
		slog.String("final_price", finalPrice.String()),
	)
	if movement.Abs().GreaterThan(allowed) {
		reason := fmt.Sprintf("price moved %s%% (max allowed %s%%)",
			movement.Abs().StringFixed(2), allowed.StringFixed(2))
		return e.fail(ctx, log, r, reason)
	}

	txHash := e.txHash(order.ID)
	if err := e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusBuilding}); err != nil {
		return e.abort(ctx, log, r, err)
	}
	if err := e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusSubmitted, TxHash: &txHash}); err != nil {
		return e.abort(ctx, log, r, err)
	}

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		err := e.settler.Settle(ctx, best.Venue, txHash)
		e.metrics.SettlementAttempt(err == nil)
		if err == nil {
			ev := domain.StatusEvent{
				Status:         domain.OrderStatusConfirmed,
				TxHash:         &txHash,
				ExecutionPrice: &finalPrice,
			}
			if err := e.emitTerminal(ctx, r, ev); err != nil {
				return e.abort(ctx, log, r, err)
			}
			e.metrics.OrderTerminal(string(domain.OrderStatusConfirmed))
			log.Info("order confirmed",
				slog.String("tx_hash", txHash),
				slog.Int("attempt", attempt),
				slog.String("execution_price", finalPrice.String()),
			)
			return nil
		}
		if ctx.Err() != nil {
			return e.abort(ctx, log, r, ctx.Err())
		}

		log.Warn("settlement attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", e.cfg.MaxRetries),
			slog.String("error", err.Error()),
		)
		if attempt < e.cfg.MaxRetries {
			if !sleep(ctx, backoff(e.cfg.BaseDelay, attempt)) {
				return e.abort(ctx, log, r, ctx.Err())
			}
		}
	}

	return e.fail(ctx, log, r, fmt.Sprintf("execution failed after %d attempts", e.cfg.MaxRetries))
}

// bestQuote queries every venue concurrently and returns the highest price.
// Ties go to the venue listed first. Venues that error are skipped.
func (e *Executor) bestQuote(ctx context.Context, amount decimal.Decimal, log *slog.Logger) (domain.Quote, error) {
	quotes := make([]domain.Quote, len(e.cfg.Venues))
	errs := make([]error, len(e.cfg.Venues))

	var g errgroup.Group
	for i, v := range e.cfg.Venues {
		g.Go(func() error {
			quotes[i], errs[i] = e.oracle.Quote(ctx, v, amount)
			return nil
		})
	}
	_ = g.Wait()

	var best domain.Quote
	found := false
	for i, q := range quotes {
		if errs[i] != nil {
			log.Warn("venue quote failed",
				slog.String("quote_venue", string(e.cfg.Venues[i])),
				slog.String("error", errs[i].Error()),
			)
			continue
		}
		if !found || q.Price.GreaterThan(best.Price) {
			best = q
			found = true
		}
	}
	if !found {
		return domain.Quote{}, domain.ErrNoQuotes
	}
	return best, nil
}

// emit publishes the next status for r after checking the transition keeps
// the lifecycle monotonic.
func (e *Executor) emit(ctx context.Context, r *run, ev domain.StatusEvent) error {
	if r.status != "" && !r.status.CanTransition(ev.Status) {
		return fmt.Errorf("executor: illegal transition %s -> %s", r.status, ev.Status)
	}
	ev.OrderID = r.order.ID
	if ev.Venue == "" {
		ev.Venue = string(r.venue)
	}
	if err := e.emitter.Publish(ctx, ev); err != nil {
		return fmt.Errorf("executor: publish %s: %w", ev.Status, err)
	}
	r.status = ev.Status
	return nil
}

// emitTerminal publishes an outcome that is already decided, so it does not
// observe cancellation of ctx.
func (e *Executor) emitTerminal(ctx context.Context, r *run, ev domain.StatusEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortPublishTimeout)
	defer cancel()
	return e.emit(ctx, r, ev)
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, r *run, reason string) error {
	if err := e.emitTerminal(ctx, r, domain.StatusEvent{Status: domain.OrderStatusFailed, Reason: &reason}); err != nil {
		return e.abort(ctx, log, r, err)
	}
	e.metrics.OrderTerminal(string(domain.OrderStatusFailed))
	log.Info("order failed", slog.String("reason", reason))
	return nil
}

// abort stops r after err. When ctx was cancelled the order is closed out
// as failed on a detached context, so it still reaches a terminal status;
// if that publish fails too the order stays at its last published status.
func (e *Executor) abort(ctx context.Context, log *slog.Logger, r *run, err error) error {
	last := r.status
	if ctx.Err() != nil && !r.status.Terminal() {
		cerr := e.closeOut(ctx, r)
		if cerr == nil {
			e.metrics.OrderTerminal(string(domain.OrderStatusFailed))
			log.Warn("order aborted",
				slog.String("last_status", string(last)),
				slog.String("reason", AbortReason),
				slog.String("error", err.Error()),
			)
			return err
		}
		log.Error("order abort not published",
			slog.String("last_status", string(last)),
			slog.String("error", cerr.Error()),
		)
	}
	log.Error("order aborted",
		slog.String("last_status", string(last)),
		slog.String("error", err.Error()),
	)
	return err
}

// closeOut publishes failed with AbortReason, preceded by pending when
// nothing was published yet.
func (e *Executor) closeOut(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortPublishTimeout)
	defer cancel()
	if r.status == "" {
		if err := e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusPending}); err != nil {
			return err
		}
	}
	reason := AbortReason
	return e.emit(ctx, r, domain.StatusEvent{Status: domain.OrderStatusFailed, Reason: &reason})
}

// backoff returns base * 2^(attempt-1).
func backoff(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// syntheticTxHash derives a Keccak-256 identifier from the order id and a
// random nonce.
func syntheticTxHash(orderID string) string {
	nonce := uuid.New()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
	return crypto.Keccak256Hash([]byte(orderID), nonce[:], ts[:]).Hex()
}

// sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
