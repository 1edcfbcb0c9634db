package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// Result is the outcome of one order submitted by Load.
type Result struct {
	OrderID string
	Status  domain.OrderStatus
	Updates int
	Elapsed time.Duration
	Err     error
}

// Summary aggregates a Load run.
type Summary struct {
	Results   []Result
	Confirmed int
	Failed    int
	Errors    int
	Elapsed   time.Duration
}

// PerMinute returns completed orders per minute over the whole run.
func (s Summary) PerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(len(s.Results)-s.Errors) / s.Elapsed.Minutes()
}

// Load submits n copies of req with at most concurrency in flight and follows
// each to its terminal status.
func (c *Client) Load(ctx context.Context, req domain.OrderRequest, n, concurrency int) Summary {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]Result, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = c.runOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results, Elapsed: time.Since(start)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			sum.Errors++
		case r.Status == domain.OrderStatusConfirmed:
			sum.Confirmed++
		case r.Status == domain.OrderStatusFailed:
			sum.Failed++
		}
	}
	return sum
}

// runOne submits req and follows the live stream. When the stream ends
// without a terminal status it falls back to the persisted record.
func (c *Client) runOne(ctx context.Context, req domain.OrderRequest) Result {
	start := time.Now()
	id, err := c.Submit(ctx, req)
	if err != nil {
		return Result{Err: err, Elapsed: time.Since(start)}
	}

	updates := 0
	ev, err := c.Watch(ctx, id, func(domain.StatusEvent) { updates++ })
	if err == nil {
		return Result{OrderID: id, Status: ev.Status, Updates: updates, Elapsed: time.Since(start)}
	}

	o, gerr := c.Get(ctx, id)
	if gerr != nil {
		return Result{OrderID: id, Updates: updates, Elapsed: time.Since(start), Err: err}
	}
	return Result{OrderID: id, Status: o.Status, Updates: updates, Elapsed: time.Since(start)}
}
