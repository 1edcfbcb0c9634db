package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/dexrouter/internal/domain"
	"github.com/alanyoungcy/dexrouter/internal/metrics"
	"github.com/alanyoungcy/dexrouter/internal/stream"
)

// Runner executes one order to completion.
type Runner interface {
	Execute(ctx context.Context, order domain.Order) error
}

// Task tracks one scheduled order.
type Task struct {
	OrderID string

	done chan struct{}
	err  error
}

// Done is closed when the executor returns or the task gave up waiting for
// a permit.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// Scheduler runs one executor per distinct order id behind a FIFO permit
// pool. Submit never waits for a permit; each task waits in its own
// goroutine.
type Scheduler struct {
	runner  Runner
	sem     *semaphore.Weighted
	claims  domain.OrderClaimer
	metrics *metrics.Metrics
	logger  *slog.Logger

	// base is cancelled by Shutdown once its deadline passes; every task
	// context derives its cancellation from it.
	base context.Context
	stop context.CancelFunc

	wg     sync.WaitGroup
	mu     sync.Mutex
	tasks  map[string]*Task
	active atomic.Int64
}

// NewScheduler creates a Scheduler with a permit pool of size permits.
func NewScheduler(
	runner Runner,
	permits int,
	claims domain.OrderClaimer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	if permits <= 0 {
		permits = 10
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		base:    base,
		stop:    stop,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(permits)),
		claims:  claims,
		metrics: m,
		logger:  logger.With(slog.String("component", "scheduler")),
		tasks:   make(map[string]*Task),
	}
}

// Submit claims order.ID and starts its task. A duplicate id returns
// domain.ErrAlreadyClaimed and starts nothing. The task keeps ctx's values
// but not its cancellation: once claimed, an order runs to a terminal status
// unless Shutdown runs out of time.
func (s *Scheduler) Submit(ctx context.Context, order domain.Order) (*Task, error) {
	if s.claims != nil {
		if err := s.claims.Claim(ctx, order.ID); err != nil {
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				return nil, err
			}
			s.logger.Warn("durable claim failed, continuing on local claim",
				slog.String("order_id", order.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	t := &Task{OrderID: order.ID, done: make(chan struct{})}
	s.mu.Lock()
	s.tasks[order.ID] = t
	s.mu.Unlock()

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(s.base, cancel)

	s.wg.Add(1)
	go func() {
		defer cancel()
		defer unlink()
		s.run(taskCtx, t, order)
	}()
	return t, nil
}

func (s *Scheduler) run(ctx context.Context, t *Task, order domain.Order) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t.OrderID)
		s.mu.Unlock()
		close(t.done)
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Shutdown gave up before a permit was free. The runner still gets
		// the cancelled context so the claimed order is closed out.
		s.logger.Warn("order aborted before a permit was free",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		t.err = s.runner.Execute(ctx, order)
		return
	}
	defer s.sem.Release(1)

	s.active.Add(1)
	done := s.metrics.ExecutorStarted()
	defer func() {
		done()
		s.active.Add(-1)
	}()

	t.err = s.runner.Execute(ctx, order)
}

// HandleEntry decodes an orders entry and submits it. It satisfies
// stream.Handler; malformed and duplicate entries are reported as errors so
// the consumer logs and skips them.
func (s *Scheduler) HandleEntry(ctx context.Context, entry domain.StreamEntry) error {
	order, err := stream.DecodeOrder(entry.Payload)
	if err != nil {
		return err
	}
	if _, err := s.Submit(ctx, order); err != nil {
		return err
	}
	s.logger.Debug("order scheduled",
		slog.String("order_id", order.ID),
		slog.String("entry_id", entry.ID),
	)
	return nil
}

// Active returns the number of executors currently holding a permit.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Pending returns the number of tasks that have not finished, whether
// running or waiting for a permit.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every submitted task has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown waits for every submitted task to finish. If ctx ends first it
// cancels the remaining tasks, waits for them to close their orders out and
// returns ctx.Err().
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("shutdown deadline reached, aborting in-flight orders",
		slog.Int("pending", s.Pending()),
	)
	s.stop()
	<-done
	return ctx.Err()
}
