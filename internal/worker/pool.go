// Package worker implements the bounded Deposit Worker Pool (spec.md §2
// item 6): a fixed number of goroutines draining a bounded task queue,
// built on golang.org/x/sync/errgroup the way the other bounded pools in
// this system are (spec.md §5 [NEW]).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/metrics"
)

// DefaultPoolSize is the worker pool's default concurrency (spec.md §4.4).
const DefaultPoolSize = 4

// DefaultQueueDepth bounds how many submitted-but-not-yet-running tasks may
// queue before Submit reports saturation.
const DefaultQueueDepth = 64

// DefaultDrainTimeout bounds how long Stop waits for in-flight tasks to
// finish before returning (spec.md §5 "bounded wait (default 10s)").
const DefaultDrainTimeout = 10 * time.Second

// ErrPoolSaturated is returned by Submit when the bounded queue is full.
// Callers fold this into a deposit-scoped failure for the error handler
// (spec.md §5, §8 property 8).
var ErrPoolSaturated = errors.New("worker: pool saturated")

// Task is one unit of work the pool executes. DepositTask implements this.
type Task func(ctx context.Context) error

// Pool is a bounded executor of Tasks.
type Pool struct {
	queue  chan Task
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	stopOnce sync.Once
}

// New starts a Pool with size workers and a queue of the given depth,
// draining tasks until Stop is called.
func New(parent context.Context, size, queueDepth int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		queue:  make(chan Task, queueDepth),
		group:  group,
		ctx:    gctx,
		cancel: cancel,
		log:    logging.With("component", "worker_pool"),
	}

	for i := 0; i < size; i++ {
		workerID := i
		group.Go(func() error {
			p.run(workerID)
			return nil
		})
	}

	return p
}

func (p *Pool) run(workerID int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.PoolTaskStarted(p.ctx)
			err := task(p.ctx)
			metrics.PoolTaskFinished(p.ctx)
			if err != nil {
				p.log.Warn("task failed", "worker", workerID, "error", err)
			}
		}
	}
}

// Submit enqueues task without blocking. Returns ErrPoolSaturated if the
// queue is full (spec.md §5 backpressure, §8 property 8).
func (p *Pool) Submit(task Task) error {
	select {
	case p.queue <- task:
		return nil
	default:
		metrics.RecordPoolRejected(p.ctx)
		return ErrPoolSaturated
	}
}

// Stop signals workers to finish in-flight tasks and stop, waiting up to
// DefaultDrainTimeout before returning, per spec.md §5's bounded shutdown.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)

		done := make(chan struct{})
		go func() {
			p.group.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(DefaultDrainTimeout):
			p.log.Warn("drain timeout exceeded, cancelling in-flight tasks")
			p.cancel()
			<-done
		}
	})
}
