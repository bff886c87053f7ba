package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/infra/chain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// PoolConfig holds configuration for the distributed worker pool.
type PoolConfig struct {
	// ID prefixes consumer names. In-flight tasks of a crashed worker are
	// recovered only by a restart with the same ID, so deployments set a
	// stable, unique one; the default is unique per process.
	ID          string        `yaml:"id"`
	Workers     int           `yaml:"workers"`      // default: 4
	PollTimeout time.Duration `yaml:"poll_timeout"` // default: 5s
	// ExitWhenIdle stops a worker the first time the queue is empty.
	ExitWhenIdle bool `yaml:"-"`
}

// PoolStats counts settled tasks.
type PoolStats struct {
	Succeeded    int64
	Retried      int64
	DeadLettered int64
}

// Pool pulls tasks from a queue with N workers. Each task gets its own
// connection, closed when the task ends.
type Pool struct {
	cfg     PoolConfig
	reader  chain.Reader
	runner  *Runner
	handler *recovery.Handler
	queue   storage.Queue
	log     *slog.Logger

	succeeded    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
}

// NewPool creates a worker pool.
func NewPool(
	cfg PoolConfig,
	reader chain.Reader,
	runner *Runner,
	handler *recovery.Handler,
	queue storage.Queue,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	return &Pool{
		cfg:     cfg,
		reader:  reader,
		runner:  runner,
		handler: handler,
		queue:   queue,
		log:     slog.Default().With("component", "pool", "id", cfg.ID),
	}
}

// Stats returns counters since the pool was created.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Succeeded:    p.succeeded.Load(),
		Retried:      p.retried.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// Run starts the workers and blocks until ctx is done or, with
// ExitWhenIdle, until every worker found the queue empty.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("Starting worker pool", "workers", p.cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", p.cfg.ID, i)
		g.Go(func() error {
			return p.work(ctx, consumer)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stats := p.Stats()
	p.log.Info("Worker pool stopped",
		"succeeded", stats.Succeeded,
		"retried", stats.Retried,
		"dead_lettered", stats.DeadLettered,
	)
	return err
}

func (p *Pool) work(ctx context.Context, consumer string) error {
	log := p.log.With("consumer", consumer)

	if n, err := p.queue.Requeue(ctx, consumer); err != nil {
		return fmt.Errorf("requeue in-flight tasks of %s: %w", consumer, err)
	} else if n > 0 {
		log.Warn("Recovered in-flight tasks", "count", n)
	}

	for {
		task, err := p.queue.Dequeue(ctx, consumer, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, storage.ErrQueueEmpty) {
				if p.cfg.ExitWhenIdle {
					return nil
				}
				continue
			}
			log.Error("Failed to dequeue", "error", err)
			if err := sleep(ctx, p.cfg.PollTimeout); err != nil {
				return nil
			}
			continue
		}

		if err := p.handle(ctx, consumer, task); err != nil {
			if ctx.Err() != nil {
				// Left in flight; recovered by Requeue on restart.
				return nil
			}
			log.Error("Failed to settle task", "task", task, "error", err)
		}

		if n, err := p.queue.Len(ctx); err == nil {
			metrics.QueueDepth.WithLabelValues("main").Set(float64(n))
		}
	}
}

func (p *Pool) handle(ctx context.Context, consumer string, task domain.BlockTask) error {
	res := p.execute(ctx, task)
	if err := ctx.Err(); err != nil {
		return err
	}

	decision, err := p.handler.Settle(ctx, res)
	if err != nil {
		// Sink write failed; keep the task queued.
		return p.ack(ctx, consumer, task, err, task)
	}

	switch decision {
	case recovery.DecisionAck:
		p.succeeded.Add(1)
	case recovery.DecisionDeadLetter:
		p.deadLettered.Add(1)
	case recovery.DecisionRetry, recovery.DecisionWait:
		next := res.Task.Remaining(res.FailedAt)
		if decision == recovery.DecisionRetry {
			p.retried.Add(1)
			if err := sleep(ctx, p.handler.Policy().Delay(task.Attempt)); err != nil {
				return err
			}
			next = next.NextAttempt(time.Now())
		}
		return p.ack(ctx, consumer, task, nil, next)
	}
	return p.ack(ctx, consumer, task, nil)
}

// ack settles task and enqueues its follow-up in one queue operation.
func (p *Pool) ack(ctx context.Context, consumer string, task domain.BlockTask, cause error, next ...domain.BlockTask) error {
	if err := p.queue.Ack(ctx, consumer, task, next...); err != nil {
		return errors.Join(cause, fmt.Errorf("ack %s: %w", task, err))
	}
	return cause
}

func (p *Pool) execute(ctx context.Context, task domain.BlockTask) domain.ExecutionResult {
	conn, err := p.reader.Connect(ctx)
	if err != nil {
		return domain.ExecutionResult{Task: task, Outcome: recovery.Classify(err), Err: err}
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.log.Warn("Failed to close connection", "error", err)
		}
	}()
	return p.runner.Execute(ctx, conn, task)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
