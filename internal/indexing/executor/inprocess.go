package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/infra/chain"
)

// ErrStopped is returned by Submit once the worker has shut down.
var ErrStopped = errors.New("executor stopped")

// Settled is the final state of a task after retries.
type Settled struct {
	Result   domain.ExecutionResult
	Decision recovery.Decision
}

type request struct {
	ctx  context.Context
	task domain.BlockTask
	head bool
	done chan settledOrErr
}

type settledOrErr struct {
	settled Settled
	head    uint64
	err     error
}

// InProcess runs tasks one at a time on a single worker goroutine, in
// submission order, over one connection opened on first use and reused
// until it fails.
type InProcess struct {
	reader  chain.Reader
	runner  *Runner
	handler *recovery.Handler
	log     *slog.Logger

	requests chan request
	stopped  chan struct{}
	once     sync.Once

	conn chain.Conn // owned by the worker goroutine
}

// NewInProcess creates the executor. Start must be called before Submit.
func NewInProcess(reader chain.Reader, runner *Runner, handler *recovery.Handler) *InProcess {
	return &InProcess{
		reader:   reader,
		runner:   runner,
		handler:  handler,
		log:      slog.Default().With("component", "inprocess"),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. It exits when ctx is done.
func (p *InProcess) Start(ctx context.Context) {
	p.once.Do(func() {
		go p.loop(ctx)
	})
}

// Submit hands task to the worker and waits for its final result.
func (p *InProcess) Submit(ctx context.Context, task domain.BlockTask) (Settled, error) {
	out, err := p.do(ctx, request{ctx: ctx, task: task})
	return out.settled, err
}

// Head asks the chain head over the worker's connection, queued behind any
// task already submitted.
func (p *InProcess) Head(ctx context.Context) (uint64, error) {
	out, err := p.do(ctx, request{ctx: ctx, head: true})
	return out.head, err
}

func (p *InProcess) do(ctx context.Context, req request) (settledOrErr, error) {
	req.done = make(chan settledOrErr, 1)

	select {
	case p.requests <- req:
	case <-p.stopped:
		return settledOrErr{}, ErrStopped
	case <-ctx.Done():
		return settledOrErr{}, ctx.Err()
	}

	select {
	case out := <-req.done:
		return out, out.err
	case <-p.stopped:
		return settledOrErr{}, ErrStopped
	}
}

func (p *InProcess) loop(ctx context.Context) {
	defer close(p.stopped)
	defer p.dropConn()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.requests:
			if req.head {
				head, err := p.head(req.ctx)
				req.done <- settledOrErr{head: head, err: err}
				continue
			}
			settled, err := p.process(req.ctx, req.task)
			req.done <- settledOrErr{settled: settled, err: err}
		}
	}
}

func (p *InProcess) process(ctx context.Context, task domain.BlockTask) (Settled, error) {
	var last Settled

	operation := func() error {
		res := p.attempt(ctx, task)
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		decision, err := p.handler.Settle(ctx, res)
		last = Settled{Result: res, Decision: decision}
		if err != nil {
			return backoff.Permanent(err)
		}
		if decision != recovery.DecisionRetry {
			return nil
		}

		p.dropConn()
		task = res.Task.Remaining(res.FailedAt).NextAttempt(time.Now())
		return res.Err
	}

	b := backoff.WithContext(p.handler.Policy().NewBackOff(), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}
		if last.Decision == recovery.DecisionRetry {
			return last, fmt.Errorf("retries stopped early: %w", err)
		}
		return last, err
	}
	return last, nil
}

func (p *InProcess) head(ctx context.Context) (uint64, error) {
	if p.conn == nil {
		conn, err := p.reader.Connect(ctx)
		if err != nil {
			return 0, err
		}
		p.conn = conn
	}
	head, err := p.conn.HeadBlock(ctx)
	if err != nil {
		p.dropConn()
		return 0, err
	}
	return head, nil
}

func (p *InProcess) attempt(ctx context.Context, task domain.BlockTask) domain.ExecutionResult {
	if p.conn == nil {
		conn, err := p.reader.Connect(ctx)
		if err != nil {
			return domain.ExecutionResult{
				Task:    task,
				Outcome: recovery.Classify(err),
				Err:     err,
			}
		}
		p.conn = conn
		p.log.Debug("Connection opened")
	}
	return p.runner.Execute(ctx, p.conn, task)
}

func (p *InProcess) dropConn() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warn("Failed to close connection", "error", err)
	}
	p.conn = nil
}
