// Package dispatcher decides which blocks are ingested, in what order and
// at what pace, for the configured mode.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/blockingest/internal/core/cursor"
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/epoch"
	"github.com/vietddude/blockingest/internal/indexing/executor"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Executor runs tasks in-process, one at a time.
type Executor interface {
	Submit(ctx context.Context, task domain.BlockTask) (executor.Settled, error)
	Head(ctx context.Context) (uint64, error)
}

// StoredChecker reports whether every artifact of a task is in the store.
type StoredChecker interface {
	Stored(ctx context.Context, task domain.BlockTask) (bool, error)
}

// Deps are the collaborators a mode needs. Unused ones may be nil.
type Deps struct {
	Executor Executor        // Live, SequentialBackfill, FastBackfill
	Queue    storage.Queue   // BatchBackfill
	Cursor   *cursor.Manager // Live
	Oracle   epoch.Oracle    // FastBackfill, BatchBackfill
	// Stored lets Live resume past a dead-lettered block once it has been
	// repaired. Without it the block stays held until restart.
	Stored StoredChecker
}

// Summary reports what a run did.
type Summary struct {
	Emitted      int
	Succeeded    int
	DeadLettered int
	// Interrupted is set when the run stopped on shutdown.
	Interrupted bool
}

// Dispatcher is the mode state machine.
type Dispatcher struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu           sync.Mutex
	state        State
	onTransition func(Transition)

	newID func() string
	now   func() time.Time

	// held is set while Live waits for a dead-lettered block to be repaired.
	held bool
}

// New creates a dispatcher in StateIdle.
func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{
		cfg:   cfg,
		deps:  deps,
		log:   slog.Default().With("component", "dispatcher", "mode", cfg.Mode),
		state: StateIdle,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnTransition registers a callback for state changes.
func (d *Dispatcher) OnTransition(fn func(Transition)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTransition = fn
}

func (d *Dispatcher) transition(to State, reason string) error {
	d.mu.Lock()
	from := d.state
	if !CanTransition(from, to) {
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	d.state = to
	fn := d.onTransition
	d.mu.Unlock()

	metrics.DispatcherState.WithLabelValues(string(from)).Set(0)
	metrics.DispatcherState.WithLabelValues(string(to)).Set(1)
	d.log.Debug("Dispatcher state changed", "from", from, "to", to, "reason", reason)
	if fn != nil {
		fn(NewTransition(from, to, reason))
	}
	return nil
}

// Run validates the configuration and runs the mode until the range is
// exhausted or ctx is cancelled. Configuration problems are returned as
// *ConfigurationError before any task is emitted.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if err := d.transition(StateRunning, "start"); err != nil {
		return Summary{}, err
	}

	if err := d.validate(); err != nil {
		d.fail(err)
		return Summary{}, err
	}

	var (
		sum Summary
		err error
	)
	switch d.cfg.Mode {
	case domain.ModeLive:
		sum, err = d.runLive(ctx)
	case domain.ModeSequentialBackfill:
		sum, err = d.runSequential(ctx)
	case domain.ModeFastBackfill:
		sum, err = d.runFast(ctx)
	case domain.ModeBatchBackfill:
		sum, err = d.runBatch(ctx)
	}
	if err != nil {
		d.fail(err)
		return sum, err
	}

	reason := "range exhausted"
	if sum.Interrupted {
		reason = "shutdown"
	}
	_ = d.transition(StateDraining, reason)
	_ = d.transition(StateTerminated, "drained")

	d.log.Info("Dispatcher finished",
		"emitted", sum.Emitted,
		"succeeded", sum.Succeeded,
		"dead_lettered", sum.DeadLettered,
		"interrupted", sum.Interrupted,
	)
	return sum, nil
}

func (d *Dispatcher) fail(err error) {
	_ = d.transition(StateFailed, err.Error())
	_ = d.transition(StateTerminated, "failed")
}

func (d *Dispatcher) validate() error {
	if err := Validate(d.cfg); err != nil {
		return err
	}
	missing := func(name string) error {
		return &ConfigurationError{Field: name, Reason: "not wired for " + d.cfg.Mode.String()}
	}
	switch d.cfg.Mode {
	case domain.ModeLive:
		if d.deps.Executor == nil {
			return missing("executor")
		}
		if d.deps.Cursor == nil {
			return missing("cursor")
		}
	case domain.ModeSequentialBackfill:
		if d.deps.Executor == nil && !d.cfg.DryRun {
			return missing("executor")
		}
	case domain.ModeFastBackfill:
		if d.deps.Executor == nil && !d.cfg.DryRun {
			return missing("executor")
		}
		if d.deps.Oracle == nil {
			return missing("epoch oracle")
		}
	case domain.ModeBatchBackfill:
		if d.deps.Queue == nil && !d.cfg.DryRun {
			return missing("queue")
		}
		if d.deps.Oracle == nil {
			return missing("epoch oracle")
		}
	}
	return nil
}

func (d *Dispatcher) newTask(blocks []uint64, netuids []uint16, lite bool) domain.BlockTask {
	return domain.BlockTask{
		ID:           d.newID(),
		BlockNumbers: blocks,
		Netuids:      netuids,
		Lite:         lite,
		EnqueuedAt:   d.now(),
	}
}

// submit runs one unit task to completion and tallies the result.
func (d *Dispatcher) submit(ctx context.Context, task domain.BlockTask, sum *Summary) (recovery.Decision, error) {
	sum.Emitted++
	metrics.TasksEmitted.WithLabelValues(d.cfg.Mode.String()).Inc()

	settled, err := d.deps.Executor.Submit(ctx, task)
	if err != nil {
		return settled.Decision, err
	}
	switch settled.Decision {
	case recovery.DecisionAck:
		sum.Succeeded++
	case recovery.DecisionDeadLetter:
		sum.DeadLettered++
	}
	return settled.Decision, nil
}

// interrupted reports whether err is a shutdown rather than a failure.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, executor.ErrStopped)
}

func wait(ctx context.Context, d time.Duration) error {
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
