package dispatcher

import (
	"context"
	"fmt"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
)

// runLive follows the chain head, one block at a time, from the cursor.
func (d *Dispatcher) runLive(ctx context.Context) (Summary, error) {
	var sum Summary
	scope := domain.CursorScope(d.cfg.Mode, d.cfg.Netuids)

	st, err := d.deps.Cursor.Load(ctx, scope)
	if err != nil {
		return sum, fmt.Errorf("load cursor %s: %w", scope, err)
	}

	var next uint64
	switch {
	case st.Found:
		next = st.Next()
	case d.cfg.LiveStart != nil:
		next = *d.cfg.LiveStart
	default:
		head, err := d.deps.Executor.Head(ctx)
		if err != nil {
			if interrupted(ctx, err) {
				sum.Interrupted = true
				return sum, nil
			}
			return sum, fmt.Errorf("read chain head: %w", err)
		}
		next = head
	}
	d.log.Info("Live ingestion starting", "scope", scope, "next_block", next, "resumed", st.Found)

	if d.cfg.DryRun {
		d.log.Info("Dry run: would resume live ingestion", "next_block", next)
		return sum, nil
	}

	for {
		head, err := d.deps.Executor.Head(ctx)
		if err != nil {
			if interrupted(ctx, err) {
				sum.Interrupted = true
				return sum, nil
			}
			d.log.Warn("Failed to read chain head", "error", err)
		} else {
			metrics.ChainHeadBlock.Set(float64(head))
			next, err = d.catchUp(ctx, scope, next, head, &sum)
			if err != nil {
				sum.Interrupted = true
				return sum, nil
			}
		}

		if err := wait(ctx, d.cfg.PollInterval); err != nil {
			sum.Interrupted = true
			return sum, nil
		}
	}
}

// catchUp emits next..head and returns the first block not yet processed.
// It returns an error only on shutdown.
func (d *Dispatcher) catchUp(ctx context.Context, scope string, next, head uint64, sum *Summary) (uint64, error) {
	for next <= head {
		if err := ctx.Err(); err != nil {
			return next, err
		}

		task := d.newTask([]uint64{next}, d.cfg.Netuids, false)
		if d.held {
			if !d.repaired(ctx, task) {
				return next, ctx.Err()
			}
			d.log.Info("Held block repaired, resuming", "block", next)
			d.held = false
		} else {
			decision, err := d.submit(ctx, task, sum)
			if err != nil {
				if interrupted(ctx, err) {
					return next, err
				}
				// Neither stored nor dead-lettered: try the same block next round.
				d.log.Error("Block not settled", "block", next, "error", err)
				return next, nil
			}

			switch decision {
			case recovery.DecisionWait:
				d.log.Debug("Block not ready", "block", next, "head", head)
				return next, nil
			case recovery.DecisionDeadLetter:
				// The cursor never passes a block without an artifact.
				d.held = true
				d.log.Error("Live ingestion held at dead-lettered block, replay it to resume", "block", next)
				return next, nil
			}
		}

		if err := d.deps.Cursor.Advance(ctx, scope, next); err != nil {
			if interrupted(ctx, err) {
				return next, err
			}
			d.log.Error("Failed to advance cursor", "block", next, "error", err)
			return next, nil
		}
		next++
	}

	if rate := d.deps.Cursor.Rate(scope); rate > 0 {
		d.log.Info("Caught up", "block", next-1, "blocks_per_second", rate)
	}
	return next, nil
}

// repaired reports whether the held block's artifacts have appeared.
func (d *Dispatcher) repaired(ctx context.Context, task domain.BlockTask) bool {
	if d.deps.Stored == nil {
		return false
	}
	ok, err := d.deps.Stored.Stored(ctx, task)
	if err != nil {
		if !interrupted(ctx, err) {
			d.log.Warn("Failed to check held block", "block", task.First(), "error", err)
		}
		return false
	}
	return ok
}

// runSequential emits every block of the range with a pause between the
// completion of one task and the dispatch of the next.
func (d *Dispatcher) runSequential(ctx context.Context) (Summary, error) {
	var sum Summary
	r := d.cfg.Range()
	d.log.Info("Sequential backfill starting", "range", r, "blocks", r.Count(), "rate_limit", d.cfg.RateLimit)

	if d.cfg.DryRun {
		for b := range r.All() {
			d.log.Info("Dry run: would process block", "block", b)
		}
		return sum, nil
	}

	first := true
	for b := range r.All() {
		if !first {
			if err := wait(ctx, d.cfg.RateLimit); err != nil {
				sum.Interrupted = true
				return sum, nil
			}
		}
		first = false

		task := d.newTask([]uint64{b}, d.cfg.Netuids, false)
		if _, err := d.submit(ctx, task, &sum); err != nil {
			if interrupted(ctx, err) {
				sum.Interrupted = true
				return sum, nil
			}
			d.log.Error("Block not settled", "block", b, "error", err)
		}
	}
	return sum, nil
}

// selection picks the epoch boundary blocks of the range and warns when the
// stride drops some of them.
func (d *Dispatcher) selection() []Selection {
	r := d.cfg.Range()
	sel := Select(r, d.deps.Oracle, d.cfg.Scope())
	if n := SkippedBoundaries(r, d.deps.Oracle, d.cfg.Scope()); n > 0 {
		d.log.Warn("Step skips epoch boundaries off the stride", "step", r.Step, "skipped", n, "selected", len(sel))
	}
	return sel
}

// runFast emits one lite task per selected epoch boundary block.
func (d *Dispatcher) runFast(ctx context.Context) (Summary, error) {
	var sum Summary
	sel := d.selection()
	d.log.Info("Fast backfill starting", "range", d.cfg.Range(), "selected", len(sel))

	if d.cfg.DryRun {
		d.logSelection(sel)
		return sum, nil
	}

	for _, s := range sel {
		if err := ctx.Err(); err != nil {
			sum.Interrupted = true
			return sum, nil
		}
		task := d.newTask([]uint64{s.Block}, s.Netuids, true)
		if _, err := d.submit(ctx, task, &sum); err != nil {
			if interrupted(ctx, err) {
				sum.Interrupted = true
				return sum, nil
			}
			d.log.Error("Block not settled", "block", s.Block, "error", err)
		}
	}
	return sum, nil
}

// runBatch enqueues the selection as lite batch tasks on the work queue.
func (d *Dispatcher) runBatch(ctx context.Context) (Summary, error) {
	var sum Summary
	sel := d.selection()
	batches := Batches(sel, d.cfg.Scope(), d.cfg.BatchSize)
	d.log.Info("Batch backfill starting",
		"range", d.cfg.Range(),
		"selected", len(sel),
		"batches", len(batches),
		"batch_size", d.cfg.BatchSize,
	)

	if d.cfg.DryRun {
		d.logSelection(sel)
		return sum, nil
	}

	for i, b := range batches {
		if i > 0 {
			if err := wait(ctx, d.cfg.BatchDelay); err != nil {
				sum.Interrupted = true
				return sum, nil
			}
		}

		task := d.newTask(b.Blocks, []uint16{b.Netuid}, true)
		if err := d.deps.Queue.Enqueue(ctx, task); err != nil {
			if interrupted(ctx, err) {
				sum.Interrupted = true
				return sum, nil
			}
			return sum, fmt.Errorf("enqueue %s: %w", task, err)
		}
		sum.Emitted++
		metrics.TasksEmitted.WithLabelValues(d.cfg.Mode.String()).Inc()
		d.log.Debug("Batch enqueued", "task", task, "netuid", b.Netuid)
	}
	return sum, nil
}

func (d *Dispatcher) logSelection(sel []Selection) {
	for _, s := range sel {
		d.log.Info("Dry run: would process block", "block", s.Block, "netuids", domain.FormatNetuids(s.Netuids))
	}
}
