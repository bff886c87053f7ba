// Package executor runs block tasks against a chain connection and the
// artifact store, either in-process or as a pool of queue workers.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	"github.com/vietddude/blockingest/internal/infra/chain"
)

// Runner executes one attempt of a task.
type Runner struct {
	store   artifact.Store
	netuids []uint16
	log     *slog.Logger
}

// NewRunner creates a runner. A nil store fetches without storing.
// netuids is the subnet list used for tasks that do not name their own.
func NewRunner(store artifact.Store, netuids []uint16) *Runner {
	return &Runner{
		store:   store,
		netuids: netuids,
		log:     slog.Default().With("component", "executor"),
	}
}

// Execute fetches every block of task in order and stores each snapshot as
// soon as it is fetched. It stops at the first failure; artifacts written
// before it stay in place.
func (r *Runner) Execute(ctx context.Context, conn chain.Conn, task domain.BlockTask) domain.ExecutionResult {
	res := domain.ExecutionResult{Task: task}

	netuids := r.netuidsOf(task)
	kind := domain.KindFor(task.Lite)

	for i, block := range task.BlockNumbers {
		if err := ctx.Err(); err != nil {
			return r.fail(res, i, err)
		}

		start := time.Now()
		payload, err := conn.Fetch(ctx, block, task.Lite, netuids)
		metrics.FetchLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			return r.fail(res, i, err)
		}

		if r.store != nil {
			for _, snap := range payload.Subnets {
				if err := artifact.StoreSnapshot(ctx, r.store, block, task.Lite, snap); err != nil {
					return r.fail(res, i, err)
				}
				metrics.ArtifactsStored.Inc()
			}
		}

		metrics.BlocksIngested.WithLabelValues(kind).Inc()
		res.Completed = append(res.Completed, block)
		r.log.Debug("Block ingested", "block", block, "subnets", len(payload.Subnets), "kind", kind)
	}

	res.Outcome = domain.OutcomeSuccess
	return res
}

// Stored reports whether every artifact task would write is in the store.
// Without a store nothing is ever stored.
func (r *Runner) Stored(ctx context.Context, task domain.BlockTask) (bool, error) {
	if r.store == nil {
		return false, nil
	}
	kind := domain.KindFor(task.Lite)
	for _, block := range task.BlockNumbers {
		for _, n := range r.netuidsOf(task) {
			ok, err := r.store.Exists(ctx, domain.ArtifactKey{Block: block, Netuid: n, Kind: kind}.Path())
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func (r *Runner) netuidsOf(task domain.BlockTask) []uint16 {
	if len(task.Netuids) > 0 {
		return task.Netuids
	}
	return r.netuids
}

func (r *Runner) fail(res domain.ExecutionResult, i int, err error) domain.ExecutionResult {
	res.Outcome = recovery.Classify(err)
	res.Err = err
	res.FailedAt = i
	return res
}
