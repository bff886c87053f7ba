package control

import (
	"context"
	"fmt"

	"github.com/vietddude/blockingest/internal/core/config"
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/backfill"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
)

// Admin exposes the operator commands.
type Admin struct {
	infra *Infra
}

// NewAdmin creates the operator surface over infra.
func NewAdmin(infra *Infra) *Admin {
	return &Admin{infra: infra}
}

// DeadLetters lists up to limit dead-letter entries, oldest first.
func (a *Admin) DeadLetters(ctx context.Context, limit int64) ([]domain.DeadLetterEntry, error) {
	return a.infra.DeadLetter.List(ctx, limit)
}

// Replay moves every dead-letter entry back to the main queue.
func (a *Admin) Replay(ctx context.Context) (int64, error) {
	return recovery.Replay(ctx, a.infra.DeadLetter, a.infra.Queue)
}

// Purge empties the named queue, "main" or "dead".
func (a *Admin) Purge(ctx context.Context, name string) (int64, error) {
	return recovery.Purge(ctx, name, a.infra.Queue, a.infra.DeadLetter)
}

// QueueLengths returns the main and dead-letter queue lengths.
func (a *Admin) QueueLengths(ctx context.Context) (main, dead int64, err error) {
	if main, err = a.infra.Queue.Len(ctx); err != nil {
		return 0, 0, fmt.Errorf("main queue: %w", err)
	}
	if dead, err = a.infra.DeadLetter.Len(ctx); err != nil {
		return 0, 0, fmt.Errorf("dead-letter queue: %w", err)
	}
	return main, dead, nil
}

// Cursors lists every progress cursor.
func (a *Admin) Cursors(ctx context.Context) ([]*domain.ProgressCursor, error) {
	return a.infra.Cursor().List(ctx)
}

// ResetCursor sets the cursor of scope, moving it backwards if needed.
func (a *Admin) ResetCursor(ctx context.Context, scope string, block uint64) error {
	return a.infra.Cursor().Reset(ctx, scope, block)
}

// Gaps lists the artifacts the configured mode and range should have
// produced but the store does not hold.
func (a *Admin) Gaps(ctx context.Context, cfg *config.AppConfig) ([]backfill.Gap, error) {
	dc, err := DispatcherConfig(cfg, true)
	if err != nil {
		return nil, err
	}
	if dc.Start == nil || dc.End == nil {
		return nil, &dispatcher.ConfigurationError{Field: "block_start/block_end", Reason: "required for a gap scan"}
	}
	r := dc.Range()
	if err := r.Validate(); err != nil {
		return nil, &dispatcher.ConfigurationError{Field: "block_start/block_end", Reason: err.Error()}
	}
	expected := backfill.Expected(dc.Mode, r, Schedule(cfg), dc.Scope())
	return backfill.NewDetector(a.infra.Store).Scan(ctx, expected, dc.Mode.UsesEpochFilter())
}

// EnqueueGaps puts gaps on the work queue as batch tasks.
func (a *Admin) EnqueueGaps(ctx context.Context, gaps []backfill.Gap, batchSize int) (int, error) {
	return backfill.NewDetector(a.infra.Store).Enqueue(ctx, a.infra.Queue, gaps, batchSize)
}
