package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Detector finds gaps using the artifact store only.
type Detector struct {
	store artifact.Store
	log   *slog.Logger
}

// NewDetector creates a new gap detector.
func NewDetector(store artifact.Store) *Detector {
	return &Detector{
		store: store,
		log:   slog.Default().With("component", "gap_detector"),
	}
}

// Scan checks every expected artifact and returns the missing ones grouped
// per subnet, in the order the subnets first appear.
func (d *Detector) Scan(ctx context.Context, expected []dispatcher.Selection, lite bool) ([]Gap, error) {
	kind := domain.KindFor(lite)
	missing := make(map[uint16][]uint64)
	var order []uint16
	checked := 0

	for _, sel := range expected {
		for _, n := range sel.Netuids {
			key := domain.ArtifactKey{Block: sel.Block, Netuid: n, Kind: kind}
			ok, err := d.store.Exists(ctx, key.Path())
			if err != nil {
				return nil, fmt.Errorf("check %s: %w", key.Path(), err)
			}
			checked++
			if ok {
				continue
			}
			if _, seen := missing[n]; !seen {
				order = append(order, n)
			}
			missing[n] = append(missing[n], sel.Block)
		}
	}

	gaps := make([]Gap, 0, len(order))
	total := 0
	for _, n := range order {
		gaps = append(gaps, Gap{Netuid: n, Blocks: missing[n], Lite: lite})
		total += len(missing[n])
	}
	d.log.Info("Gap scan finished", "checked", checked, "missing", total, "subnets", len(gaps))
	return gaps, nil
}

// Enqueue turns gaps into batch tasks of at most batchSize blocks.
func (d *Detector) Enqueue(ctx context.Context, q storage.Queue, gaps []Gap, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	var tasks []domain.BlockTask
	for _, g := range gaps {
		blocks := g.Blocks
		for len(blocks) > 0 {
			k := min(batchSize, len(blocks))
			tasks = append(tasks, domain.BlockTask{
				ID:           uuid.NewString(),
				BlockNumbers: blocks[:k],
				Netuids:      []uint16{g.Netuid},
				Lite:         g.Lite,
				EnqueuedAt:   time.Now(),
			})
			blocks = blocks[k:]
		}
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	if err := q.Enqueue(ctx, tasks...); err != nil {
		return 0, fmt.Errorf("enqueue gaps: %w", err)
	}
	d.log.Info("Gaps enqueued", "tasks", len(tasks))
	return len(tasks), nil
}
