// Package backfill finds blocks whose artifacts are missing from the store.
//
// # Design: No RPC calls
//
// Gap detection only asks the artifact store whether an expected key
// exists. The chain is only read when the gaps are re-enqueued and a
// worker picks them up.
//
// # Usage
//
//	detector := backfill.NewDetector(store)
//	gaps, err := detector.Scan(ctx, backfill.Expected(mode, r, oracle, netuids), lite)
//	n, err := detector.Enqueue(ctx, queue, gaps, 50)
package backfill

import (
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
	"github.com/vietddude/blockingest/internal/indexing/epoch"
)

// Gap is the set of expected blocks of one subnet that have no artifact.
type Gap struct {
	Netuid uint16
	Blocks []uint64
	Lite   bool
}

// FromBlock returns the first missing block.
func (g Gap) FromBlock() uint64 { return g.Blocks[0] }

// ToBlock returns the last missing block.
func (g Gap) ToBlock() uint64 { return g.Blocks[len(g.Blocks)-1] }

// Expected returns the (block, subnets) pairs mode would have ingested over r.
func Expected(mode domain.Mode, r domain.BlockRange, oracle epoch.Oracle, netuids []uint16) []dispatcher.Selection {
	if mode.UsesEpochFilter() {
		return dispatcher.Select(r, oracle, netuids)
	}
	var out []dispatcher.Selection
	for b := range r.All() {
		out = append(out, dispatcher.Selection{Block: b, Netuids: netuids})
	}
	return out
}
