package dispatcher

import (
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/epoch"
)

// Selection is a block chosen by the epoch modes together with the subnets
// whose epoch starts at it.
type Selection struct {
	Block   uint64
	Netuids []uint16
}

// Select walks r (stride r.Step) and keeps the blocks that start an epoch
// for at least one netuid in scope.
func Select(r domain.BlockRange, oracle epoch.Oracle, netuids []uint16) []Selection {
	var out []Selection
	for b := range r.All() {
		if starting := epoch.Starting(oracle, b, netuids); len(starting) > 0 {
			out = append(out, Selection{Block: b, Netuids: starting})
		}
	}
	return out
}

// SkippedBoundaries counts the epoch boundaries of r that the stride leaves
// out of the selection.
func SkippedBoundaries(r domain.BlockRange, oracle epoch.Oracle, netuids []uint16) int {
	if r.Step <= 1 {
		return 0
	}
	full := r
	full.Step = 1
	return len(Select(full, oracle, netuids)) - len(Select(r, oracle, netuids))
}

// Batch is a run of blocks for one subnet.
type Batch struct {
	Netuid uint16
	Blocks []uint64
}

// Batches groups a selection per subnet, in scope order, and splits each
// subnet's blocks into chunks of at most size.
func Batches(sel []Selection, netuids []uint16, size int) []Batch {
	perNetuid := make(map[uint16][]uint64, len(netuids))
	for _, s := range sel {
		for _, n := range s.Netuids {
			perNetuid[n] = append(perNetuid[n], s.Block)
		}
	}

	var out []Batch
	for _, n := range netuids {
		blocks := perNetuid[n]
		for len(blocks) > 0 {
			k := min(size, len(blocks))
			out = append(out, Batch{Netuid: n, Blocks: blocks[:k]})
			blocks = blocks[k:]
		}
		delete(perNetuid, n)
	}
	return out
}
