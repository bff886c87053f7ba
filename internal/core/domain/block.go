package domain

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidRange is returned when a BlockRange cannot be iterated.
var ErrInvalidRange = errors.New("invalid block range")

// BlockRange is an inclusive, strided range of block numbers.
type BlockRange struct {
	Start uint64 `yaml:"start" json:"start"`
	End   uint64 `yaml:"end"   json:"end"`
	Step  uint64 `yaml:"step"  json:"step"`
}

// Validate checks that the range is iterable.
func (r BlockRange) Validate() error {
	if r.Step == 0 {
		return fmt.Errorf("%w: step must be >= 1", ErrInvalidRange)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Count returns the number of blocks the range yields.
func (r BlockRange) Count() uint64 {
	if r.Validate() != nil {
		return 0
	}
	return (r.End-r.Start)/r.Step + 1
}

// All yields start, start+step, ... not exceeding end.
func (r BlockRange) All() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if r.Validate() != nil {
			return
		}
		for b := r.Start; ; b += r.Step {
			if !yield(b) {
				return
			}
			// guard against wrap-around at the top of the uint64 space
			if r.End-b < r.Step {
				return
			}
		}
	}
}

// Blocks returns the blocks of All as a slice.
func (r BlockRange) Blocks() []uint64 {
	n := r.Count()
	if n == 0 {
		return nil
	}
	out := make([]uint64, 0, n)
	for b := range r.All() {
		out = append(out, b)
	}
	return out
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d/%d", r.Start, r.End, r.Step)
}

// SubnetSnapshot is the opaque per-subnet payload extracted at a block.
type SubnetSnapshot struct {
	Netuid uint16
	Data   []byte
}

// Payload is everything the chain reader returned for one block.
type Payload struct {
	Block   uint64
	Lite    bool
	Subnets []SubnetSnapshot
}
