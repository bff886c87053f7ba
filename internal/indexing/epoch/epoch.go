// Package epoch decides which blocks start a subnet epoch.
package epoch

// DefaultTempo is the subnet tempo used when none is configured.
const DefaultTempo = 360

// Oracle answers whether block starts an epoch of netuid.
type Oracle interface {
	IsEpochStart(block uint64, netuid uint16) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(block uint64, netuid uint16) bool

// IsEpochStart implements Oracle.
func (f OracleFunc) IsEpochStart(block uint64, netuid uint16) bool {
	return f(block, netuid)
}

// Schedule follows the subtensor epoch schedule. Every subnet runs its epoch
// once per Tempo+1 blocks, offset by its netuid so subnets do not all fire on
// the same block.
type Schedule struct {
	Tempo uint64
	// Tempos overrides Tempo per subnet.
	Tempos map[uint16]uint64
}

var _ Oracle = Schedule{}

func (s Schedule) tempo(netuid uint16) uint64 {
	if t, ok := s.Tempos[netuid]; ok {
		return t
	}
	if s.Tempo == 0 {
		return DefaultTempo
	}
	return s.Tempo
}

// IsEpochStart reports whether (block + netuid + 2) mod (tempo + 1) == 0.
func (s Schedule) IsEpochStart(block uint64, netuid uint16) bool {
	length := s.tempo(netuid) + 1
	return (block%length+uint64(netuid)%length+2)%length == 0
}

// BlocksUntilNext returns how many blocks after block the next epoch of
// netuid starts. It returns 0 when block itself starts one.
func (s Schedule) BlocksUntilNext(block uint64, netuid uint16) uint64 {
	length := s.tempo(netuid) + 1
	index := (block%length + uint64(netuid)%length + 2) % length
	if index == 0 {
		return 0
	}
	return length - index
}

// Starting returns the netuids in scope whose epoch starts at block, in
// the order given.
func Starting(o Oracle, block uint64, netuids []uint16) []uint16 {
	var out []uint16
	for _, n := range netuids {
		if o.IsEpochStart(block, n) {
			out = append(out, n)
		}
	}
	return out
}
