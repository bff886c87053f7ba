package domain

import (
	"fmt"
	"strings"
)

// Mode selects how the dispatcher produces block tasks. It is fixed for the
// lifetime of a process.
type Mode int

const (
	ModeLive Mode = iota + 1
	ModeSequentialBackfill
	ModeFastBackfill
	ModeBatchBackfill
)

var modeNames = map[Mode]string{
	ModeLive:               "live",
	ModeSequentialBackfill: "backfill",
	ModeFastBackfill:       "fast_backfill",
	ModeBatchBackfill:      "apy_backfill",
}

// ParseMode maps a configuration name to a Mode.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q (expected live, backfill, fast_backfill or apy_backfill)", s)
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// IsBackfill reports whether the mode is range-driven.
func (m Mode) IsBackfill() bool {
	return m == ModeSequentialBackfill || m == ModeFastBackfill || m == ModeBatchBackfill
}

// UsesEpochFilter reports whether the mode only visits epoch boundary blocks.
func (m Mode) UsesEpochFilter() bool {
	return m == ModeFastBackfill || m == ModeBatchBackfill
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
