package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// BlockTask is the unit of work handed to an execution backend.
type BlockTask struct {
	ID           string    `json:"id"`
	BlockNumbers []uint64  `json:"block_numbers"`
	Netuids      []uint16  `json:"netuids,omitempty"` // nil = every configured subnet
	Lite         bool      `json:"lite"`
	Attempt      uint32    `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`

	// FirstFailedAt is set on the first failed attempt and kept across retries.
	FirstFailedAt time.Time `json:"first_failed_at"`
}

// IsBatch reports whether the task carries more than one block.
func (t BlockTask) IsBatch() bool {
	return len(t.BlockNumbers) > 1
}

// First returns the lowest block number in the task.
func (t BlockTask) First() uint64 {
	if len(t.BlockNumbers) == 0 {
		return 0
	}
	return t.BlockNumbers[0]
}

// Last returns the highest block number in the task.
func (t BlockTask) Last() uint64 {
	if len(t.BlockNumbers) == 0 {
		return 0
	}
	return t.BlockNumbers[len(t.BlockNumbers)-1]
}

// Remaining returns a copy of the task holding only blocks from index i on.
func (t BlockTask) Remaining(i int) BlockTask {
	out := t
	out.BlockNumbers = slices.Clone(t.BlockNumbers[i:])
	out.Netuids = slices.Clone(t.Netuids)
	return out
}

// NextAttempt returns the task to run after a failed attempt at now.
func (t BlockTask) NextAttempt(now time.Time) BlockTask {
	out := t
	out.Attempt++
	if out.FirstFailedAt.IsZero() {
		out.FirstFailedAt = now
	}
	return out
}

func (t BlockTask) String() string {
	if t.IsBatch() {
		return fmt.Sprintf("batch[%d..%d n=%d]", t.First(), t.Last(), len(t.BlockNumbers))
	}
	return fmt.Sprintf("block[%d]", t.First())
}

// Outcome classifies the result of one execution attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
	// OutcomeNotReady means the block is not produced yet. Live mode re-polls it.
	OutcomeNotReady
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// ExecutionResult is what an execution backend reports for a task.
type ExecutionResult struct {
	Task    BlockTask
	Outcome Outcome
	Err     error
	// Completed holds the blocks whose artifacts were durably stored, ascending.
	Completed []uint64
	// FailedAt is the index into Task.BlockNumbers of the block that failed.
	FailedAt int
}

// FormatNetuids renders a netuid scope for logs and cursor keys.
func FormatNetuids(netuids []uint16) string {
	if len(netuids) == 0 {
		return "all"
	}
	sorted := slices.Clone(netuids)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ",")
}

// ParseNetuids parses a comma separated list such as "1,3,18".
func ParseNetuids(s string) ([]uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return nil, nil
	}
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid netuid %q: %w", part, err)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}
