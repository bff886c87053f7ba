package dispatcher

import (
	"fmt"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
)

// Config drives one dispatcher run.
type Config struct {
	Mode domain.Mode

	// Start and End bound the backfill range, both inclusive. Required for
	// every mode but Live.
	Start *uint64
	End   *uint64
	Step  uint64

	// Endpoint is the archive endpoint the backfill reads from.
	Endpoint string

	// Netuids restricts the subnets in scope. Empty means Subnets.
	Netuids []uint16
	// Subnets is the configured subnet list.
	Subnets []uint16

	RateLimit    time.Duration // SequentialBackfill pacing
	BatchSize    int           // BatchBackfill
	BatchDelay   time.Duration // BatchBackfill
	PollInterval time.Duration // Live head polling

	// LiveStart is the first block of a Live scope with no cursor. When
	// nil, Live starts at the current head.
	LiveStart *uint64

	// DryRun selects and logs blocks without emitting tasks.
	DryRun bool
}

// DefaultConfig returns the documented defaults for mode.
func DefaultConfig(mode domain.Mode) Config {
	return Config{
		Mode:         mode,
		Step:         1,
		RateLimit:    time.Second,
		BatchSize:    50,
		BatchDelay:   500 * time.Millisecond,
		PollInterval: 12 * time.Second,
	}
}

// ConfigurationError is a fatal, pre-run configuration problem.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Range returns the configured block range.
func (c Config) Range() domain.BlockRange {
	var r domain.BlockRange
	if c.Start != nil {
		r.Start = *c.Start
	}
	if c.End != nil {
		r.End = *c.End
	}
	r.Step = c.Step
	return r
}

// Scope returns the subnets in scope.
func (c Config) Scope() []uint16 {
	if len(c.Netuids) > 0 {
		return c.Netuids
	}
	return c.Subnets
}

// Validate checks c before anything is emitted.
func Validate(c Config) error {
	switch c.Mode {
	case domain.ModeLive, domain.ModeSequentialBackfill, domain.ModeFastBackfill, domain.ModeBatchBackfill:
	default:
		return &ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %d", c.Mode)}
	}

	if c.Step < 1 {
		return &ConfigurationError{Field: "step", Reason: "must be at least 1"}
	}

	if c.Mode.IsBackfill() {
		if c.Start == nil || c.End == nil {
			return &ConfigurationError{Field: "block_start/block_end", Reason: "required for " + c.Mode.String()}
		}
		if err := c.Range().Validate(); err != nil {
			return &ConfigurationError{Field: "block_start/block_end", Reason: err.Error()}
		}
		if c.Endpoint == "" {
			return &ConfigurationError{Field: "archive_endpoint", Reason: "required for " + c.Mode.String()}
		}
	}

	if c.Mode.UsesEpochFilter() && len(c.Scope()) == 0 {
		return &ConfigurationError{Field: "netuids", Reason: "no subnets in scope"}
	}

	switch c.Mode {
	case domain.ModeSequentialBackfill:
		if c.RateLimit < 0 {
			return &ConfigurationError{Field: "rate_limit_seconds", Reason: "must not be negative"}
		}
	case domain.ModeBatchBackfill:
		if c.BatchSize < 1 {
			return &ConfigurationError{Field: "batch_size", Reason: "must be at least 1"}
		}
		if c.BatchDelay < 0 {
			return &ConfigurationError{Field: "batch_delay_seconds", Reason: "must not be negative"}
		}
	case domain.ModeLive:
		if c.PollInterval <= 0 {
			return &ConfigurationError{Field: "poll_interval", Reason: "must be positive"}
		}
	}
	return nil
}
