package recovery

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vietddude/blockingest/internal/core/domain"
)

// Decision is what happens to a task after an attempt.
type Decision int

const (
	DecisionAck Decision = iota
	DecisionRetry
	DecisionDeadLetter
	// DecisionWait leaves the task for the caller to re-poll later.
	DecisionWait
)

func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead_letter"
	case DecisionWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Policy bounds retries. MaxAttempts counts every attempt including the first.
type Policy struct {
	MaxAttempts  uint32        `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// WaitOnNotReady keeps not-yet-produced blocks out of the dead-letter
	// sink. Live ingestion sets it.
	WaitOnNotReady bool `yaml:"-"`
}

// DefaultPolicy returns 3 attempts with 1s, 2s pauses (max 30s).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Decide settles one execution result.
func (p Policy) Decide(res domain.ExecutionResult) Decision {
	switch res.Outcome {
	case domain.OutcomeSuccess:
		return DecisionAck
	case domain.OutcomeNotReady:
		if p.WaitOnNotReady {
			return DecisionWait
		}
		return DecisionDeadLetter
	case domain.OutcomeFatal:
		return DecisionDeadLetter
	}
	if res.Task.Attempt+1 < p.MaxAttempts {
		return DecisionRetry
	}
	return DecisionDeadLetter
}

// Delay returns the pause before retrying after attempt (0-indexed):
// InitialDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt uint32) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// NewBackOff returns a backoff that yields the same pauses as Delay and stops
// after MaxAttempts-1 retries.
func (p Policy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if p.MaxAttempts > 1 {
		retries = uint64(p.MaxAttempts - 1)
	}
	return backoff.WithMaxRetries(b, retries)
}
