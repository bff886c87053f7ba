package domain

import "time"

// DeadLetterEntry is a task whose retries are exhausted, held for an operator.
type DeadLetterEntry struct {
	Task          BlockTask `json:"task"`
	FailureReason string    `json:"failure_reason"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	Attempts      uint32    `json:"attempts"`
}
