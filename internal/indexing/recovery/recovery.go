// Package recovery classifies failed executions and decides whether a task is
// retried, acknowledged or moved to the dead-letter sink.
package recovery

import (
	"context"
	"errors"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	"github.com/vietddude/blockingest/internal/infra/chain"
)

// Classify maps an execution error to an outcome. Unknown errors, including
// artifact store failures, are retryable.
func Classify(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.OutcomeRetryable
	case errors.Is(err, chain.ErrNotFound):
		return domain.OutcomeNotReady
	case errors.Is(err, chain.ErrFatal), errors.Is(err, artifact.ErrInvalidKey):
		return domain.OutcomeFatal
	default:
		return domain.OutcomeRetryable
	}
}
