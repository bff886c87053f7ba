package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Handler settles execution results for both execution strategies.
type Handler struct {
	policy Policy
	dlq    storage.DeadLetterSink
	log    *slog.Logger
	now    func() time.Time
}

// NewHandler creates a handler writing exhausted tasks to dlq.
func NewHandler(policy Policy, dlq storage.DeadLetterSink) *Handler {
	return &Handler{
		policy: policy,
		dlq:    dlq,
		log:    slog.Default().With("component", "recovery"),
		now:    time.Now,
	}
}

// Policy returns the retry policy.
func (h *Handler) Policy() Policy {
	return h.policy
}

// Settle records the outcome of an attempt and returns the decision. For
// DecisionDeadLetter the entry is durably written before Settle returns; a
// failed write is returned as an error and the task must not be acknowledged.
func (h *Handler) Settle(ctx context.Context, res domain.ExecutionResult) (Decision, error) {
	metrics.TaskOutcomes.WithLabelValues(res.Outcome.String()).Inc()
	decision := h.policy.Decide(res)

	switch decision {
	case DecisionAck:
		if res.Task.Attempt > 0 {
			h.log.Info("Task recovered", "task", res.Task, "attempts", res.Task.Attempt+1)
		}
	case DecisionRetry:
		metrics.TaskRetries.Inc()
		h.log.Warn("Task failed, retrying",
			"task", res.Task,
			"attempt", res.Task.Attempt+1,
			"max_attempts", h.policy.MaxAttempts,
			"error", res.Err,
		)
	case DecisionDeadLetter:
		if err := h.deadLetter(ctx, res); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

func (h *Handler) deadLetter(ctx context.Context, res domain.ExecutionResult) error {
	task := res.Task
	if res.FailedAt > 0 && res.FailedAt < len(task.BlockNumbers) {
		task = task.Remaining(res.FailedAt)
	}

	firstFailed := task.FirstFailedAt
	if firstFailed.IsZero() {
		firstFailed = h.now()
	}
	reason := res.Outcome.String()
	if res.Err != nil {
		reason = res.Err.Error()
	}

	entry := domain.DeadLetterEntry{
		Task:          task,
		FailureReason: reason,
		FirstFailedAt: firstFailed,
		Attempts:      res.Task.Attempt + 1,
	}
	if err := h.dlq.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", task, err)
	}

	metrics.DeadLettered.Inc()
	h.log.Error("Task dead-lettered",
		"task", task,
		"attempts", entry.Attempts,
		"outcome", res.Outcome,
		"reason", reason,
	)
	return nil
}
