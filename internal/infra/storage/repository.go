// Package storage declares the persistence contracts of the scheduler:
// progress cursors, the distributed work queue and the dead-letter sink.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when no cursor exists for a scope.
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrQueueEmpty is returned by Dequeue when no task arrived before the timeout.
	ErrQueueEmpty = errors.New("queue empty")
)

// CursorRepository persists progress cursors.
type CursorRepository interface {
	// Get returns the cursor for scope or ErrCursorNotFound.
	Get(ctx context.Context, scope string) (*domain.ProgressCursor, error)

	// Save stores the cursor unconditionally.
	Save(ctx context.Context, cursor *domain.ProgressCursor) error

	// List returns every stored cursor ordered by scope.
	List(ctx context.Context) ([]*domain.ProgressCursor, error)
}

// Queue is the work queue shared by distributed workers.
type Queue interface {
	// Enqueue appends tasks at the tail.
	Enqueue(ctx context.Context, tasks ...domain.BlockTask) error

	// Dequeue hands the head task to consumer. It blocks up to timeout and
	// returns ErrQueueEmpty when nothing arrived. The task stays in flight
	// for that consumer until Ack.
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (domain.BlockTask, error)

	// Ack removes an in-flight task and appends next at the tail in the same
	// step, so no other consumer can observe the task and its follow-up at once.
	Ack(ctx context.Context, consumer string, task domain.BlockTask, next ...domain.BlockTask) error

	// Requeue returns every task still in flight for consumer to the queue.
	Requeue(ctx context.Context, consumer string) (int, error)

	// Len returns the number of queued (not in-flight) tasks.
	Len(ctx context.Context) (int64, error)

	// Purge deletes every queued task and returns how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// DeadLetterSink durably records tasks that exhausted their retries.
type DeadLetterSink interface {
	Put(ctx context.Context, entry domain.DeadLetterEntry) error

	// List returns up to limit entries, oldest first. limit <= 0 means all.
	List(ctx context.Context, limit int64) ([]domain.DeadLetterEntry, error)

	Len(ctx context.Context) (int64, error)

	// Purge deletes every entry and returns how many were removed.
	Purge(ctx context.Context) (int64, error)

	// Replay moves every entry back onto q with its attempt counter reset.
	// Each entry is re-enqueued exactly once.
	Replay(ctx context.Context, q Queue) (int64, error)
}
