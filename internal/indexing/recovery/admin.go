package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Queue names accepted by Purge.
const (
	QueueMain = "main"
	QueueDead = "dead"
)

// Replay moves every dead-lettered task back onto the work queue.
func Replay(ctx context.Context, dlq storage.DeadLetterSink, q storage.Queue) (int64, error) {
	n, err := dlq.Replay(ctx, q)
	if err != nil {
		return n, fmt.Errorf("replay stopped after %d tasks: %w", n, err)
	}
	slog.Info("Dead letters replayed", "count", n)
	return n, nil
}

// Purge empties the named queue.
func Purge(ctx context.Context, name string, q storage.Queue, dlq storage.DeadLetterSink) (int64, error) {
	var (
		n   int64
		err error
	)
	switch name {
	case QueueMain:
		n, err = q.Purge(ctx)
	case QueueDead:
		n, err = dlq.Purge(ctx)
	default:
		return 0, fmt.Errorf("unknown queue %q (want %s or %s)", name, QueueMain, QueueDead)
	}
	if err != nil {
		return 0, err
	}
	slog.Warn("Queue purged", "queue", name, "count", n)
	return n, nil
}
