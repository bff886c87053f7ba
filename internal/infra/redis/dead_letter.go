package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// DeadLetterSink keeps dead-lettered tasks in a Redis list next to the queue.
type DeadLetterSink struct {
	rdb  *redis.Client
	name string
}

var _ storage.DeadLetterSink = (*DeadLetterSink)(nil)

// NewDeadLetterSink creates the sink paired with queue name.
func NewDeadLetterSink(client *Client, name string) *DeadLetterSink {
	return &DeadLetterSink{rdb: client.rdb, name: name}
}

func (s *DeadLetterSink) Put(ctx context.Context, entry domain.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := s.rdb.RPush(ctx, deadKey(s.name), data).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

func (s *DeadLetterSink) List(ctx context.Context, limit int64) ([]domain.DeadLetterEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	raws, err := s.rdb.LRange(ctx, deadKey(s.name), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	entries := make([]domain.DeadLetterEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *DeadLetterSink) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, deadKey(s.name)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return n, nil
}

func (s *DeadLetterSink) Purge(ctx context.Context) (int64, error) {
	return purgeList(ctx, s.rdb, deadKey(s.name))
}

// Replay claims entries one at a time into a side list, enqueues them and
// then drops the claim. Entries left claimed by an interrupted replay are
// returned to the sink first.
func (s *DeadLetterSink) Replay(ctx context.Context, q storage.Queue) (int64, error) {
	for {
		err := s.rdb.LMove(ctx, replayingKey(s.name), deadKey(s.name), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("restore claimed entries: %w", err)
		}
	}

	var replayed int64
	for {
		raw, err := s.rdb.LMove(ctx, deadKey(s.name), replayingKey(s.name), "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return replayed, nil
		}
		if err != nil {
			return replayed, fmt.Errorf("lmove failed: %w", err)
		}

		var entry domain.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.rdb.LRem(ctx, replayingKey(s.name), 1, raw)
			continue
		}

		task := entry.Task
		task.Attempt = 0
		if err := q.Enqueue(ctx, task); err != nil {
			// Give the entry back to the sink before failing.
			s.rdb.LMove(ctx, replayingKey(s.name), deadKey(s.name), "RIGHT", "LEFT")
			return replayed, err
		}
		if err := s.rdb.LRem(ctx, replayingKey(s.name), 1, raw).Err(); err != nil {
			return replayed, fmt.Errorf("lrem failed: %w", err)
		}
		replayed++
	}
}
