package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Queue is a Redis list of JSON encoded tasks. A dequeued task moves
// atomically into the consumer's processing list and stays there until Ack,
// so a crashed worker's tasks can be requeued.
type Queue struct {
	rdb  *redis.Client
	name string

	mu  sync.Mutex
	raw map[string]string // consumer+task ID -> encoded form held in a processing list
}

var _ storage.Queue = (*Queue)(nil)

// NewQueue creates a queue named name.
func NewQueue(client *Client, name string) *Queue {
	return &Queue{
		rdb:  client.rdb,
		name: name,
		raw:  make(map[string]string),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Enqueue(ctx context.Context, tasks ...domain.BlockTask) error {
	if len(tasks) == 0 {
		return nil
	}
	values, err := encodeTasks(tasks)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, queueKey(q.name), values...).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

func encodeTasks(tasks []domain.BlockTask) ([]any, error) {
	values := make([]any, len(tasks))
	for i, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal task: %w", err)
		}
		values[i] = data
	}
	return values, nil
}

// Retries keep their task ID, so in-flight entries are tracked per consumer.
func rawKey(consumer, id string) string {
	return consumer + "\x00" + id
}

func (q *Queue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (domain.BlockTask, error) {
	raw, err := q.rdb.BLMove(ctx, queueKey(q.name), processingKey(q.name, consumer), "LEFT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return domain.BlockTask{}, storage.ErrQueueEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.BlockTask{}, ctx.Err()
		}
		return domain.BlockTask{}, fmt.Errorf("blmove failed: %w", err)
	}

	var task domain.BlockTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Undecodable entries are dropped.
		q.rdb.LRem(ctx, processingKey(q.name, consumer), 1, raw)
		return domain.BlockTask{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	q.mu.Lock()
	q.raw[rawKey(consumer, task.ID)] = raw
	q.mu.Unlock()
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, consumer string, task domain.BlockTask, next ...domain.BlockTask) error {
	key := rawKey(consumer, task.ID)
	q.mu.Lock()
	raw, ok := q.raw[key]
	delete(q.raw, key)
	q.mu.Unlock()

	if !ok {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		raw = string(data)
	}
	values, err := encodeTasks(next)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(q.name, consumer), 1, raw)
		if len(values) > 0 {
			pipe.RPush(ctx, queueKey(q.name), values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	return nil
}

func (q *Queue) Requeue(ctx context.Context, consumer string) (int, error) {
	moved := 0
	for {
		// LEFT/LEFT puts the oldest in-flight task back at the head.
		err := q.rdb.LMove(ctx, processingKey(q.name, consumer), queueKey(q.name), "LEFT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("lmove failed: %w", err)
		}
		moved++
	}
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey(q.name)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return n, nil
}

func (q *Queue) Purge(ctx context.Context) (int64, error) {
	return purgeList(ctx, q.rdb, queueKey(q.name))
}

func purgeList(ctx context.Context, rdb *redis.Client, key string) (int64, error) {
	var llen *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge %s failed: %w", key, err)
	}
	return llen.Val(), nil
}
