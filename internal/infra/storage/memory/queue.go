package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// Queue is a FIFO work queue guarded by a mutex. Waiting consumers are woken
// through a channel that is replaced on every enqueue.
type Queue struct {
	mu       sync.Mutex
	tasks    []domain.BlockTask
	inflight map[string][]domain.BlockTask
	notify   chan struct{}
}

var _ storage.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{
		inflight: make(map[string][]domain.BlockTask),
		notify:   make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, tasks ...domain.BlockTask) error {
	if len(tasks) == 0 {
		return nil
	}
	q.mu.Lock()
	q.push(tasks)
	q.mu.Unlock()
	return nil
}

// push appends tasks and wakes waiting consumers. q.mu must be held.
func (q *Queue) push(tasks []domain.BlockTask) {
	if len(tasks) == 0 {
		return
	}
	q.tasks = append(q.tasks, tasks...)
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *Queue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (domain.BlockTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.inflight[consumer] = append(q.inflight[consumer], task)
			q.mu.Unlock()
			return task, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.BlockTask{}, ctx.Err()
		case <-timer.C:
			return domain.BlockTask{}, storage.ErrQueueEmpty
		case <-wait:
		}
	}
}

func (q *Queue) Ack(ctx context.Context, consumer string, task domain.BlockTask, next ...domain.BlockTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.inflight[consumer]
	if i := slices.IndexFunc(list, func(t domain.BlockTask) bool { return t.ID == task.ID }); i >= 0 {
		q.inflight[consumer] = slices.Delete(list, i, i+1)
	}
	q.push(next)
	return nil
}

func (q *Queue) Requeue(ctx context.Context, consumer string) (int, error) {
	q.mu.Lock()
	list := q.inflight[consumer]
	delete(q.inflight, consumer)
	q.mu.Unlock()
	if err := q.Enqueue(ctx, list...); err != nil {
		return 0, err
	}
	return len(list), nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks)), nil
}

func (q *Queue) Purge(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int64(len(q.tasks))
	q.tasks = nil
	return n, nil
}
