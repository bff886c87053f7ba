package memory

import (
	"context"
	"sync"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// DeadLetterSink keeps dead-lettered tasks for the life of the process.
type DeadLetterSink struct {
	mu      sync.Mutex
	entries []domain.DeadLetterEntry
}

var _ storage.DeadLetterSink = (*DeadLetterSink)(nil)

func NewDeadLetterSink() *DeadLetterSink {
	return &DeadLetterSink{}
}

func (s *DeadLetterSink) Put(ctx context.Context, entry domain.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *DeadLetterSink) List(ctx context.Context, limit int64) ([]domain.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries))
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.DeadLetterEntry, n)
	copy(out, s.entries[:n])
	return out, nil
}

func (s *DeadLetterSink) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *DeadLetterSink) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries))
	s.entries = nil
	return n, nil
}

func (s *DeadLetterSink) Replay(ctx context.Context, q storage.Queue) (int64, error) {
	var replayed int64
	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			return replayed, nil
		}
		entry := s.entries[0]
		s.mu.Unlock()

		task := entry.Task
		task.Attempt = 0
		if err := q.Enqueue(ctx, task); err != nil {
			return replayed, err
		}

		s.mu.Lock()
		s.entries = s.entries[1:]
		s.mu.Unlock()
		replayed++
	}
}
