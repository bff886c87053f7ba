// Package memory provides in-process implementations of the storage contracts.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// CursorRepo keeps cursors in a map.
type CursorRepo struct {
	mu      sync.RWMutex
	cursors map[string]domain.ProgressCursor
}

var _ storage.CursorRepository = (*CursorRepo)(nil)

func NewCursorRepo() *CursorRepo {
	return &CursorRepo{cursors: make(map[string]domain.ProgressCursor)}
}

func (r *CursorRepo) Get(ctx context.Context, scope string) (*domain.ProgressCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[scope]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.ProgressCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursor.Scope] = *cursor
	return nil
}

func (r *CursorRepo) List(ctx context.Context) ([]*domain.ProgressCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ProgressCursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}
