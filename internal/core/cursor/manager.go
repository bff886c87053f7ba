package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// ErrNotMonotonic is returned when Advance would not move the cursor forward.
var ErrNotMonotonic = errors.New("cursor must advance monotonically")

// Manager loads and advances progress cursors.
type Manager struct {
	repo       storage.CursorRepository
	mu         sync.Mutex
	collectors map[string]*MetricsCollector
}

// NewManager creates a cursor manager over repo.
func NewManager(repo storage.CursorRepository) *Manager {
	return &Manager{
		repo:       repo,
		collectors: make(map[string]*MetricsCollector),
	}
}

// Load returns the cursor for scope. A scope that never advanced yields a
// cursor with Found=false.
func (m *Manager) Load(ctx context.Context, scope string) (State, error) {
	c, err := m.repo.Get(ctx, scope)
	if errors.Is(err, storage.ErrCursorNotFound) {
		return State{Cursor: domain.ProgressCursor{Scope: scope}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to get cursor: %w", err)
	}
	return State{Cursor: *c, Found: true}, nil
}

// Advance records block as the last processed block of scope.
func (m *Manager) Advance(ctx context.Context, scope string, block uint64) error {
	cur, err := m.Load(ctx, scope)
	if err != nil {
		return err
	}
	if cur.Found && block <= cur.Cursor.LastProcessedBlock {
		return fmt.Errorf("%w: cursor at %d, got %d", ErrNotMonotonic, cur.Cursor.LastProcessedBlock, block)
	}

	now := time.Now()
	if err := m.repo.Save(ctx, &domain.ProgressCursor{
		Scope:              scope,
		LastProcessedBlock: block,
		UpdatedAt:          now,
	}); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	metrics.CursorBlock.WithLabelValues(scope).Set(float64(block))
	m.collector(scope).RecordBlock(block, now)
	return nil
}

// Reset moves the cursor of scope to block regardless of its position.
func (m *Manager) Reset(ctx context.Context, scope string, block uint64) error {
	if err := m.repo.Save(ctx, &domain.ProgressCursor{
		Scope:              scope,
		LastProcessedBlock: block,
		UpdatedAt:          time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	slog.Warn("Cursor reset", "scope", scope, "block", block)
	return nil
}

// List returns every stored cursor.
func (m *Manager) List(ctx context.Context) ([]*domain.ProgressCursor, error) {
	return m.repo.List(ctx)
}

// Rate returns the recent advance rate of scope in blocks per second.
func (m *Manager) Rate(scope string) float64 {
	return m.collector(scope).BlocksPerSecond()
}

func (m *Manager) collector(scope string) *MetricsCollector {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[scope]
	if !ok {
		c = NewMetricsCollector(100)
		m.collectors[scope] = c
	}
	return c
}

// State is a loaded cursor.
type State struct {
	Cursor domain.ProgressCursor
	Found  bool
}

// Next returns the first block after the cursor.
func (s State) Next() uint64 {
	return s.Cursor.LastProcessedBlock + 1
}
