package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

var _ storage.CursorRepository = (*CursorRepo)(nil)

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Scope              string    `db:"scope"`
	LastProcessedBlock int64     `db:"last_processed_block"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r cursorRow) toDomain() *domain.ProgressCursor {
	return &domain.ProgressCursor{
		Scope:              r.Scope,
		LastProcessedBlock: uint64(r.LastProcessedBlock),
		UpdatedAt:          r.UpdatedAt,
	}
}

const upsertCursor = `
INSERT INTO ingest_cursors (scope, last_processed_block, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (scope) DO UPDATE
SET last_processed_block = EXCLUDED.last_processed_block,
    updated_at = EXCLUDED.updated_at`

// Save saves a cursor to the database.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.ProgressCursor) error {
	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertCursor,
		cursor.Scope, int64(cursor.LastProcessedBlock), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Get retrieves a cursor by scope.
func (r *CursorRepo) Get(ctx context.Context, scope string) (*domain.ProgressCursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT scope, last_processed_block, updated_at FROM ingest_cursors WHERE scope = $1`, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// List returns all cursors.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.ProgressCursor, error) {
	var rows []cursorRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT scope, last_processed_block, updated_at FROM ingest_cursors ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	out := make([]*domain.ProgressCursor, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
