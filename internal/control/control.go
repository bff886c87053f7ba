// Package control wires configuration into the ingestion components.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/blockingest/internal/core/config"
	"github.com/vietddude/blockingest/internal/core/cursor"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	redisclient "github.com/vietddude/blockingest/internal/infra/redis"
	"github.com/vietddude/blockingest/internal/infra/storage"
	"github.com/vietddude/blockingest/internal/infra/storage/memory"
	"github.com/vietddude/blockingest/internal/infra/storage/postgres"
)

// Infra holds the storage side of the process: cursor repository, work
// queue, dead-letter sink and artifact store. Without a database or Redis
// the in-memory implementations are used.
type Infra struct {
	DB    *postgres.DB
	Redis *redisclient.Client

	Cursors    storage.CursorRepository
	Queue      storage.Queue
	DeadLetter storage.DeadLetterSink
	Store      artifact.Store

	// Durable reports whether Queue survives the process.
	Durable bool
}

// OpenInfra connects to every configured backend.
func OpenInfra(ctx context.Context, cfg *config.AppConfig) (*Infra, error) {
	infra := &Infra{}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		infra.DB = db
		infra.Cursors = postgres.NewCursorRepo(db)
		slog.Info("Using PostgreSQL cursor storage")
	} else {
		infra.Cursors = memory.NewCursorRepo()
		slog.Info("Using memory cursor storage")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Redis = client
		infra.Queue = redisclient.NewQueue(client, cfg.Redis.Queue)
		infra.DeadLetter = redisclient.NewDeadLetterSink(client, cfg.Redis.Queue)
		infra.Durable = true
		slog.Info("Using Redis queue", "queue", cfg.Redis.Queue)
	} else {
		infra.Queue = memory.NewQueue()
		infra.DeadLetter = memory.NewDeadLetterSink()
		slog.Info("Using memory queue")
	}

	store, err := artifact.Open(ctx, cfg.Artifact)
	if err != nil {
		_ = infra.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	infra.Store = store

	return infra, nil
}

// Cursor returns a cursor manager over the repository.
func (i *Infra) Cursor() *cursor.Manager {
	return cursor.NewManager(i.Cursors)
}

// StartMetrics starts background collectors of the backends.
func (i *Infra) StartMetrics(ctx context.Context) {
	if i.DB != nil {
		i.DB.StartMetricsCollector(ctx)
	}
}

// Close releases every connection.
func (i *Infra) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
