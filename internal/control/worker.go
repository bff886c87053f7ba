package control

import (
	"context"
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/executor"
	"github.com/vietddude/blockingest/internal/indexing/health"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
)

// RunWorker consumes batch tasks from the queue until ctx is cancelled.
// Workers read from the archive endpoint.
func RunWorker(ctx context.Context, g *Ingester) (executor.PoolStats, error) {
	mode := domain.ModeBatchBackfill
	g.infra.StartMetrics(ctx)

	reader := g.reader(g.cfg.Chain.EndpointFor(mode))
	handler := recovery.NewHandler(Policy(g.cfg, mode), g.infra.DeadLetter)
	pool := executor.NewPool(g.cfg.Worker, reader, g.runner(mode), handler, g.infra.Queue)

	if g.cfg.Server.Port > 0 {
		srv := health.NewServer(health.NewMonitor(health.MonitorConfig{
			Mode:       "worker",
			Queue:      g.infra.Queue,
			DeadLetter: g.infra.DeadLetter,
		}), g.cfg.Server.Port)
		if err := srv.Start(); err != nil {
			return executor.PoolStats{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	err := pool.Run(ctx)
	return pool.Stats(), err
}
