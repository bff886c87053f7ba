package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockingest/internal/control"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume batch tasks from the work queue",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("Workers need a shared queue, set redis.url")
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	infra := openInfra(ctx, cfg)
	defer func() {
		_ = infra.Close()
	}()

	slog.Info("Worker started", "id", cfg.Worker.ID, "queue", cfg.Redis.Queue)

	stats, err := control.RunWorker(ctx, control.NewIngester(cfg, infra, control.Options{}))
	if err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker stopped",
		"succeeded", stats.Succeeded,
		"retried", stats.Retried,
		"dead_lettered", stats.DeadLettered,
	)
}
