package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockingest/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress cursors and queue depths",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" && cfg.Redis.URL == "" {
		slog.Error("Nothing to inspect, set database.url or redis.url")
		os.Exit(2)
	}

	ctx := context.Background()
	infra := openInfra(ctx, cfg)
	defer func() {
		_ = infra.Close()
	}()
	admin := control.NewAdmin(infra)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	if infra.DB != nil {
		cursors, err := admin.Cursors(ctx)
		if err != nil {
			slog.Error("Failed to query cursors", "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(w, "SCOPE\tBLOCK\tUPDATED")
		for _, c := range cursors {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", c.Scope, c.LastProcessedBlock, c.UpdatedAt.Format(time.RFC3339))
		}
		_, _ = fmt.Fprintln(w)
	}

	if infra.Redis != nil {
		mainLen, deadLen, err := admin.QueueLengths(ctx)
		if err != nil {
			slog.Error("Failed to query queues", "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(w, "QUEUE\tTASKS")
		_, _ = fmt.Fprintf(w, "%s\t%d\n", cfg.Redis.Queue, mainLen)
		_, _ = fmt.Fprintf(w, "%s (dead)\t%d\n", cfg.Redis.Queue, deadLen)
	}
	_ = w.Flush()
}
