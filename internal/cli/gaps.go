package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockingest/internal/control"
)

var enqueueGaps bool

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List missing artifacts of the configured range",
	Long: `List the artifacts the configured mode and range should have produced but the
store does not hold. With --enqueue the missing blocks are put on the work queue.`,
	Run: runGaps,
}

func init() {
	gapsCmd.Flags().BoolVar(&enqueueGaps, "enqueue", false, "enqueue missing blocks as batch tasks")
	rootCmd.AddCommand(gapsCmd)
}

func runGaps(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if enqueueGaps && cfg.Redis.URL == "" {
		slog.Error("No shared queue configured, set redis.url")
		os.Exit(2)
	}

	ctx := context.Background()
	infra := openInfra(ctx, cfg)
	defer func() {
		_ = infra.Close()
	}()
	admin := control.NewAdmin(infra)

	gaps, err := admin.Gaps(ctx, cfg)
	if err != nil {
		slog.Error("Gap scan failed", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NETUID\tMISSING\tFROM\tTO")
	for _, g := range gaps {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", g.Netuid, len(g.Blocks), g.FromBlock(), g.ToBlock())
	}
	_ = w.Flush()

	if !enqueueGaps {
		return
	}
	n, err := admin.EnqueueGaps(ctx, gaps, cfg.Ingest.BatchSize)
	if err != nil {
		slog.Error("Failed to enqueue gaps", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Enqueued %d tasks\n", n)
}
