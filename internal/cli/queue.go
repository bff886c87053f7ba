package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockingest/internal/control"
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
)

var dlqLimit int64

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered tasks",
	Run:   runDLQList,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Move every dead-lettered task back to the work queue",
	Run:   runDLQReplay,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every dead-lettered task",
	Run: func(cmd *cobra.Command, args []string) {
		purge(recovery.QueueDead)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the work queue",
}

var queuePurgeCmd = &cobra.Command{
	Use:       "purge [main|dead]",
	Short:     "Delete every task of a named queue",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{recovery.QueueMain, recovery.QueueDead},
	Run: func(cmd *cobra.Command, args []string) {
		purge(args[0])
	},
}

func init() {
	dlqListCmd.Flags().Int64Var(&dlqLimit, "limit", 50, "maximum number of entries to show")
	dlqListCmd.Flags().Bool("json", false, "print entries as JSON lines")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd, dlqPurgeCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	rootCmd.AddCommand(dlqCmd, queueCmd)
}

// openAdmin loads the configuration and connects to the queue backends.
func openAdmin(ctx context.Context) (*control.Admin, func()) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		slog.Error("No shared queue configured, set redis.url")
		os.Exit(2)
	}
	infra := openInfra(ctx, cfg)
	return control.NewAdmin(infra), func() {
		_ = infra.Close()
	}
}

func runDLQList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	admin, closeFn := openAdmin(ctx)
	defer closeFn()

	entries, err := admin.DeadLetters(ctx, dlqLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			_ = enc.Encode(e)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tBLOCKS\tNETUIDS\tATTEMPTS\tFIRST FAILED\tREASON")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%d-%d (%d)\t%s\t%d\t%s\t%s\n",
			e.Task.ID,
			e.Task.First(), e.Task.Last(), len(e.Task.BlockNumbers),
			domain.FormatNetuids(e.Task.Netuids),
			e.Attempts,
			e.FirstFailedAt.Format("2006-01-02 15:04:05"),
			e.FailureReason,
		)
	}
	_ = w.Flush()
}

func runDLQReplay(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	admin, closeFn := openAdmin(ctx)
	defer closeFn()

	n, err := admin.Replay(ctx)
	if err != nil {
		slog.Error("Failed to replay dead letters", "replayed", n, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Replayed %d tasks\n", n)
}

func purge(name string) {
	ctx := context.Background()
	admin, closeFn := openAdmin(ctx)
	defer closeFn()

	n, err := admin.Purge(ctx, name)
	if err != nil {
		slog.Error("Failed to purge queue", "queue", name, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Purged %d tasks from %s\n", n, name)
}
