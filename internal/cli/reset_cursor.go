package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockingest/internal/control"
	"github.com/vietddude/blockingest/internal/core/domain"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [block_height]",
	Short: "Set the live cursor so ingestion resumes after the given block",
	Long: `Set the live cursor so ingestion resumes after the given block.
The scope is derived from the configured netuid filter unless --scope is given.`,
	Args: cobra.ExactArgs(1),
	Run:  runResetCursor,
}

var resetScope string

func init() {
	resetCursorCmd.Flags().StringVar(&resetScope, "scope", "", "cursor scope (default: live scope of the configured netuid filter)")
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("Cursors are only persisted in PostgreSQL, set database.url")
		os.Exit(2)
	}

	scope := resetScope
	if scope == "" {
		netuids, err := cfg.Ingest.Netuids()
		if err != nil {
			slog.Error("Invalid netuid filter", "error", err)
			os.Exit(2)
		}
		scope = domain.CursorScope(domain.ModeLive, netuids)
	}

	ctx := context.Background()
	infra := openInfra(ctx, cfg)
	defer func() {
		_ = infra.Close()
	}()

	if err := control.NewAdmin(infra).ResetCursor(ctx, scope, height); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor %s to block %d\n", scope, height)
}
