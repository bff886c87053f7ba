package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/blockingest/internal/control"
	"github.com/vietddude/blockingest/internal/core/config"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
)

var (
	cfgPath string
	isDebug bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Block ingestion scheduler",
	Long: `Ingest drives the extraction of per-block subnet snapshots from a Subtensor node.
It follows the chain head (live) or walks a historical range (backfill, fast_backfill,
apy_backfill), storing one artifact per subnet and block.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured ingestion mode",
	Run:   runIngest,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Assigned here rather than in the literal to avoid an initialization
	// cycle (runIngest -> loadConfig -> rootCmd).
	rootCmd.Run = runIngest
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select and log blocks without ingesting them")
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

// loadConfig loads the configuration and initialises logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	path := cfgPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config") {
		// Without a file, environment variables alone configure the run.
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(2)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// openInfra connects to the configured backends or exits.
func openInfra(ctx context.Context, cfg *config.AppConfig) *control.Infra {
	infra, err := control.OpenInfra(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	return infra
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runIngest(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	// Configuration problems fail before any connection is opened.
	dc, err := control.DispatcherConfig(cfg, dryRun)
	if err == nil {
		err = dispatcher.Validate(dc)
	}
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	infra := openInfra(ctx, cfg)
	defer func() {
		if err := infra.Close(); err != nil {
			slog.Warn("Failed to close storage", "error", err)
		}
	}()

	slog.Info("Ingestion starting", "mode", dc.Mode, "config", cfgPath, "dry_run", dryRun)

	sum, err := control.NewIngester(cfg, infra, control.Options{DryRun: dryRun}).Run(ctx)
	if err != nil {
		var cfgErr *dispatcher.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("Invalid configuration", "error", err)
			os.Exit(2)
		}
		slog.Error("Ingestion failed", "error", err)
		os.Exit(1)
	}

	if sum.Interrupted {
		slog.Info("Ingestion stopped by signal", "emitted", sum.Emitted)
		return
	}
	slog.Info("Ingestion finished",
		"emitted", sum.Emitted,
		"succeeded", sum.Succeeded,
		"dead_lettered", sum.DeadLettered,
	)
}
