package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/blockingest/internal/core/config"
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
	"github.com/vietddude/blockingest/internal/indexing/epoch"
	"github.com/vietddude/blockingest/internal/indexing/executor"
	"github.com/vietddude/blockingest/internal/indexing/health"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/indexing/throttle"
	"github.com/vietddude/blockingest/internal/infra/chain"
	"github.com/vietddude/blockingest/internal/infra/chain/subtensor"
)

// Options tune a run beyond the configuration file.
type Options struct {
	DryRun bool
	// Reader replaces the subtensor reader built from the configuration.
	Reader chain.Reader
}

// Ingester runs one dispatcher to completion.
type Ingester struct {
	cfg   *config.AppConfig
	opts  Options
	infra *Infra
	log   *slog.Logger
}

// NewIngester creates an ingester over already opened infrastructure.
func NewIngester(cfg *config.AppConfig, infra *Infra, opts Options) *Ingester {
	return &Ingester{
		cfg:   cfg,
		opts:  opts,
		infra: infra,
		log:   slog.Default().With("component", "ingester"),
	}
}

// DispatcherConfig translates the application configuration. Problems are
// returned as *dispatcher.ConfigurationError.
func DispatcherConfig(cfg *config.AppConfig, dryRun bool) (dispatcher.Config, error) {
	mode, err := cfg.Ingest.ParsedMode()
	if err != nil {
		return dispatcher.Config{}, &dispatcher.ConfigurationError{Field: "mode", Reason: err.Error()}
	}
	netuids, err := cfg.Ingest.Netuids()
	if err != nil {
		return dispatcher.Config{}, &dispatcher.ConfigurationError{Field: "netuid_filter", Reason: err.Error()}
	}
	if len(netuids) == 0 && len(cfg.Chain.Subnets) == 0 {
		return dispatcher.Config{}, &dispatcher.ConfigurationError{Field: "chain.subnets", Reason: "no subnets configured"}
	}

	dc := dispatcher.DefaultConfig(mode)
	dc.Start = cfg.Ingest.BlockStart
	dc.End = cfg.Ingest.BlockEnd
	if cfg.Ingest.Step != nil {
		dc.Step = *cfg.Ingest.Step
	}
	dc.Endpoint = cfg.Chain.EndpointFor(mode)
	dc.Netuids = netuids
	dc.Subnets = cfg.Chain.Subnets
	dc.RateLimit = cfg.Ingest.RateLimit()
	dc.BatchSize = cfg.Ingest.BatchSize
	dc.BatchDelay = cfg.Ingest.BatchDelay()
	dc.PollInterval = cfg.Ingest.PollInterval
	dc.LiveStart = cfg.Ingest.LiveStart
	dc.DryRun = dryRun

	if mode == domain.ModeLive && dc.Endpoint == "" {
		return dispatcher.Config{}, &dispatcher.ConfigurationError{Field: "chain.endpoint", Reason: "required for live"}
	}
	if mode == domain.ModeLive && !cfg.Ingest.StoresArtifacts(mode) {
		return dispatcher.Config{}, &dispatcher.ConfigurationError{
			Field:  "store_artifact",
			Reason: "live mode only advances its cursor over stored artifacts",
		}
	}
	return dc, nil
}

// Policy builds the retry policy for mode.
func Policy(cfg *config.AppConfig, mode domain.Mode) recovery.Policy {
	return recovery.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialDelay:   cfg.Retry.InitialDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		WaitOnNotReady: mode == domain.ModeLive,
	}
}

// Schedule builds the epoch oracle.
func Schedule(cfg *config.AppConfig) epoch.Schedule {
	return epoch.Schedule{Tempo: cfg.Epoch.Tempo, Tempos: cfg.Epoch.Tempos}
}

func (g *Ingester) reader(endpoint string) chain.Reader {
	if g.opts.Reader != nil {
		return g.opts.Reader
	}
	return subtensor.NewReader(subtensor.Config{Endpoint: endpoint, Timeout: g.cfg.Chain.Timeout})
}

func (g *Ingester) runner(mode domain.Mode) *executor.Runner {
	if g.cfg.Ingest.StoresArtifacts(mode) {
		return executor.NewRunner(g.infra.Store, g.cfg.Chain.Subnets)
	}
	g.log.Info("Artifact storage disabled, fetched payloads are discarded")
	return executor.NewRunner(nil, g.cfg.Chain.Subnets)
}

// Run validates the configuration and runs the configured mode until the
// range is exhausted or ctx is cancelled.
func (g *Ingester) Run(ctx context.Context) (dispatcher.Summary, error) {
	dc, err := DispatcherConfig(g.cfg, g.opts.DryRun)
	if err != nil {
		return dispatcher.Summary{}, err
	}
	if err := dispatcher.Validate(dc); err != nil {
		return dispatcher.Summary{}, err
	}
	mode := dc.Mode

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.infra.StartMetrics(ctx)

	reader := g.reader(dc.Endpoint)
	handler := recovery.NewHandler(Policy(g.cfg, mode), g.infra.DeadLetter)
	runner := g.runner(mode)

	deps := dispatcher.Deps{
		Queue:  g.infra.Queue,
		Cursor: g.infra.Cursor(),
		Oracle: Schedule(g.cfg),
		Stored: runner,
	}
	if mode != domain.ModeBatchBackfill {
		inproc := executor.NewInProcess(reader, runner, handler)
		inproc.Start(ctx)
		deps.Executor = inproc
	}

	d := dispatcher.New(dc, deps)

	if g.cfg.Server.Port > 0 {
		srv := health.NewServer(g.monitor(dc, d, deps, reader), g.cfg.Server.Port)
		if err := srv.Start(); err != nil {
			return dispatcher.Summary{}, err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	sum, err := d.Run(ctx)
	if err != nil || mode != domain.ModeBatchBackfill || dc.DryRun || sum.Interrupted {
		return sum, err
	}

	if !g.cfg.Ingest.LocalWorkers && g.infra.Durable {
		g.log.Info("Batches enqueued for distributed workers", "batches", sum.Emitted)
		return sum, nil
	}
	if !g.infra.Durable {
		g.log.Warn("No durable queue configured, draining batches with local workers")
	}
	return g.drain(ctx, reader, runner, handler, sum)
}

// drain runs a local pool until the queue is empty.
func (g *Ingester) drain(
	ctx context.Context,
	reader chain.Reader,
	runner *executor.Runner,
	handler *recovery.Handler,
	sum dispatcher.Summary,
) (dispatcher.Summary, error) {
	pcfg := g.cfg.Worker
	pcfg.ID += "-local"
	pcfg.ExitWhenIdle = true
	pool := executor.NewPool(pcfg, reader, runner, handler, g.infra.Queue)

	err := pool.Run(ctx)
	stats := pool.Stats()
	sum.Succeeded = int(stats.Succeeded)
	sum.DeadLettered = int(stats.DeadLettered)

	if err != nil {
		return sum, fmt.Errorf("local workers: %w", err)
	}
	if ctx.Err() != nil {
		sum.Interrupted = true
		return sum, nil
	}
	g.log.Info("Local workers drained the queue",
		"succeeded", stats.Succeeded,
		"retried", stats.Retried,
		"dead_lettered", stats.DeadLettered,
	)
	return sum, nil
}

func (g *Ingester) monitor(dc dispatcher.Config, d *dispatcher.Dispatcher, deps dispatcher.Deps, reader chain.Reader) *health.Monitor {
	mcfg := health.MonitorConfig{
		Mode:       dc.Mode.String(),
		State:      func() string { return string(d.State()) },
		DeadLetter: g.infra.DeadLetter,
	}
	switch dc.Mode {
	case domain.ModeLive:
		mcfg.Scope = domain.CursorScope(dc.Mode, dc.Netuids)
		mcfg.Cursor = deps.Cursor
		mcfg.Head = throttle.NewHeadCache(health.ReaderHead{Reader: reader}, 3*time.Second)
	case domain.ModeBatchBackfill:
		mcfg.Queue = g.infra.Queue
	}
	return health.NewMonitor(mcfg)
}
