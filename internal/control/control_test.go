package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/blockingest/internal/core/config"
	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/dispatcher"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	"github.com/vietddude/blockingest/internal/infra/chain"
	"github.com/vietddude/blockingest/internal/infra/storage/memory"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeConn struct {
	head uint64
}

func (c *fakeConn) HeadBlock(ctx context.Context) (uint64, error) { return c.head, nil }

func (c *fakeConn) Fetch(ctx context.Context, block uint64, lite bool, netuids []uint16) (*domain.Payload, error) {
	if block > c.head {
		return nil, fmt.Errorf("%w: block %d", chain.ErrNotFound, block)
	}
	p := &domain.Payload{Block: block, Lite: lite}
	for _, n := range netuids {
		p.Subnets = append(p.Subnets, domain.SubnetSnapshot{Netuid: n, Data: []byte("{}")})
	}
	return p, nil
}

func (c *fakeConn) Close() error { return nil }

func fakeReader(head uint64) chain.Reader {
	return chain.ReaderFunc(func(ctx context.Context) (chain.Conn, error) {
		return &fakeConn{head: head}, nil
	})
}

func memoryInfra() (*Infra, *artifact.MemoryStore) {
	store := artifact.NewMemoryStore()
	return &Infra{
		Cursors:    memory.NewCursorRepo(),
		Queue:      memory.NewQueue(),
		DeadLetter: memory.NewDeadLetterSink(),
		Store:      store,
	}, store
}

func u64(v uint64) *uint64 { return &v }

func testConfig(t *testing.T, mode string) *config.AppConfig {
	t.Helper()
	t.Setenv(config.EnvMode, mode)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Chain.Endpoint = "http://node"
	cfg.Chain.ArchiveEndpoint = "http://archive"
	cfg.Chain.Subnets = []uint16{1}
	// Epoch length 10: netuid 1 starts at 7, 17, 27...
	cfg.Epoch.Tempo = 9
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Worker.Workers = 2
	cfg.Worker.PollTimeout = 20 * time.Millisecond
	return cfg
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestDispatcherConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
		field  string
	}{
		{"invalid mode", func(c *config.AppConfig) { c.Ingest.Mode = "turbo" }, "mode"},
		{"invalid netuid filter", func(c *config.AppConfig) { c.Ingest.NetuidFilter = "1,x" }, "netuid_filter"},
		{"no subnets", func(c *config.AppConfig) { c.Chain.Subnets = nil }, "chain.subnets"},
		{"live without endpoint", func(c *config.AppConfig) { c.Chain.Endpoint = "" }, "chain.endpoint"},
		{"live without artifact storage", func(c *config.AppConfig) {
			off := false
			c.Ingest.StoreArtifact = &off
		}, "store_artifact"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "live")
			tt.mutate(cfg)

			_, err := DispatcherConfig(cfg, false)
			var cfgErr *dispatcher.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("expected ConfigurationError on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestIngester_MissingRangeFailsBeforeWork(t *testing.T) {
	cfg := testConfig(t, "backfill")
	infra, store := memoryInfra()

	_, err := NewIngester(cfg, infra, Options{Reader: fakeReader(100)}).Run(context.Background())
	var cfgErr *dispatcher.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(store.Keys()) != 0 {
		t.Error("nothing may be stored on a configuration error")
	}
}

func TestPolicy_WaitsOnlyInLive(t *testing.T) {
	cfg := testConfig(t, "live")
	if !Policy(cfg, domain.ModeLive).WaitOnNotReady {
		t.Error("live must wait on not-ready blocks")
	}
	if Policy(cfg, domain.ModeSequentialBackfill).WaitOnNotReady {
		t.Error("backfill must dead-letter missing blocks")
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestIngester_FastBackfill(t *testing.T) {
	cfg := testConfig(t, "fast_backfill")
	cfg.Ingest.BlockStart = u64(0)
	cfg.Ingest.BlockEnd = u64(30)
	stored := true
	cfg.Ingest.StoreArtifact = &stored
	infra, store := memoryInfra()

	sum, err := NewIngester(cfg, infra, Options{Reader: fakeReader(1000)}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Emitted != 3 || sum.Succeeded != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	want := []string{
		"data/bittensor/metagraph-lite/1/17.json",
		"data/bittensor/metagraph-lite/1/27.json",
		"data/bittensor/metagraph-lite/1/7.json",
	}
	if got := store.Keys(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestIngester_FastBackfillWithoutStorage(t *testing.T) {
	cfg := testConfig(t, "fast_backfill")
	cfg.Ingest.BlockStart = u64(0)
	cfg.Ingest.BlockEnd = u64(30)
	infra, store := memoryInfra()

	sum, err := NewIngester(cfg, infra, Options{Reader: fakeReader(1000)}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Succeeded != 3 || len(store.Keys()) != 0 {
		t.Errorf("expected 3 fetches and no artifacts, got %+v and %v", sum, store.Keys())
	}
}

func TestIngester_BatchBackfillDrainsLocally(t *testing.T) {
	cfg := testConfig(t, "apy_backfill")
	cfg.Ingest.BlockStart = u64(0)
	cfg.Ingest.BlockEnd = u64(100)
	cfg.Ingest.BatchSize = 4
	cfg.Ingest.BatchDelaySeconds = 0.001
	stored := true
	cfg.Ingest.StoreArtifact = &stored
	infra, store := memoryInfra()

	sum, err := NewIngester(cfg, infra, Options{Reader: fakeReader(50)}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 10 epoch starts in 4-block batches; blocks above the head are dead-lettered.
	if sum.Emitted != 3 {
		t.Errorf("expected 3 batches, got %d", sum.Emitted)
	}
	if got := len(store.Keys()); got != 5 {
		t.Errorf("expected 5 artifacts (7..47), got %d", got)
	}
	if n, _ := infra.DeadLetter.Len(context.Background()); n == 0 {
		t.Error("expected blocks above the head to be dead-lettered")
	}
	if n, _ := infra.Queue.Len(context.Background()); n != 0 {
		t.Errorf("expected a drained queue, got %d", n)
	}
}

func TestIngester_LiveFollowsHead(t *testing.T) {
	cfg := testConfig(t, "live")
	cfg.Ingest.LiveStart = u64(10)
	cfg.Ingest.PollInterval = 5 * time.Millisecond
	infra, store := memoryInfra()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan dispatcher.Summary, 1)
	go func() {
		sum, err := NewIngester(cfg, infra, Options{Reader: fakeReader(12)}).Run(ctx)
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- sum
	}()

	mgr := infra.Cursor()
	for {
		st, _ := mgr.Load(ctx, "live:all")
		if st.Found && st.Cursor.LastProcessedBlock == 12 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("live ingestion never reached the head")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	sum := <-done
	if !sum.Interrupted || sum.Succeeded != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if n, _ := infra.DeadLetter.Len(context.Background()); n != 0 {
		t.Errorf("blocks past the head must not be dead-lettered in live mode, got %d", n)
	}
	if len(store.Keys()) != 3 {
		t.Errorf("expected 3 full artifacts, got %v", store.Keys())
	}
}

func TestIngester_DryRun(t *testing.T) {
	cfg := testConfig(t, "apy_backfill")
	cfg.Ingest.BlockStart = u64(0)
	cfg.Ingest.BlockEnd = u64(100)
	infra, _ := memoryInfra()

	sum, err := NewIngester(cfg, infra, Options{DryRun: true, Reader: fakeReader(1000)}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := infra.Queue.Len(context.Background()); sum.Emitted != 0 || n != 0 {
		t.Errorf("dry run enqueued work: %+v, queue %d", sum, n)
	}
}

func TestRunWorker_ConsumesQueue(t *testing.T) {
	cfg := testConfig(t, "apy_backfill")
	stored := true
	cfg.Ingest.StoreArtifact = &stored
	infra, store := memoryInfra()

	task := domain.BlockTask{ID: "t1", BlockNumbers: []uint64{7, 17}, Netuids: []uint16{1}, Lite: true}
	if err := infra.Queue.Enqueue(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for len(store.Keys()) < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		// Let the worker settle the task before stopping it.
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	stats, err := RunWorker(ctx, NewIngester(cfg, infra, Options{Reader: fakeReader(100)}))
	if err != nil {
		t.Fatalf("RunWorker failed: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Errorf("expected 1 task, got %+v", stats)
	}
}

// =============================================================================
// Admin Tests
// =============================================================================

func TestAdmin_ReplayAndPurge(t *testing.T) {
	ctx := context.Background()
	infra, _ := memoryInfra()
	admin := NewAdmin(infra)

	for i := range 3 {
		entry := domain.DeadLetterEntry{
			Task:     domain.BlockTask{ID: fmt.Sprint(i), BlockNumbers: []uint64{uint64(i)}, Attempt: 2},
			Attempts: 3,
		}
		if err := infra.DeadLetter.Put(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := admin.DeadLetters(ctx, 10)
	if err != nil || len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d (%v)", len(entries), err)
	}

	n, err := admin.Replay(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 replayed, got %d (%v)", n, err)
	}
	mainLen, deadLen, err := admin.QueueLengths(ctx)
	if err != nil || mainLen != 3 || deadLen != 0 {
		t.Errorf("expected 3/0, got %d/%d (%v)", mainLen, deadLen, err)
	}

	if n, err := admin.Purge(ctx, "main"); err != nil || n != 3 {
		t.Errorf("expected 3 purged, got %d (%v)", n, err)
	}
	if _, err := admin.Purge(ctx, "other"); err == nil {
		t.Error("expected an error for an unknown queue")
	}
}

func TestAdmin_ResetCursor(t *testing.T) {
	ctx := context.Background()
	infra, _ := memoryInfra()
	admin := NewAdmin(infra)

	if err := admin.ResetCursor(ctx, "live:all", 500); err != nil {
		t.Fatal(err)
	}
	if err := admin.ResetCursor(ctx, "live:all", 100); err != nil {
		t.Fatalf("reset must move backwards: %v", err)
	}
	cursors, err := admin.Cursors(ctx)
	if err != nil || len(cursors) != 1 || cursors[0].LastProcessedBlock != 100 {
		t.Errorf("unexpected cursors: %+v (%v)", cursors, err)
	}
}

func TestAdmin_GapsAfterPartialBackfill(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "fast_backfill")
	cfg.Ingest.BlockStart = u64(0)
	cfg.Ingest.BlockEnd = u64(40)
	infra, store := memoryInfra()

	// 7 and 27 exist; 17 and 37 are missing.
	for _, b := range []uint64{7, 27} {
		key := domain.ArtifactKey{Block: b, Netuid: 1, Kind: domain.KindMetagraphLite}
		if err := store.Store(ctx, key.Path(), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	admin := NewAdmin(infra)
	gaps, err := admin.Gaps(ctx, cfg)
	if err != nil {
		t.Fatalf("Gaps failed: %v", err)
	}
	if len(gaps) != 1 || fmt.Sprint(gaps[0].Blocks) != "[17 37]" {
		t.Fatalf("unexpected gaps: %+v", gaps)
	}

	n, err := admin.EnqueueGaps(ctx, gaps, 50)
	if err != nil || n != 1 {
		t.Errorf("expected 1 task, got %d (%v)", n, err)
	}
}
