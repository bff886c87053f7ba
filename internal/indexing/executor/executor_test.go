package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/recovery"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	"github.com/vietddude/blockingest/internal/infra/chain"
	redisclient "github.com/vietddude/blockingest/internal/infra/redis"
	"github.com/vietddude/blockingest/internal/infra/storage/memory"
)

// =============================================================================
// Mock Chain
// =============================================================================

// fakeChain serves deterministic payloads and injects failures per block.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	failures map[uint64][]error // consumed in order, one per fetch
	fetches  map[uint64]int
	connects int
	closes   int
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:     head,
		failures: make(map[uint64][]error),
		fetches:  make(map[uint64]int),
	}
}

func (c *fakeChain) failBlock(block uint64, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[block] = append(c.failures[block], errs...)
}

func (c *fakeChain) fetchCount(block uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[block]
}

func (c *fakeChain) Connect(ctx context.Context) (chain.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return &fakeConn{chain: c}, nil
}

type fakeConn struct {
	chain *fakeChain
}

func (f *fakeConn) HeadBlock(ctx context.Context) (uint64, error) {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	return f.chain.head, nil
}

func (f *fakeConn) Fetch(ctx context.Context, block uint64, lite bool, netuids []uint16) (*domain.Payload, error) {
	c := f.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[block]++

	if errs := c.failures[block]; len(errs) > 0 {
		c.failures[block] = errs[1:]
		return nil, errs[0]
	}
	if block > c.head {
		return nil, fmt.Errorf("%w: block %d", chain.ErrNotFound, block)
	}

	p := &domain.Payload{Block: block, Lite: lite}
	for _, n := range netuids {
		p.Subnets = append(p.Subnets, domain.SubnetSnapshot{
			Netuid: n,
			Data:   []byte(fmt.Sprintf(`{"block":%d,"netuid":%d,"lite":%v}`, block, n, lite)),
		})
	}
	return p, nil
}

func (f *fakeConn) Close() error {
	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	f.chain.closes++
	return nil
}

func fastPolicy() recovery.Policy {
	return recovery.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

var errTransient = fmt.Errorf("%w: connection reset", chain.ErrTransient)

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunner_StoresEverySnapshot(t *testing.T) {
	fc := newFakeChain(100)
	store := artifact.NewMemoryStore()
	r := NewRunner(store, []uint16{1, 2})
	conn, _ := fc.Connect(context.Background())

	task := domain.BlockTask{ID: "t", BlockNumbers: []uint64{10, 20}, Lite: true}
	res := r.Execute(context.Background(), conn, task)

	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", res.Outcome, res.Err)
	}
	want := []string{
		"data/bittensor/metagraph-lite/1/10.json",
		"data/bittensor/metagraph-lite/1/20.json",
		"data/bittensor/metagraph-lite/2/10.json",
		"data/bittensor/metagraph-lite/2/20.json",
	}
	keys := store.Keys()
	if len(keys) != len(want) {
		t.Fatalf("expected %d artifacts, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestRunner_TaskNetuidsOverrideDefault(t *testing.T) {
	fc := newFakeChain(100)
	store := artifact.NewMemoryStore()
	r := NewRunner(store, []uint16{1, 2, 3})
	conn, _ := fc.Connect(context.Background())

	task := domain.BlockTask{ID: "t", BlockNumbers: []uint64{5}, Netuids: []uint16{3}}
	r.Execute(context.Background(), conn, task)

	keys := store.Keys()
	if len(keys) != 1 || keys[0] != "data/bittensor/metagraph/3/5.json" {
		t.Errorf("unexpected artifacts: %v", keys)
	}
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	fc := newFakeChain(100)
	fc.failBlock(30, errTransient)
	store := artifact.NewMemoryStore()
	r := NewRunner(store, []uint16{1})
	conn, _ := fc.Connect(context.Background())

	task := domain.BlockTask{ID: "t", BlockNumbers: []uint64{10, 20, 30, 40}}
	res := r.Execute(context.Background(), conn, task)

	if res.Outcome != domain.OutcomeRetryable {
		t.Fatalf("expected retryable, got %v", res.Outcome)
	}
	if res.FailedAt != 2 || len(res.Completed) != 2 {
		t.Errorf("expected failure at index 2 after 2 blocks, got %d / %v", res.FailedAt, res.Completed)
	}
	if fc.fetchCount(40) != 0 {
		t.Error("block 40 must not be fetched after a failure")
	}
	if len(store.Keys()) != 2 {
		t.Errorf("earlier artifacts should stay committed, got %v", store.Keys())
	}
}

func TestRunner_WithoutStore(t *testing.T) {
	fc := newFakeChain(100)
	r := NewRunner(nil, []uint16{1})
	conn, _ := fc.Connect(context.Background())

	res := r.Execute(context.Background(), conn, domain.BlockTask{ID: "t", BlockNumbers: []uint64{1, 2}})
	if res.Outcome != domain.OutcomeSuccess || len(res.Completed) != 2 {
		t.Errorf("expected success over 2 blocks, got %+v", res)
	}
}

func TestRunner_BatchIsIdempotent(t *testing.T) {
	fc := newFakeChain(100)
	store := artifact.NewMemoryStore()
	r := NewRunner(store, []uint16{1, 2})
	conn, _ := fc.Connect(context.Background())
	task := domain.BlockTask{ID: "t", BlockNumbers: []uint64{10, 20, 30}, Lite: true}

	r.Execute(context.Background(), conn, task)
	first := snapshot(t, store)
	r.Execute(context.Background(), conn, task)
	second := snapshot(t, store)

	if len(first) != len(second) {
		t.Fatalf("artifact count changed: %d -> %d", len(first), len(second))
	}
	for k, v := range first {
		if !bytes.Equal(v, second[k]) {
			t.Errorf("artifact %s changed on rerun", k)
		}
	}
}

func TestRunner_Stored(t *testing.T) {
	fc := newFakeChain(100)
	store := artifact.NewMemoryStore()
	r := NewRunner(store, []uint16{1, 2})
	conn, _ := fc.Connect(context.Background())
	ctx := context.Background()
	task := domain.BlockTask{ID: "t", BlockNumbers: []uint64{10}}

	if ok, err := r.Stored(ctx, task); err != nil || ok {
		t.Fatalf("expected nothing stored yet, got %v (%v)", ok, err)
	}
	r.Execute(ctx, conn, task)
	if ok, _ := r.Stored(ctx, task); !ok {
		t.Error("expected every snapshot stored after Execute")
	}

	_ = store.Delete(ctx, domain.ArtifactKey{Block: 10, Netuid: 2, Kind: domain.KindMetagraph}.Path())
	if ok, _ := r.Stored(ctx, task); ok {
		t.Error("a missing subnet artifact must report not stored")
	}
	if ok, _ := NewRunner(nil, []uint16{1}).Stored(ctx, task); ok {
		t.Error("a runner without a store never reports stored")
	}
}

func snapshot(t *testing.T, s *artifact.MemoryStore) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, k := range s.Keys() {
		data, err := s.Read(context.Background(), k)
		if err != nil {
			t.Fatal(err)
		}
		out[k] = data
	}
	return out
}

// =============================================================================
// InProcess Tests
// =============================================================================

func startInProcess(t *testing.T, fc *fakeChain, store artifact.Store, sink *memory.DeadLetterSink) *InProcess {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := NewInProcess(fc, NewRunner(store, []uint16{1}), recovery.NewHandler(fastPolicy(), sink))
	p.Start(ctx)
	return p
}

func TestInProcess_RecoversBeforeMaxAttempts(t *testing.T) {
	fc := newFakeChain(100)
	fc.failBlock(7, errTransient, errTransient) // N-1 failures
	sink := memory.NewDeadLetterSink()
	p := startInProcess(t, fc, artifact.NewMemoryStore(), sink)

	settled, err := p.Submit(context.Background(), domain.BlockTask{ID: "t", BlockNumbers: []uint64{7}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if settled.Decision != recovery.DecisionAck {
		t.Errorf("expected ack, got %v", settled.Decision)
	}
	if fc.fetchCount(7) != 3 {
		t.Errorf("expected 3 fetches, got %d", fc.fetchCount(7))
	}
	if n, _ := sink.Len(context.Background()); n != 0 {
		t.Errorf("expected no dead letters, got %d", n)
	}
}

func TestInProcess_DeadLettersAfterMaxAttempts(t *testing.T) {
	fc := newFakeChain(100)
	fc.failBlock(7, errTransient, errTransient, errTransient)
	sink := memory.NewDeadLetterSink()
	p := startInProcess(t, fc, artifact.NewMemoryStore(), sink)

	settled, err := p.Submit(context.Background(), domain.BlockTask{ID: "t", BlockNumbers: []uint64{7}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if settled.Decision != recovery.DecisionDeadLetter {
		t.Fatalf("expected dead letter, got %v", settled.Decision)
	}

	entries, _ := sink.List(context.Background(), 0)
	if len(entries) != 1 || entries[0].Attempts != 3 {
		t.Errorf("expected one entry with Attempts=3, got %+v", entries)
	}
}

func TestInProcess_FatalSkipsRetries(t *testing.T) {
	fc := newFakeChain(100)
	fc.failBlock(7, fmt.Errorf("%w: invalid params", chain.ErrFatal))
	sink := memory.NewDeadLetterSink()
	p := startInProcess(t, fc, artifact.NewMemoryStore(), sink)

	settled, _ := p.Submit(context.Background(), domain.BlockTask{ID: "t", BlockNumbers: []uint64{7}})
	if settled.Decision != recovery.DecisionDeadLetter {
		t.Errorf("expected dead letter, got %v", settled.Decision)
	}
	if fc.fetchCount(7) != 1 {
		t.Errorf("expected a single fetch, got %d", fc.fetchCount(7))
	}
}

func TestInProcess_RetriesOnlyRemainingBlocks(t *testing.T) {
	fc := newFakeChain(100)
	fc.failBlock(20, errTransient)
	store := artifact.NewMemoryStore()
	p := startInProcess(t, fc, store, memory.NewDeadLetterSink())

	task := domain.BlockTask{ID: "b", BlockNumbers: []uint64{10, 20, 30}}
	settled, err := p.Submit(context.Background(), task)
	if err != nil || settled.Decision != recovery.DecisionAck {
		t.Fatalf("expected ack, got %v (%v)", settled.Decision, err)
	}
	if fc.fetchCount(10) != 1 {
		t.Errorf("block 10 refetched %d times", fc.fetchCount(10))
	}
	if len(store.Keys()) != 3 {
		t.Errorf("expected 3 artifacts, got %v", store.Keys())
	}
}

func TestInProcess_ReusesConnection(t *testing.T) {
	fc := newFakeChain(100)
	p := startInProcess(t, fc, artifact.NewMemoryStore(), memory.NewDeadLetterSink())

	for b := uint64(1); b <= 5; b++ {
		if _, err := p.Submit(context.Background(), domain.BlockTask{ID: "t", BlockNumbers: []uint64{b}}); err != nil {
			t.Fatal(err)
		}
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.connects != 1 {
		t.Errorf("expected 1 connection, got %d", fc.connects)
	}
}

func TestInProcess_SubmitAfterStop(t *testing.T) {
	fc := newFakeChain(100)
	ctx, cancel := context.WithCancel(context.Background())
	p := NewInProcess(fc, NewRunner(nil, nil), recovery.NewHandler(fastPolicy(), memory.NewDeadLetterSink()))
	p.Start(ctx)
	cancel()
	<-p.stopped

	_, err := p.Submit(context.Background(), domain.BlockTask{ID: "t", BlockNumbers: []uint64{1}})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_DrainsQueue(t *testing.T) {
	fc := newFakeChain(1000)
	fc.failBlock(120, errTransient)
	fc.failBlock(300, fmt.Errorf("%w: bad", chain.ErrFatal))

	store := artifact.NewMemoryStore()
	sink := memory.NewDeadLetterSink()
	q := memory.NewQueue()
	ctx := context.Background()

	_ = q.Enqueue(ctx,
		domain.BlockTask{ID: "a", BlockNumbers: []uint64{100, 110, 120}, Lite: true},
		domain.BlockTask{ID: "b", BlockNumbers: []uint64{200, 210}, Lite: true},
		domain.BlockTask{ID: "c", BlockNumbers: []uint64{300}, Lite: true},
	)

	pool := NewPool(
		PoolConfig{ID: "test", Workers: 2, PollTimeout: 50 * time.Millisecond, ExitWhenIdle: true},
		fc,
		NewRunner(store, []uint16{1}),
		recovery.NewHandler(fastPolicy(), sink),
		q,
	)
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := pool.Stats()
	if stats.Succeeded != 2 || stats.Retried != 1 || stats.DeadLettered != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(store.Keys()) != 5 {
		t.Errorf("expected 5 artifacts, got %v", store.Keys())
	}
	if fc.fetchCount(100) != 1 {
		t.Errorf("completed block refetched on retry")
	}

	entries, _ := sink.List(ctx, 0)
	if len(entries) != 1 || entries[0].Task.ID != "c" {
		t.Errorf("expected task c dead-lettered, got %+v", entries)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.connects != fc.closes {
		t.Errorf("connections leaked: %d opened, %d closed", fc.connects, fc.closes)
	}
}

func TestPool_DeadLettersAfterMaxAttempts(t *testing.T) {
	fc := newFakeChain(1000)
	fc.failBlock(120, errTransient, errTransient, errTransient)

	sink := memory.NewDeadLetterSink()
	q := memory.NewQueue()
	ctx := context.Background()
	_ = q.Enqueue(ctx, domain.BlockTask{ID: "a", BlockNumbers: []uint64{100, 120}, Lite: true})

	pool := NewPool(
		PoolConfig{ID: "test", Workers: 1, PollTimeout: 50 * time.Millisecond, ExitWhenIdle: true},
		fc,
		NewRunner(artifact.NewMemoryStore(), []uint16{1}),
		recovery.NewHandler(fastPolicy(), sink),
		q,
	)
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fc.fetchCount(120) != 3 {
		t.Errorf("expected 3 fetches of block 120, got %d", fc.fetchCount(120))
	}
	entries, _ := sink.List(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter, got %+v", entries)
	}
	if entries[0].Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", entries[0].Attempts)
	}
	if got := entries[0].Task.BlockNumbers; len(got) != 1 || got[0] != 120 {
		t.Errorf("expected only block 120 dead-lettered, got %v", got)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestPool_RedisQueueWithSeveralWorkers(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(redisclient.Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	q := redisclient.NewQueue(client, "pool")

	fc := newFakeChain(1000)
	fc.failBlock(110, errTransient, errTransient)               // recovers on the third attempt
	fc.failBlock(210, errTransient, errTransient, errTransient) // exhausts retries
	fc.failBlock(310, errTransient)

	store := artifact.NewMemoryStore()
	sink := memory.NewDeadLetterSink()
	ctx := context.Background()
	_ = q.Enqueue(ctx,
		domain.BlockTask{ID: "a", BlockNumbers: []uint64{100, 110}, Lite: true},
		domain.BlockTask{ID: "b", BlockNumbers: []uint64{200, 210}, Lite: true},
		domain.BlockTask{ID: "c", BlockNumbers: []uint64{300, 310}, Lite: true},
		domain.BlockTask{ID: "d", BlockNumbers: []uint64{400}, Lite: true},
	)

	cfg := PoolConfig{ID: "redis", Workers: 3, PollTimeout: time.Second, ExitWhenIdle: true}
	pool := NewPool(cfg, fc, NewRunner(store, []uint16{1}), recovery.NewHandler(fastPolicy(), sink), q)
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := pool.Stats()
	if stats.Succeeded != 3 || stats.DeadLettered != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	entries, _ := sink.List(ctx, 0)
	if len(entries) != 1 || entries[0].Task.ID != "b" || entries[0].Attempts != 3 {
		t.Errorf("expected task b dead-lettered after 3 attempts, got %+v", entries)
	}
	if len(store.Keys()) != 6 {
		t.Errorf("expected 6 artifacts, got %v", store.Keys())
	}

	// Nothing may stay in flight: a restart must not resurrect settled tasks.
	for i := 0; i < cfg.Workers; i++ {
		n, err := q.Requeue(ctx, fmt.Sprintf("%s-%d", cfg.ID, i))
		if err != nil {
			t.Fatalf("Requeue failed: %v", err)
		}
		if n != 0 {
			t.Errorf("consumer %d left %d tasks in flight", i, n)
		}
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestInProcess_Head(t *testing.T) {
	fc := newFakeChain(4242)
	p := startInProcess(t, fc, nil, memory.NewDeadLetterSink())

	head, err := p.Head(context.Background())
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head != 4242 {
		t.Errorf("expected head 4242, got %d", head)
	}
}
