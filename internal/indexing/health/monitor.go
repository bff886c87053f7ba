package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/blockingest/internal/core/cursor"
	"github.com/vietddude/blockingest/internal/indexing/metrics"
	"github.com/vietddude/blockingest/internal/infra/chain"
)

// HeadFetcher returns the current chain head.
type HeadFetcher interface {
	Head(ctx context.Context) (uint64, error)
}

// Counter is anything with a length, such as a queue or dead-letter sink.
type Counter interface {
	Len(ctx context.Context) (int64, error)
}

// ReaderHead probes the head over a short-lived connection of reader.
type ReaderHead struct {
	Reader chain.Reader
}

// Head implements HeadFetcher.
func (h ReaderHead) Head(ctx context.Context) (uint64, error) {
	conn, err := h.Reader.Connect(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = conn.Close()
	}()
	return conn.HeadBlock(ctx)
}

// MonitorConfig wires the monitor. Nil collaborators are skipped.
type MonitorConfig struct {
	Mode  string
	State func() string

	// Live
	Scope  string
	Cursor *cursor.Manager
	Head   HeadFetcher

	Queue      Counter
	QueueName  string
	DeadLetter Counter

	// MinInterval caches the last report. Default 10s.
	MinInterval time.Duration
}

// Monitor aggregates health status from the ingestion components.
type Monitor struct {
	cfg        MonitorConfig
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 10 * time.Second
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "main"
	}
	return &Monitor{cfg: cfg}
}

// CheckHealth builds a report, reusing the last one within MinInterval.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Avoid hammering the node and Redis from probes
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cfg.MinInterval {
		return *m.lastReport
	}

	r := Report{Mode: m.cfg.Mode, Scope: m.cfg.Scope}
	if m.cfg.State != nil {
		r.State = m.cfg.State()
	}

	if m.cfg.Cursor != nil && m.cfg.Head != nil {
		st, err := m.cfg.Cursor.Load(ctx, m.cfg.Scope)
		if err != nil {
			r.Errors = append(r.Errors, "cursor: "+err.Error())
		} else {
			r.CursorBlock = st.Cursor.LastProcessedBlock
		}

		head, err := m.cfg.Head.Head(ctx)
		if err != nil {
			r.Errors = append(r.Errors, "chain: "+err.Error())
		} else {
			r.HeadBlock = head
			if st.Found && head > r.CursorBlock {
				r.BlockLag = head - r.CursorBlock
			}
		}
	}

	if m.cfg.Queue != nil {
		n, err := m.cfg.Queue.Len(ctx)
		if err != nil {
			r.Errors = append(r.Errors, "queue: "+err.Error())
		} else {
			r.QueueDepth = n
			metrics.QueueDepth.WithLabelValues(m.cfg.QueueName).Set(float64(n))
		}
	}
	if m.cfg.DeadLetter != nil {
		n, err := m.cfg.DeadLetter.Len(ctx)
		if err != nil {
			r.Errors = append(r.Errors, "dead letter: "+err.Error())
		} else {
			r.DeadLetters = n
			metrics.QueueDepth.WithLabelValues("dead").Set(float64(n))
		}
	}

	r.evaluate()
	m.lastCheck = time.Now()
	m.lastReport = &r
	return r
}
