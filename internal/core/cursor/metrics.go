package cursor

import (
	"sync"
	"time"
)

type blockRecord struct {
	BlockNumber uint64
	ProcessedAt time.Time
}

// MetricsCollector keeps a sliding window of advances to estimate throughput.
type MetricsCollector struct {
	mu         sync.Mutex
	windowSize int
	blockTimes []blockRecord
}

// NewMetricsCollector creates a collector remembering the last windowSize advances.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize < 2 {
		windowSize = 2
	}
	return &MetricsCollector{
		windowSize: windowSize,
		blockTimes: make([]blockRecord, 0, windowSize),
	}
}

// RecordBlock records one advance.
func (mc *MetricsCollector) RecordBlock(blockNumber uint64, processedAt time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	record := blockRecord{BlockNumber: blockNumber, ProcessedAt: processedAt}
	if len(mc.blockTimes) >= mc.windowSize {
		copy(mc.blockTimes, mc.blockTimes[1:])
		mc.blockTimes[len(mc.blockTimes)-1] = record
		return
	}
	mc.blockTimes = append(mc.blockTimes, record)
}

// BlocksPerSecond returns the advance rate across the window.
func (mc *MetricsCollector) BlocksPerSecond() float64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.blockTimes) < 2 {
		return 0
	}
	first := mc.blockTimes[0]
	last := mc.blockTimes[len(mc.blockTimes)-1]
	elapsed := last.ProcessedAt.Sub(first.ProcessedAt).Seconds()
	if elapsed <= 0 || last.BlockNumber <= first.BlockNumber {
		return 0
	}
	return float64(last.BlockNumber-first.BlockNumber) / elapsed
}
