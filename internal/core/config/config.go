package config

import (
	"time"

	"github.com/vietddude/blockingest/internal/core/domain"
	"github.com/vietddude/blockingest/internal/indexing/executor"
	"github.com/vietddude/blockingest/internal/infra/artifact"
	redisclient "github.com/vietddude/blockingest/internal/infra/redis"
	"github.com/vietddude/blockingest/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Ingest   IngestConfig        `yaml:"ingest"`
	Chain    ChainConfig         `yaml:"chain"`
	Epoch    EpochConfig         `yaml:"epoch"`
	Retry    RetryConfig         `yaml:"retry"`
	Worker   executor.PoolConfig `yaml:"worker"`
	Artifact artifact.Config     `yaml:"artifact"`
	Redis    redisclient.Config  `yaml:"redis"`
	Logging  LoggingConfig       `yaml:"logging"`
	Database postgres.Config     `yaml:"database"`
}

// ServerConfig holds HTTP server settings. Port 0 disables the server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// IngestConfig selects the mode and its block range.
type IngestConfig struct {
	Mode       string  `yaml:"mode"` // live, backfill, fast_backfill, apy_backfill
	BlockStart *uint64 `yaml:"block_start"`
	BlockEnd   *uint64 `yaml:"block_end"`
	// Step is a pointer so an explicit 0 reaches validation.
	Step *uint64 `yaml:"step"`
	// NetuidFilter is a comma separated netuid list. Empty means every
	// configured subnet.
	NetuidFilter      string  `yaml:"netuid_filter"`
	RateLimitSeconds  float64 `yaml:"rate_limit_seconds"`
	BatchSize         int     `yaml:"batch_size"`
	BatchDelaySeconds float64 `yaml:"batch_delay_seconds"`
	// StoreArtifact defaults to true for live and backfill, false for the
	// epoch modes.
	StoreArtifact *bool         `yaml:"store_artifact"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	// LiveStart is where live ingestion begins when no cursor exists.
	LiveStart *uint64 `yaml:"live_start"`
	// LocalWorkers runs a worker pool inside the apy_backfill process that
	// exits once the queue is drained.
	LocalWorkers bool `yaml:"local_workers"`
}

// ChainConfig holds the node endpoints.
type ChainConfig struct {
	// Endpoint serves live ingestion.
	Endpoint string `yaml:"endpoint"`
	// ArchiveEndpoint serves every backfill mode.
	ArchiveEndpoint string        `yaml:"archive_endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
	Subnets         []uint16      `yaml:"subnets"`
}

// EpochConfig configures the epoch schedule.
type EpochConfig struct {
	Tempo  uint64            `yaml:"tempo"`
	Tempos map[uint16]uint64 `yaml:"tempos"`
}

// RetryConfig bounds per-task retries.
type RetryConfig struct {
	MaxAttempts  uint32        `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ParsedMode parses the configured mode.
func (c IngestConfig) ParsedMode() (domain.Mode, error) {
	return domain.ParseMode(c.Mode)
}

// Netuids parses the netuid filter.
func (c IngestConfig) Netuids() ([]uint16, error) {
	return domain.ParseNetuids(c.NetuidFilter)
}

// StoresArtifacts reports whether fetched snapshots are written for mode.
func (c IngestConfig) StoresArtifacts(mode domain.Mode) bool {
	if c.StoreArtifact != nil {
		return *c.StoreArtifact
	}
	return !mode.UsesEpochFilter()
}

// RateLimit returns the sequential backfill pause.
func (c IngestConfig) RateLimit() time.Duration {
	return seconds(c.RateLimitSeconds)
}

// BatchDelay returns the pause between batch submissions.
func (c IngestConfig) BatchDelay() time.Duration {
	return seconds(c.BatchDelaySeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// EndpointFor returns the endpoint mode reads from.
func (c ChainConfig) EndpointFor(mode domain.Mode) string {
	if mode.IsBackfill() {
		return c.ArchiveEndpoint
	}
	return c.Endpoint
}
