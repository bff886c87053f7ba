package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/blockingest/internal/indexing/epoch"
)

// Environment variables that override the file.
const (
	EnvMode              = "INGEST_MODE"
	EnvBlockStart        = "BLOCK_START"
	EnvBlockEnd          = "BLOCK_END"
	EnvArchiveEndpoint   = "ARCHIVE_ENDPOINT"
	EnvRateLimitSeconds  = "RATE_LIMIT_SECONDS"
	EnvNetuidFilter      = "NETUID_FILTER"
	EnvStep              = "STEP"
	EnvBatchSize         = "BATCH_SIZE"
	EnvBatchDelaySeconds = "BATCH_DELAY_SECONDS"
	EnvStoreArtifact     = "STORE_ARTIFACT"
)

// Load reads configuration from a YAML file, applies environment overrides
// and fills defaults. A missing file is an error unless path is empty.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the YAML content
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Ingest.Mode == "" {
		cfg.Ingest.Mode = "live"
	}
	if cfg.Ingest.Step == nil {
		step := uint64(1)
		cfg.Ingest.Step = &step
	}
	if cfg.Ingest.RateLimitSeconds == 0 {
		cfg.Ingest.RateLimitSeconds = 1.0
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 50
	}
	if cfg.Ingest.BatchDelaySeconds == 0 {
		cfg.Ingest.BatchDelaySeconds = 0.5
	}
	if cfg.Ingest.PollInterval == 0 {
		cfg.Ingest.PollInterval = 12 * time.Second
	}

	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 30 * time.Second
	}

	if cfg.Epoch.Tempo == 0 {
		cfg.Epoch.Tempo = epoch.DefaultTempo
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}

	if cfg.Worker.ID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		// Two processes on one host must not share consumer names.
		cfg.Worker.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if cfg.Artifact.Backend == "" {
		cfg.Artifact.Backend = "filesystem"
	}
	if cfg.Artifact.Backend == "filesystem" {
		if cfg.Artifact.Options == nil {
			cfg.Artifact.Options = map[string]string{}
		}
		if cfg.Artifact.Options["base_path"] == "" {
			cfg.Artifact.Options["base_path"] = "."
		}
	}

	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = "metagraph"
	}
}

// applyEnv overrides ingestion options from the environment.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	invalid := func(name, v string, err error) {
		errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
	}
	uintPtr := func(name string, dst **uint64) {
		if v, ok := get(name); ok {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				invalid(name, v, err)
				return
			}
			*dst = &n
		}
	}
	floatVal := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				invalid(name, v, err)
				return
			}
			*dst = f
		}
	}

	if v, ok := get(EnvMode); ok {
		cfg.Ingest.Mode = v
	}
	uintPtr(EnvBlockStart, &cfg.Ingest.BlockStart)
	uintPtr(EnvBlockEnd, &cfg.Ingest.BlockEnd)
	if v, ok := get(EnvArchiveEndpoint); ok {
		cfg.Chain.ArchiveEndpoint = v
	}
	floatVal(EnvRateLimitSeconds, &cfg.Ingest.RateLimitSeconds)
	if v, ok := get(EnvNetuidFilter); ok {
		cfg.Ingest.NetuidFilter = v
	}
	uintPtr(EnvStep, &cfg.Ingest.Step)
	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			invalid(EnvBatchSize, v, err)
		} else {
			cfg.Ingest.BatchSize = n
		}
	}
	floatVal(EnvBatchDelaySeconds, &cfg.Ingest.BatchDelaySeconds)
	if v, ok := get(EnvStoreArtifact); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			invalid(EnvStoreArtifact, v, err)
		} else {
			cfg.Ingest.StoreArtifact = &b
		}
	}

	return errors.Join(errs...)
}
