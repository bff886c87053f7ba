// Package artifact persists subnet snapshots under deterministic keys.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/vietddude/blockingest/internal/core/domain"
)

var (
	// ErrNotFound is returned when no artifact exists under a key.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned for keys that fail validation.
	ErrInvalidKey = errors.New("invalid artifact key")

	// ErrUnknownBackend is returned by Open for unregistered backend names.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// Store is a write-once-per-key object store. Rewriting a key with the same
// data leaves the store unchanged.
type Store interface {
	Store(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ResolveKey validates a key and returns its canonical form.
func ResolveKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasSuffix(key, "/"):
		return "", fmt.Errorf("%w: %q ends with /", ErrInvalidKey, key)
	case !keyPattern.MatchString(key):
		return "", fmt.Errorf("%w: %q has invalid characters", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q escapes the base path", ErrInvalidKey, key)
		}
	}
	return key, nil
}

// StoreSnapshot writes one subnet snapshot under its deterministic path.
func StoreSnapshot(ctx context.Context, s Store, block uint64, lite bool, snap domain.SubnetSnapshot) error {
	key := domain.ArtifactKey{Block: block, Netuid: snap.Netuid, Kind: domain.KindFor(lite)}
	return s.Store(ctx, key.Path(), snap.Data)
}

// Config selects and configures a backend.
type Config struct {
	Backend string            `yaml:"backend"`
	Options map[string]string `yaml:"options"`
}

// Factory builds a backend from its options.
type Factory func(ctx context.Context, options map[string]string) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the backend named in cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownBackend, cfg.Backend, strings.Join(Backends(), ", "))
	}
	return f(ctx, cfg.Options)
}

func requireOption(options map[string]string, backend, name string) (string, error) {
	v := options[name]
	if v == "" {
		return "", fmt.Errorf("%s backend requires option %q", backend, name)
	}
	return v, nil
}

func init() {
	Register("memory", func(context.Context, map[string]string) (Store, error) {
		return NewMemoryStore(), nil
	})
	Register("filesystem", func(_ context.Context, options map[string]string) (Store, error) {
		base, err := requireOption(options, "filesystem", "base_path")
		if err != nil {
			return nil, err
		}
		return NewFilesystemStore(base)
	})
	Register("s3", func(ctx context.Context, options map[string]string) (Store, error) {
		bucket, err := requireOption(options, "s3", "bucket")
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, S3Options{
			Bucket:   bucket,
			Prefix:   options["prefix"],
			Region:   options["region"],
			Endpoint: options["endpoint"],
		})
	})
}
