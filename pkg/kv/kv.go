// Package kv provides the key-value persistence layer behind sessions,
// tasks, and cache entries. Every backend supports per-key expiry;
// missing and expired keys are reported as ErrNotFound, never as a
// backend failure.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with per-key TTL.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A non-positive ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys starting with prefix, sorted
	// ascending. Intended for small administrative namespaces, not
	// bulk scans.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "memory", "redis", "sqlite", "postgres", "mysql"
	DSN     string // SQL connection string, or file path for sqlite
	Redis   RedisConfig
}

// RedisConfig carries redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// New builds the store named by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.Redis)
	case "sqlite", "sqlite3", "postgres", "mysql":
		return NewSQL(cfg.Backend, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported kv backend: %s (supported: memory, redis, sqlite, postgres, mysql)", cfg.Backend)
	}
}
