// Package memstore is the shared key-value store pipeline agents publish their
// memory keys to. Values are JSON documents; the last write to a key wins and
// there are no transactions.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrNotFound is returned by Get for keys that were never written.
	ErrNotFound = errors.New("memstore: key not found")
	// ErrInvalidKey rejects empty keys and keys containing whitespace.
	ErrInvalidKey = errors.New("memstore: invalid key")
	// ErrInvalidValue rejects values that are not JSON.
	ErrInvalidValue = errors.New("memstore: value is not valid JSON")
)

// Store is the key-value contract every backend satisfies.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Keys lists stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend Backend
	// URL is the connection string for redis and postgres.
	URL string
	// Path is the file for the file and sqlite backends.
	Path string
	// Prefix namespaces keys inside a shared redis database.
	Prefix string
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend)))) {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendFile:
		return OpenFile(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendRedis:
		return OpenRedis(ctx, RedisOptions{URL: cfg.URL, Prefix: cfg.Prefix})
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("memstore: unknown backend %q", cfg.Backend)
	}
}

func validateKey(key string) error {
	if key == "" || strings.IndexFunc(key, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func validatePut(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: %s", ErrInvalidValue, key)
	}
	return nil
}
