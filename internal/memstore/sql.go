package memstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name   string
	create string
	upsert string
	get    string
	keys   string
}

var sqliteDialect = dialect{
	name: "sqlite",
	create: `CREATE TABLE IF NOT EXISTS memory_keys (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	upsert: `INSERT INTO memory_keys (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	get:  `SELECT value FROM memory_keys WHERE key = ?`,
	keys: `SELECT key FROM memory_keys WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
}

var postgresDialect = dialect{
	name: "postgres",
	create: `CREATE TABLE IF NOT EXISTS memory_keys (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	upsert: `INSERT INTO memory_keys (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	get:  `SELECT value FROM memory_keys WHERE key = $1`,
	keys: `SELECT key FROM memory_keys WHERE left(key, length($1::text)) = $2::text ORDER BY key COLLATE "C"`,
}

// SQL stores values in a single memory_keys table.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if path == "" {
		return nil, fmt.Errorf("memstore: sqlite backend requires a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("memstore: create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memstore: open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)
	return newSQL(ctx, db, sqliteDialect)
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("memstore: postgres backend requires a url")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("memstore: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memstore: ping postgres: %w", err)
	}
	return newSQL(ctx, db, postgresDialect)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memstore: create %s table: %w", d.name, err)
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Put(ctx context.Context, key string, value []byte) error {
	if err := validatePut(key, value); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(value)); err != nil {
		return fmt.Errorf("memstore: %s put %s: %w", s.dialect.name, key, err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var value string
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: %s get %s: %w", s.dialect.name, key, err)
	}
	return []byte(value), nil
}

func (s *SQL) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.keys, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("memstore: %s keys: %w", s.dialect.name, err)
	}
	defer func() { _ = rows.Close() }()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("memstore: %s scan: %w", s.dialect.name, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
