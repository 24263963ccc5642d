package memstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the key-value contract against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "research/meta/absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("last writer wins", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "research/meta/principles", []byte(`{"v":1}`)))
		require.NoError(t, store.Put(ctx, "research/meta/principles", []byte(`{"v":2}`)))
		got, err := store.Get(ctx, "research/meta/principles")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "research/constructs/definitions", []byte(`"defs"`)))
		require.NoError(t, store.Put(ctx, "research/meta/success-criteria", []byte(`[1,2]`)))
		require.NoError(t, store.Put(ctx, "notes/scratch/x", []byte(`null`)))

		keys, err := store.Keys(ctx, "research/meta/")
		require.NoError(t, err)
		assert.Equal(t, []string{"research/meta/principles", "research/meta/success-criteria"}, keys)

		all, err := store.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)
		assert.IsNonDecreasing(t, all)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		assert.ErrorIs(t, store.Put(ctx, "", []byte(`{}`)), ErrInvalidKey)
		assert.ErrorIs(t, store.Put(ctx, "research/meta/has space", []byte(`{}`)), ErrInvalidKey)
		assert.ErrorIs(t, store.Put(ctx, "research/meta/raw", []byte(`not json`)), ErrInvalidValue)
		_, err := store.Get(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	exerciseStore(t, store)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "memory.json")
	store, err := OpenFile(path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), "research/meta/principles")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr), "temporary file should be renamed away")
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	keys, err := reopened.Keys(context.Background(), "research/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := OpenRedis(context.Background(), RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr()), Prefix: "lint:"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)

	raw, err := mr.Get("lint:research/meta/principles")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, raw)
}

func TestRedisStoreConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := OpenRedis(context.Background(), RedisOptions{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LINTREPORTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LINTREPORTS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.db.ExecContext(ctx, `DELETE FROM memory_keys`)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, store)

	store, err = Open(ctx, Config{Backend: "FILE", Path: filepath.Join(t.TempDir(), "m.json")})
	require.NoError(t, err)
	assert.IsType(t, &File{}, store)

	_, err = Open(ctx, Config{Backend: "s3"})
	assert.Error(t, err)
}
