package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/redis/redistest"

	cachekeys "quotecache/internal/cache"
	"quotecache/internal/store"
	"quotecache/internal/store/storetest"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func openSQLite(t *testing.T, deps store.Deps) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(context.Background(), store.Config{Driver: "sqlite", DSN: dsn, MaxOpen: 4}, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return openSQLite(t, store.Deps{}) })
}

func TestSQLiteContractWithAssetCache(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return openSQLite(t, store.Deps{Redis: redistest.CreateRedis(t), AssetTTL: time.Hour})
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t, store.Deps{})
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "cache.db")
	cfg := store.Config{Driver: "sqlite", DSN: dsn}

	s, err := Open(ctx, cfg, store.Deps{})
	require.NoError(t, err)
	asset, err := s.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}
	_, err = s.Upsert(ctx, key, []market.Bar{storetest.Bar("2024-06-03", 1)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	backend, err := store.Open(ctx, cfg, store.Deps{})
	require.NoError(t, err)
	defer backend.Close()
	again, err := backend.ResolveOrCreate(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, asset.ID, again.ID)
	got, err := backend.Get(ctx, key, []calendar.Date{calendar.MustParseDate("2024-06-03")})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAssetCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	rds := redistest.CreateRedis(t)
	s := openSQLite(t, store.Deps{Redis: rds, AssetTTL: time.Hour})

	_, err := s.Lookup(ctx, "aaa")
	require.ErrorIs(t, err, store.ErrAssetNotFound)

	created, err := s.ResolveOrCreate(ctx, "aaa")
	require.NoError(t, err, "the cached miss must not hide the new row")

	found, err := s.Lookup(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	exists, err := rds.Exists(cachekeys.AssetKey("AAA"))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.conn.ExecCtx(ctx, "UPDATE assets SET name = ? WHERE id = ?", "Renamed", created.ID)
	require.NoError(t, err)
	cached, err := s.Lookup(ctx, "aaa")
	require.NoError(t, err)
	assert.Equal(t, "AAA", cached.Name, "served from redis")
}

func TestAssetCacheOutageFallsBackToDatabase(t *testing.T) {
	ctx := context.Background()
	rds, err := redis.NewRedis(redis.RedisConf{Host: "127.0.0.1:1", Type: redis.NodeType, NonBlock: true})
	require.NoError(t, err)
	s := openSQLite(t, store.Deps{Redis: rds, AssetTTL: time.Hour})

	created, err := s.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	found, err := s.Lookup(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), store.Config{Driver: "sqlite"}, store.Deps{})
	assert.Error(t, err)
	_, err = Open(context.Background(), store.Config{Driver: "oracle", DSN: "x"}, store.Deps{})
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", sqliteDSN("file:a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", sqliteDSN("file:a.db?mode=rwc"))
	assert.Equal(t, "file:a.db?_pragma=foreign_keys(1)", sqliteDSN("file:a.db?_pragma=foreign_keys(1)"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate")))
	assert.False(t, isUniqueViolation(nil))
}

func TestSQLiteUniqueViolationDetected(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, store.Deps{})
	_, err := s.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	_, err = s.conn.ExecCtx(ctx, "INSERT INTO assets (symbol, name, created_at) VALUES (?, ?, ?)", "AAA", "dup", "2024-01-01T00:00:00Z")
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}
