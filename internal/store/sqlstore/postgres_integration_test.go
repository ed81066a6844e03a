//go:build integration

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/internal/store"
	"quotecache/internal/store/storetest"
	"quotecache/pkg/market"
)

// Run with: QUOTECACHE_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/store/sqlstore
func postgresFactory(driver string) storetest.Factory {
	return func(t *testing.T) store.Backend {
		dsn := os.Getenv("QUOTECACHE_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("QUOTECACHE_TEST_POSTGRES_DSN not set")
		}
		admin, err := sql.Open("pgx", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { admin.Close() })

		schema := fmt.Sprintf("qc_test_%d", time.Now().UnixNano())
		_, err = admin.Exec("CREATE SCHEMA " + schema)
		require.NoError(t, err)
		t.Cleanup(func() { _, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE") })

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()

		s, err := Open(context.Background(), store.Config{Driver: driver, DSN: u.String(), MaxOpen: 8}, store.Deps{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
}

func TestPostgresContractPgx(t *testing.T) {
	storetest.Run(t, postgresFactory("pgx"))
}

func TestPostgresContractLibPQ(t *testing.T) {
	storetest.Run(t, postgresFactory("postgres"))
}

func TestPostgresAdvisoryLockSerialisesWriters(t *testing.T) {
	s := postgresFactory("pgx")(t)
	ctx := context.Background()
	asset, err := s.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
				n, err := tx.Upsert(ctx, key, []market.Bar{storetest.Bar("2024-06-03", 1), storetest.Bar("2024-06-04", 2)})
				if err != nil {
					return err
				}
				mu.Lock()
				total += n
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, total)
}
