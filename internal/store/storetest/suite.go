// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Backend

// Bar builds a bar whose prices derive from seed.
func Bar(date string, seed int64) market.Bar {
	px := decimal.New(seed*100+25, -2)
	return market.Bar{
		TradeDate: calendar.MustParseDate(date),
		Open:      px,
		High:      px.Add(decimal.NewFromInt(1)),
		Low:       px.Sub(decimal.New(5, -1)),
		Close:     px.Add(decimal.New(25, -2)),
		Volume:    seed * 1000,
		Turnover:  decimal.NewNullDecimal(decimal.New(seed*123456, -2)),
		PctChange: decimal.NewNullDecimal(decimal.New(-137, -2)),
	}
}

func dates(ss ...string) []calendar.Date {
	out := make([]calendar.Date, len(ss))
	for i, s := range ss {
		out[i] = calendar.MustParseDate(s)
	}
	return out
}

// Run exercises a backend against the shared contract.
func Run(t *testing.T, newBackend Factory) {
	t.Run("AssetRegistry", func(t *testing.T) { testAssetRegistry(t, newBackend(t)) })
	t.Run("UpsertIsIdempotent", func(t *testing.T) { testUpsertIdempotent(t, newBackend(t)) })
	t.Run("FirstWriteWins", func(t *testing.T) { testFirstWriteWins(t, newBackend(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newBackend(t)) })
	t.Run("Coverage", func(t *testing.T) { testCoverage(t, newBackend(t)) })
	t.Run("SeriesAreIsolated", func(t *testing.T) { testSeriesIsolation(t, newBackend(t)) })
	t.Run("TransactRollsBack", func(t *testing.T) { testRollback(t, newBackend(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, newBackend(t)) })
	t.Run("PurgeAndMarks", func(t *testing.T) { testPurgeAndMarks(t, newBackend(t)) })
}

func testAssetRegistry(t *testing.T, b store.Backend) {
	ctx := context.Background()
	_, err := b.Lookup(ctx, "aaa")
	require.ErrorIs(t, err, store.ErrAssetNotFound)

	created, err := b.ResolveOrCreate(ctx, " aaa ")
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.Equal(t, "AAA", created.Symbol)
	assert.Equal(t, "AAA", created.Name)

	again, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	found, err := b.Lookup(ctx, "Aaa")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	other, err := b.ResolveOrCreate(ctx, "BBB")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)
}

func testUpsertIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID, Adjust: market.AdjustNone}
	bars := []market.Bar{Bar("2024-06-03", 1), Bar("2024-06-04", 2), Bar("2024-06-05", 3)}

	n, err := b.Upsert(ctx, key, bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = b.Upsert(ctx, key, bars)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.Upsert(ctx, key, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := b.Get(ctx, key, dates("2024-06-03", "2024-06-04", "2024-06-05", "2024-06-06"))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testFirstWriteWins(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}

	_, err = b.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 1)})
	require.NoError(t, err)
	n, err := b.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 9), Bar("2024-06-04", 9)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := b.Get(ctx, key, dates("2024-06-03"))
	require.NoError(t, err)
	assert.True(t, got[calendar.MustParseDate("2024-06-03")].Close.Equal(Bar("2024-06-03", 1).Close))
}

func testRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID, Adjust: market.AdjustForward}

	in := Bar("2024-06-03", 7)
	in.Amplitude = decimal.NewNullDecimal(decimal.RequireFromString("3.1415"))
	_, err = b.Upsert(ctx, key, []market.Bar{in})
	require.NoError(t, err)

	got, err := b.Get(ctx, key, dates("2024-06-03"))
	require.NoError(t, err)
	out, ok := got[in.TradeDate]
	require.True(t, ok)

	in.AssetID = asset.ID
	in.Adjust = market.AdjustForward
	assert.True(t, in.Equal(out), "stored %+v read back %+v", in, out)
	assert.False(t, out.Change.Valid)
}

func testCoverage(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}
	trading := dates("2024-06-03", "2024-06-04", "2024-06-05", "2024-06-06", "2024-06-07")

	cov, err := b.Coverage(ctx, key, trading)
	require.NoError(t, err)
	assert.Equal(t, 5, cov.Total)
	assert.Zero(t, cov.Covered)
	assert.Equal(t, trading, cov.Missing)

	_, err = b.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 1), Bar("2024-06-05", 2)})
	require.NoError(t, err)
	require.NoError(t, b.MarkNoData(ctx, key, dates("2024-06-06"), "halted"))
	require.NoError(t, b.MarkNoData(ctx, key, dates("2024-06-06"), "again"))

	cov, err = b.Coverage(ctx, key, trading)
	require.NoError(t, err)
	assert.Equal(t, 2, cov.Covered)
	assert.Equal(t, dates("2024-06-04", "2024-06-07"), cov.Missing)
	assert.Equal(t, dates("2024-06-06"), cov.NoData)

	cov, err = b.Coverage(ctx, key, nil)
	require.NoError(t, err)
	assert.Zero(t, cov.Total)
	assert.True(t, cov.Complete())
}

func testSeriesIsolation(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	raw := store.SeriesKey{AssetID: asset.ID, Adjust: market.AdjustNone}
	fwd := store.SeriesKey{AssetID: asset.ID, Adjust: market.AdjustForward}

	_, err = b.Upsert(ctx, raw, []market.Bar{Bar("2024-06-03", 1)})
	require.NoError(t, err)

	got, err := b.Get(ctx, fwd, dates("2024-06-03"))
	require.NoError(t, err)
	assert.Empty(t, got)
	n, err := b.Upsert(ctx, fwd, []market.Bar{Bar("2024-06-03", 2)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testRollback(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}
	boom := errors.New("boom")

	err = b.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 1)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		require.NoError(t, tx.MarkNoData(ctx, key, dates("2024-06-04"), "halted"))
		got, err := tx.Get(ctx, key, dates("2024-06-03"))
		require.NoError(t, err)
		assert.Len(t, got, 1, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	cov, err := b.Coverage(ctx, key, dates("2024-06-03", "2024-06-04"))
	require.NoError(t, err)
	assert.Zero(t, cov.Covered)
	assert.Len(t, cov.Missing, 2)

	err = b.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 1)}); err != nil {
			return err
		}
		return tx.MarkNoData(ctx, key, dates("2024-06-04"), "halted")
	})
	require.NoError(t, err)
	cov, err = b.Coverage(ctx, key, dates("2024-06-03", "2024-06-04"))
	require.NoError(t, err)
	assert.Equal(t, 1, cov.Covered)
	assert.Equal(t, dates("2024-06-04"), cov.NoData)
}

func testConcurrentUpserts(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}

	var bars []market.Bar
	for i := 1; i <= 20; i++ {
		bars = append(bars, Bar(fmt.Sprintf("2024-07-%02d", i), int64(i)))
	}

	const writers = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := b.Upsert(ctx, key, bars)
			mu.Lock()
			defer mu.Unlock()
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	assert.Equal(t, len(bars), total, "each row is inserted exactly once")

	all := make([]calendar.Date, len(bars))
	for i, bar := range bars {
		all[i] = bar.TradeDate
	}
	got, err := b.Get(ctx, key, all)
	require.NoError(t, err)
	assert.Len(t, got, len(bars))
}

func testPurgeAndMarks(t *testing.T, b store.Backend) {
	ctx := context.Background()
	asset, err := b.ResolveOrCreate(ctx, "AAA")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID}

	_, err = b.Upsert(ctx, key, []market.Bar{Bar("2024-06-03", 1), Bar("2024-06-04", 2), Bar("2024-06-10", 3)})
	require.NoError(t, err)
	require.NoError(t, b.MarkNoData(ctx, key, dates("2024-06-05", "2024-06-11"), "suspended"))

	marks, err := b.Marks(ctx, key, calendar.MustParseDate("2024-06-01"), calendar.MustParseDate("2024-06-30"))
	require.NoError(t, err)
	require.Len(t, marks, 2)
	assert.Equal(t, "2024-06-05", marks[0].TradeDate.String())
	assert.Equal(t, "suspended", marks[0].Reason)
	assert.False(t, marks[0].RecordedAt.IsZero())

	res, err := b.Purge(ctx, key, calendar.MustParseDate("2024-06-01"), calendar.MustParseDate("2024-06-07"))
	require.NoError(t, err)
	assert.Equal(t, store.PurgeResult{Bars: 2, Marks: 1}, res)

	cov, err := b.Coverage(ctx, key, dates("2024-06-03", "2024-06-05", "2024-06-10", "2024-06-11"))
	require.NoError(t, err)
	assert.Equal(t, 1, cov.Covered)
	assert.Equal(t, dates("2024-06-03", "2024-06-05"), cov.Missing)
	assert.Equal(t, dates("2024-06-11"), cov.NoData)
}
