// Package memstore is an in-process store backend.
package memstore

import (
	"context"
	"sync"
	"time"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func init() {
	store.Register("memory", func(ctx context.Context, cfg store.Config, deps store.Deps) (store.Backend, error) {
		return New(), nil
	})
}

var _ store.Backend = (*Store)(nil)

type series struct {
	bars  map[calendar.Date]market.Bar
	marks map[calendar.Date]store.NoDataMark
}

func newSeries() *series {
	return &series{
		bars:  make(map[calendar.Date]market.Bar),
		marks: make(map[calendar.Date]store.NoDataMark),
	}
}

// Store keeps every series in maps guarded by one mutex. Transactions hold
// the write lock for their whole duration.
type Store struct {
	mu     sync.RWMutex
	series map[store.SeriesKey]*series
	assets map[string]store.Asset
	nextID int64
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		series: make(map[store.SeriesKey]*series),
		assets: make(map[string]store.Asset),
		now:    time.Now,
	}
}

// Get implements store.Tx.
func (s *Store) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Get(ctx, key, dates)
}

// Upsert implements store.Tx.
func (s *Store) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	var n int
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.Upsert(ctx, key, bars)
		return err
	})
	return n, err
}

// MarkNoData implements store.Tx.
func (s *Store) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	return s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkNoData(ctx, key, dates, reason)
	})
}

// Coverage implements store.Tx.
func (s *Store) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	if err := ctx.Err(); err != nil {
		return store.Coverage{}, store.Wrap("coverage", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Coverage(ctx, key, tradingDates)
}

// Transact implements store.Store. Writes are staged and applied only when
// fn succeeds.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap("begin", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, staged: make(map[store.SeriesKey]*series)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// ResolveOrCreate implements store.AssetRegistry.
func (s *Store) ResolveOrCreate(ctx context.Context, symbol string) (store.Asset, error) {
	key := store.NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset, ok := s.assets[key]; ok {
		return asset, nil
	}
	s.nextID++
	asset := store.Asset{ID: s.nextID, Symbol: key, Name: key, CreatedAt: s.now().UTC()}
	s.assets[key] = asset
	return asset, nil
}

// Lookup implements store.AssetRegistry.
func (s *Store) Lookup(ctx context.Context, symbol string) (store.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[store.NormalizeSymbol(symbol)]
	if !ok {
		return store.Asset{}, store.ErrAssetNotFound
	}
	return asset, nil
}

// Purge implements store.Purger.
func (s *Store) Purge(ctx context.Context, key store.SeriesKey, from, to calendar.Date) (store.PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.PurgeResult
	ser, ok := s.series[key]
	if !ok {
		return res, nil
	}
	for d := range ser.bars {
		if !d.Before(from) && !d.After(to) {
			delete(ser.bars, d)
			res.Bars++
		}
	}
	for d := range ser.marks {
		if !d.Before(from) && !d.After(to) {
			delete(ser.marks, d)
			res.Marks++
		}
	}
	return res, nil
}

// Marks implements store.MarkLister.
func (s *Store) Marks(ctx context.Context, key store.SeriesKey, from, to calendar.Date) ([]store.NoDataMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[key]
	if !ok {
		return nil, nil
	}
	var out []store.NoDataMark
	for d, mark := range ser.marks {
		if !d.Before(from) && !d.After(to) {
			out = append(out, mark)
		}
	}
	sortMarks(out)
	return out, nil
}

// RowCount reports the number of stored bars of a series.
func (s *Store) RowCount(key store.SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.series[key]; ok {
		return len(ser.bars)
	}
	return 0
}

func (s *Store) view() *memTx {
	return &memTx{store: s}
}
