package sqlstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"quotecache/internal/model"
	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// sqlTx runs store operations on a session, which is either the pooled
// connection or an open transaction.
type sqlTx struct {
	store   *Store
	session sqlx.Session
	locked  map[store.SeriesKey]struct{}
}

// lock serialises writers of one series until the transaction ends. SQLite
// already allows a single writer, so only Postgres takes a lock.
func (t *sqlTx) lock(ctx context.Context, key store.SeriesKey) error {
	if t.store.dialect != model.Postgres {
		return nil
	}
	if _, ok := t.locked[key]; ok {
		return nil
	}
	if _, err := t.session.ExecCtx(ctx, "SELECT pg_advisory_xact_lock($1)", key.LockID()); err != nil {
		return store.Wrap("advisory lock "+key.String(), err)
	}
	t.locked[key] = struct{}{}
	return nil
}

func (t *sqlTx) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	lo, hi, ok := store.Bounds(dates)
	if !ok {
		return map[calendar.Date]market.Bar{}, nil
	}
	rows, err := t.store.bars.FindRange(ctx, t.session, key.AssetID, string(key.Adjust.OrNone()), lo, hi)
	if err != nil {
		return nil, store.Wrap("get bars", err)
	}
	want := store.DateSet(dates)
	out := make(map[calendar.Date]market.Bar, len(dates))
	for _, row := range rows {
		if _, ok := want[row.TradeDate]; ok {
			out[row.TradeDate] = row.Bar()
		}
	}
	return out, nil
}

func (t *sqlTx) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	if err := t.lock(ctx, key); err != nil {
		return 0, err
	}
	now := model.Now()
	rows := make([]model.PriceBars, len(bars))
	for i, bar := range bars {
		bar.AssetID = key.AssetID
		bar.Adjust = key.Adjust.OrNone()
		rows[i] = model.PriceBarsFromBar(bar, now)
	}
	n, err := t.store.bars.InsertIgnore(ctx, t.session, rows)
	if err != nil {
		return 0, store.Wrap("upsert bars", err)
	}
	return int(n), nil
}

func (t *sqlTx) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	if len(dates) == 0 {
		return nil
	}
	if err := t.lock(ctx, key); err != nil {
		return err
	}
	now := model.Now()
	rows := make([]model.PriceGaps, len(dates))
	for i, d := range dates {
		rows[i] = model.PriceGaps{
			AssetId:    key.AssetID,
			Adjust:     string(key.Adjust.OrNone()),
			TradeDate:  d,
			Reason:     reason,
			RecordedAt: now,
		}
	}
	if _, err := t.store.gaps.InsertIgnore(ctx, t.session, rows); err != nil {
		return store.Wrap("mark no data", err)
	}
	return nil
}

func (t *sqlTx) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	lo, hi, ok := store.Bounds(tradingDates)
	if !ok {
		return store.Coverage{}, nil
	}
	adjust := string(key.Adjust.OrNone())
	barDates, err := t.store.bars.FindDates(ctx, t.session, key.AssetID, adjust, lo, hi)
	if err != nil {
		return store.Coverage{}, store.Wrap("coverage bars", err)
	}
	gapRows, err := t.store.gaps.FindRange(ctx, t.session, key.AssetID, adjust, lo, hi)
	if err != nil {
		return store.Coverage{}, store.Wrap("coverage marks", err)
	}
	marks := make(map[calendar.Date]struct{}, len(gapRows))
	for _, row := range gapRows {
		marks[row.TradeDate] = struct{}{}
	}
	return store.ComputeCoverage(tradingDates, store.DateSet(barDates), marks), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
