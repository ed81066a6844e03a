// Package sqlstore persists bars in Postgres or SQLite through go-zero sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	cachekeys "quotecache/internal/cache"
	"quotecache/internal/model"
	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func init() {
	for _, driver := range []string{"postgres", "pgx", "sqlite"} {
		store.Register(driver, func(ctx context.Context, cfg store.Config, deps store.Deps) (store.Backend, error) {
			s, err := Open(ctx, cfg, deps)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	}
}

var _ store.Backend = (*Store)(nil)

// Store implements store.Backend on a SQL database.
type Store struct {
	conn    sqlx.SqlConn
	db      *sql.DB
	dialect model.Dialect
	assets  model.AssetsModel
	bars    model.PriceBarsModel
	gaps    model.PriceGapsModel
}

// Open connects, applies the schema and wires the optional redis asset cache.
func Open(ctx context.Context, cfg store.Config, deps store.Deps) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required for driver %q", cfg.Driver)
	}
	driverName, dialect, err := resolveDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if dialect == model.SQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driverName, err)
	}

	conn := sqlx.NewSqlConnFromDB(db)
	s := &Store{
		conn:    conn,
		db:      db,
		dialect: dialect,
		assets:  model.NewAssetsModel(conn, dialect, model.WithAssetsCache(deps.Redis, deps.AssetTTL, cachekeys.AssetKey)),
		bars:    model.NewPriceBarsModel(dialect),
		gaps:    model.NewPriceGapsModel(dialect),
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logx.WithContext(ctx).Infof("sqlstore: ready driver=%s dialect=%s asset_cache=%t", driverName, dialect, deps.Redis != nil)
	return s, nil
}

func resolveDriver(driver string) (string, model.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx":
		return "pgx", model.Postgres, nil
	case "postgres", "postgresql":
		return "postgres", model.Postgres, nil
	case "sqlite", "sqlite3":
		return "sqlite", model.SQLite, nil
	default:
		return "", "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// sqliteDSN turns on WAL, a busy timeout and immediate transactions unless
// the DSN already sets pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Get implements store.Tx.
func (s *Store) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	return s.tx(s.conn).Get(ctx, key, dates)
}

// Coverage implements store.Tx.
func (s *Store) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	return s.tx(s.conn).Coverage(ctx, key, tradingDates)
}

// Upsert implements store.Tx in its own transaction.
func (s *Store) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	var n int
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.Upsert(ctx, key, bars)
		return err
	})
	return n, err
}

// MarkNoData implements store.Tx in its own transaction.
func (s *Store) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	if len(dates) == 0 {
		return nil
	}
	return s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.MarkNoData(ctx, key, dates, reason)
	})
}

// Transact implements store.Store. Errors returned by fn come back
// unchanged; failures to begin or commit are wrapped with store.ErrStore.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var fnErr error
	err := s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		fnErr = fn(ctx, s.tx(session))
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return store.Wrap("transact", err)
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// ResolveOrCreate implements store.AssetRegistry.
func (s *Store) ResolveOrCreate(ctx context.Context, symbol string) (store.Asset, error) {
	asset, err := s.Lookup(ctx, symbol)
	if !errors.Is(err, store.ErrAssetNotFound) {
		return asset, err
	}
	key := store.NormalizeSymbol(symbol)
	row := &model.Assets{Symbol: key, Name: key}
	switch err := s.assets.Insert(ctx, row); {
	case err == nil:
		logx.WithContext(ctx).Infof("sqlstore: registered asset symbol=%s id=%d", key, row.Id)
		return toAsset(row), nil
	case isUniqueViolation(err):
		found, err := s.assets.FindOneBySymbolNoCache(ctx, key)
		if err != nil {
			return store.Asset{}, store.Wrap("resolve asset", err)
		}
		return toAsset(found), nil
	default:
		return store.Asset{}, store.Wrap("create asset", err)
	}
}

// Lookup implements store.AssetRegistry.
func (s *Store) Lookup(ctx context.Context, symbol string) (store.Asset, error) {
	row, err := s.assets.FindOneBySymbol(ctx, store.NormalizeSymbol(symbol))
	switch {
	case err == nil:
		return toAsset(row), nil
	case errors.Is(err, model.ErrNotFound):
		return store.Asset{}, store.ErrAssetNotFound
	default:
		return store.Asset{}, store.Wrap("lookup asset", err)
	}
}

// Purge implements store.Purger.
func (s *Store) Purge(ctx context.Context, key store.SeriesKey, from, to calendar.Date) (store.PurgeResult, error) {
	var res store.PurgeResult
	err := s.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		t := tx.(*sqlTx)
		if err := t.lock(ctx, key); err != nil {
			return err
		}
		adjust := string(key.Adjust.OrNone())
		var err error
		if res.Bars, err = s.bars.DeleteRange(ctx, t.session, key.AssetID, adjust, from, to); err != nil {
			return store.Wrap("purge bars", err)
		}
		if res.Marks, err = s.gaps.DeleteRange(ctx, t.session, key.AssetID, adjust, from, to); err != nil {
			return store.Wrap("purge marks", err)
		}
		return nil
	})
	return res, err
}

// Marks implements store.MarkLister.
func (s *Store) Marks(ctx context.Context, key store.SeriesKey, from, to calendar.Date) ([]store.NoDataMark, error) {
	rows, err := s.gaps.FindRange(ctx, s.conn, key.AssetID, string(key.Adjust.OrNone()), from, to)
	if err != nil {
		return nil, store.Wrap("list marks", err)
	}
	out := make([]store.NoDataMark, len(rows))
	for i, row := range rows {
		out[i] = store.NoDataMark{TradeDate: row.TradeDate, Reason: row.Reason, RecordedAt: row.RecordedAt.Time}
	}
	return out, nil
}

func (s *Store) tx(session sqlx.Session) *sqlTx {
	return &sqlTx{store: s, session: session, locked: make(map[store.SeriesKey]struct{})}
}

func toAsset(row *model.Assets) store.Asset {
	return store.Asset{
		ID:        row.Id,
		Symbol:    row.Symbol,
		Name:      row.Name,
		Exchange:  row.Exchange,
		Currency:  row.Currency,
		CreatedAt: row.CreatedAt.Time,
	}
}
