package model

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ AssetsModel = (*defaultAssetsModel)(nil)

const assetsRows = "id, symbol, name, exchange, currency, created_at"

type (
	// AssetsModel reads and registers rows of the assets table.
	AssetsModel interface {
		FindOneBySymbol(ctx context.Context, symbol string) (*Assets, error)
		// FindOneBySymbolNoCache bypasses redis.
		FindOneBySymbolNoCache(ctx context.Context, symbol string) (*Assets, error)
		// Insert registers data and fills in its id. Callers detect a
		// concurrent insert of the same symbol through the driver's
		// unique-violation error.
		Insert(ctx context.Context, data *Assets) error
	}

	defaultAssetsModel struct {
		conn    sqlx.SqlConn
		dialect Dialect
		cached  *sqlc.CachedConn
		keyOf   func(symbol string) string
	}

	Assets struct {
		Id        int64  `db:"id"`
		Symbol    string `db:"symbol"`
		Name      string `db:"name"`
		Exchange  string `db:"exchange"`
		Currency  string `db:"currency"`
		CreatedAt Time   `db:"created_at"`
	}

	// AssetsOption customises an AssetsModel.
	AssetsOption func(*defaultAssetsModel)
)

// WithAssetsCache fronts FindOneBySymbol with a redis read-through cache.
func WithAssetsCache(rds *redis.Redis, ttl time.Duration, keyOf func(symbol string) string) AssetsOption {
	return func(m *defaultAssetsModel) {
		if rds == nil || keyOf == nil {
			return
		}
		opts := []cache.Option{cache.WithNotFoundExpiry(time.Minute)}
		if ttl > 0 {
			opts = append(opts, cache.WithExpiry(ttl))
		}
		cc := sqlc.NewNodeConn(m.conn, rds, opts...)
		m.cached = &cc
		m.keyOf = keyOf
	}
}

// NewAssetsModel returns a model for the assets table.
func NewAssetsModel(conn sqlx.SqlConn, dialect Dialect, opts ...AssetsOption) AssetsModel {
	m := &defaultAssetsModel{conn: conn, dialect: dialect}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *defaultAssetsModel) FindOneBySymbol(ctx context.Context, symbol string) (*Assets, error) {
	query := m.dialect.Rebind("SELECT " + assetsRows + " FROM assets WHERE symbol = $1 LIMIT 1")
	var resp Assets
	if m.cached != nil {
		err := m.cached.QueryRowCtx(ctx, &resp, m.keyOf(symbol), func(ctx context.Context, conn sqlx.SqlConn, v any) error {
			return conn.QueryRowCtx(ctx, v, query, symbol)
		})
		switch {
		case err == nil:
			return &resp, nil
		case errors.Is(err, sqlc.ErrNotFound):
			return nil, ErrNotFound
		default:
			logx.WithContext(ctx).Errorf("assets: cache lookup symbol=%s err=%v", symbol, err)
		}
	}
	return m.FindOneBySymbolNoCache(ctx, symbol)
}

func (m *defaultAssetsModel) FindOneBySymbolNoCache(ctx context.Context, symbol string) (*Assets, error) {
	query := m.dialect.Rebind("SELECT " + assetsRows + " FROM assets WHERE symbol = $1 LIMIT 1")
	var resp Assets
	switch err := m.conn.QueryRowCtx(ctx, &resp, query, symbol); {
	case err == nil:
		return &resp, nil
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (m *defaultAssetsModel) Insert(ctx context.Context, data *Assets) error {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = Now()
	}
	query := m.dialect.Rebind("INSERT INTO assets (symbol, name, exchange, currency, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id")
	if err := m.conn.QueryRowCtx(ctx, &data.Id, query, data.Symbol, data.Name, data.Exchange, data.Currency, data.CreatedAt); err != nil {
		return err
	}
	// Drop the not-found placeholder left by an earlier miss.
	if m.cached != nil {
		if err := m.cached.DelCacheCtx(ctx, m.keyOf(data.Symbol)); err != nil {
			logx.WithContext(ctx).Errorf("assets: cache invalidate symbol=%s err=%v", data.Symbol, err)
		}
	}
	return nil
}
