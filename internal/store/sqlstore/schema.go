package sqlstore

import (
	"context"

	"quotecache/internal/model"
	"quotecache/internal/store"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
    id         BIGSERIAL PRIMARY KEY,
    symbol     TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    exchange   TEXT NOT NULL DEFAULT '',
    currency   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS price_bars (
    asset_id      BIGINT NOT NULL REFERENCES assets (id),
    adjust        TEXT NOT NULL DEFAULT 'none',
    trade_date    DATE NOT NULL,
    open          NUMERIC NOT NULL,
    high          NUMERIC NOT NULL,
    low           NUMERIC NOT NULL,
    close         NUMERIC NOT NULL,
    volume        BIGINT NOT NULL DEFAULT 0,
    turnover      NUMERIC,
    amplitude     NUMERIC,
    pct_change    NUMERIC,
    change_amount NUMERIC,
    turnover_rate NUMERIC,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (asset_id, adjust, trade_date)
)`,
	`CREATE TABLE IF NOT EXISTS price_gaps (
    asset_id    BIGINT NOT NULL REFERENCES assets (id),
    adjust      TEXT NOT NULL DEFAULT 'none',
    trade_date  DATE NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (asset_id, adjust, trade_date)
)`,
}

// SQLite keeps dates and decimals as TEXT so values round-trip exactly.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS assets (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol     TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    exchange   TEXT NOT NULL DEFAULT '',
    currency   TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS price_bars (
    asset_id      INTEGER NOT NULL REFERENCES assets (id),
    adjust        TEXT NOT NULL DEFAULT 'none',
    trade_date    TEXT NOT NULL,
    open          TEXT NOT NULL,
    high          TEXT NOT NULL,
    low           TEXT NOT NULL,
    close         TEXT NOT NULL,
    volume        INTEGER NOT NULL DEFAULT 0,
    turnover      TEXT,
    amplitude     TEXT,
    pct_change    TEXT,
    change_amount TEXT,
    turnover_rate TEXT,
    created_at    TEXT NOT NULL,
    PRIMARY KEY (asset_id, adjust, trade_date)
) WITHOUT ROWID`,
	`CREATE TABLE IF NOT EXISTS price_gaps (
    asset_id    INTEGER NOT NULL REFERENCES assets (id),
    adjust      TEXT NOT NULL DEFAULT 'none',
    trade_date  TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (asset_id, adjust, trade_date)
) WITHOUT ROWID`,
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == model.SQLite {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecCtx(ctx, stmt); err != nil {
			return store.Wrap("migrate", err)
		}
	}
	return nil
}
