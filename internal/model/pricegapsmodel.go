package model

import (
	"context"
	"strings"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"quotecache/pkg/calendar"
)

var _ PriceGapsModel = (*defaultPriceGapsModel)(nil)

const (
	priceGapsRows  = "asset_id, adjust, trade_date, reason, recorded_at"
	priceGapsWidth = 5
)

type (
	// PriceGapsModel works on price_gaps, the accepted no-data dates.
	PriceGapsModel interface {
		FindRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]PriceGaps, error)
		// InsertIgnore keeps the first reason recorded for a date.
		InsertIgnore(ctx context.Context, session sqlx.Session, rows []PriceGaps) (int64, error)
		DeleteRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) (int64, error)
	}

	defaultPriceGapsModel struct {
		dialect Dialect
	}

	PriceGaps struct {
		AssetId    int64         `db:"asset_id"`
		Adjust     string        `db:"adjust"`
		TradeDate  calendar.Date `db:"trade_date"`
		Reason     string        `db:"reason"`
		RecordedAt Time          `db:"recorded_at"`
	}
)

// NewPriceGapsModel returns a model for the price_gaps table.
func NewPriceGapsModel(dialect Dialect) PriceGapsModel {
	return &defaultPriceGapsModel{dialect: dialect}
}

func (m *defaultPriceGapsModel) FindRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]PriceGaps, error) {
	query := m.dialect.Rebind("SELECT " + priceGapsRows + " FROM price_gaps " +
		"WHERE asset_id = $1 AND adjust = $2 AND trade_date >= $3 AND trade_date <= $4 ORDER BY trade_date")
	var rows []PriceGaps
	if err := session.QueryRowsCtx(ctx, &rows, query, assetID, adjust, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPriceGapsModel) InsertIgnore(ctx context.Context, session sqlx.Session, rows []PriceGaps) (int64, error) {
	var inserted int64
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		chunk := rows[start:end]
		args := make([]any, 0, len(chunk)*priceGapsWidth)
		for _, r := range chunk {
			args = append(args, r.AssetId, r.Adjust, r.TradeDate, r.Reason, r.RecordedAt)
		}
		var b strings.Builder
		b.WriteString("INSERT INTO price_gaps (")
		b.WriteString(priceGapsRows)
		b.WriteString(") VALUES ")
		b.WriteString(valuesList(len(chunk), priceGapsWidth))
		b.WriteString(" ON CONFLICT (asset_id, adjust, trade_date) DO NOTHING")
		res, err := session.ExecCtx(ctx, m.dialect.Rebind(b.String()), args...)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (m *defaultPriceGapsModel) DeleteRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) (int64, error) {
	query := m.dialect.Rebind("DELETE FROM price_gaps WHERE asset_id = $1 AND adjust = $2 AND trade_date >= $3 AND trade_date <= $4")
	res, err := session.ExecCtx(ctx, query, assetID, adjust, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
