package model

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

var _ PriceBarsModel = (*defaultPriceBarsModel)(nil)

const (
	priceBarsRows = "asset_id, adjust, trade_date, open, high, low, close, volume, " +
		"turnover, amplitude, pct_change, change_amount, turnover_rate, created_at"
	priceBarsWidth = 14
	// insertChunk keeps multi-row inserts well below driver parameter limits.
	insertChunk = 100
)

type (
	// PriceBarsModel works on the price_bars table. Every method takes the
	// session to run on so the same code serves plain connections and
	// transactions.
	PriceBarsModel interface {
		FindRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]PriceBars, error)
		FindDates(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]calendar.Date, error)
		// InsertIgnore inserts rows whose key is free and returns how many were new.
		InsertIgnore(ctx context.Context, session sqlx.Session, rows []PriceBars) (int64, error)
		DeleteRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) (int64, error)
	}

	defaultPriceBarsModel struct {
		dialect Dialect
	}

	PriceBars struct {
		AssetId      int64               `db:"asset_id"`
		Adjust       string              `db:"adjust"`
		TradeDate    calendar.Date       `db:"trade_date"`
		Open         decimal.Decimal     `db:"open"`
		High         decimal.Decimal     `db:"high"`
		Low          decimal.Decimal     `db:"low"`
		Close        decimal.Decimal     `db:"close"`
		Volume       int64               `db:"volume"`
		Turnover     decimal.NullDecimal `db:"turnover"`
		Amplitude    decimal.NullDecimal `db:"amplitude"`
		PctChange    decimal.NullDecimal `db:"pct_change"`
		ChangeAmount decimal.NullDecimal `db:"change_amount"`
		TurnoverRate decimal.NullDecimal `db:"turnover_rate"`
		CreatedAt    Time                `db:"created_at"`
	}

	tradeDateRow struct {
		TradeDate calendar.Date `db:"trade_date"`
	}
)

// NewPriceBarsModel returns a model for the price_bars table.
func NewPriceBarsModel(dialect Dialect) PriceBarsModel {
	return &defaultPriceBarsModel{dialect: dialect}
}

// PriceBarsFromBar maps a bar onto its row form.
func PriceBarsFromBar(bar market.Bar, createdAt Time) PriceBars {
	return PriceBars{
		AssetId:      bar.AssetID,
		Adjust:       string(bar.Adjust.OrNone()),
		TradeDate:    bar.TradeDate,
		Open:         bar.Open,
		High:         bar.High,
		Low:          bar.Low,
		Close:        bar.Close,
		Volume:       bar.Volume,
		Turnover:     bar.Turnover,
		Amplitude:    bar.Amplitude,
		PctChange:    bar.PctChange,
		ChangeAmount: bar.Change,
		TurnoverRate: bar.TurnoverRate,
		CreatedAt:    createdAt,
	}
}

// Bar maps the row back onto the domain type.
func (r PriceBars) Bar() market.Bar {
	return market.Bar{
		AssetID:      r.AssetId,
		Adjust:       market.Adjust(r.Adjust).OrNone(),
		TradeDate:    r.TradeDate,
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Volume:       r.Volume,
		Turnover:     r.Turnover,
		Amplitude:    r.Amplitude,
		PctChange:    r.PctChange,
		Change:       r.ChangeAmount,
		TurnoverRate: r.TurnoverRate,
	}
}

func (m *defaultPriceBarsModel) FindRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]PriceBars, error) {
	query := m.dialect.Rebind("SELECT " + priceBarsRows + " FROM price_bars " +
		"WHERE asset_id = $1 AND adjust = $2 AND trade_date >= $3 AND trade_date <= $4 ORDER BY trade_date")
	var rows []PriceBars
	if err := session.QueryRowsCtx(ctx, &rows, query, assetID, adjust, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPriceBarsModel) FindDates(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) ([]calendar.Date, error) {
	query := m.dialect.Rebind("SELECT trade_date FROM price_bars " +
		"WHERE asset_id = $1 AND adjust = $2 AND trade_date >= $3 AND trade_date <= $4")
	var rows []tradeDateRow
	if err := session.QueryRowsCtx(ctx, &rows, query, assetID, adjust, from, to); err != nil {
		return nil, err
	}
	out := make([]calendar.Date, len(rows))
	for i, row := range rows {
		out[i] = row.TradeDate
	}
	return out, nil
}

func (m *defaultPriceBarsModel) InsertIgnore(ctx context.Context, session sqlx.Session, rows []PriceBars) (int64, error) {
	var inserted int64
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		chunk := rows[start:end]
		args := make([]any, 0, len(chunk)*priceBarsWidth)
		for _, r := range chunk {
			args = append(args, r.AssetId, r.Adjust, r.TradeDate, r.Open, r.High, r.Low, r.Close, r.Volume,
				r.Turnover, r.Amplitude, r.PctChange, r.ChangeAmount, r.TurnoverRate, r.CreatedAt)
		}
		var b strings.Builder
		b.WriteString("INSERT INTO price_bars (")
		b.WriteString(priceBarsRows)
		b.WriteString(") VALUES ")
		b.WriteString(valuesList(len(chunk), priceBarsWidth))
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

func (m *defaultPriceBarsModel) DeleteRange(ctx context.Context, session sqlx.Session, assetID int64, adjust string, from, to calendar.Date) (int64, error) {
	query := m.dialect.Rebind("DELETE FROM price_bars WHERE asset_id = $1 AND adjust = $2 AND trade_date >= $3 AND trade_date <= $4")
	res, err := session.ExecCtx(ctx, query, assetID, adjust, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
