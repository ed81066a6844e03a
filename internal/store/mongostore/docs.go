package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

type assetDoc struct {
	ID        int64     `bson:"_id"`
	Symbol    string    `bson:"symbol"`
	Name      string    `bson:"name"`
	Exchange  string    `bson:"exchange"`
	Currency  string    `bson:"currency"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d assetDoc) asset() store.Asset {
	return store.Asset{
		ID:        d.ID,
		Symbol:    d.Symbol,
		Name:      d.Name,
		Exchange:  d.Exchange,
		Currency:  d.Currency,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// barDoc stores dates as YYYY-MM-DD strings, which sort chronologically,
// and prices as Decimal128.
type barDoc struct {
	AssetID      int64                 `bson:"asset_id"`
	Adjust       string                `bson:"adjust"`
	TradeDate    string                `bson:"trade_date"`
	Open         primitive.Decimal128  `bson:"open"`
	High         primitive.Decimal128  `bson:"high"`
	Low          primitive.Decimal128  `bson:"low"`
	Close        primitive.Decimal128  `bson:"close"`
	Volume       int64                 `bson:"volume"`
	Turnover     *primitive.Decimal128 `bson:"turnover,omitempty"`
	Amplitude    *primitive.Decimal128 `bson:"amplitude,omitempty"`
	PctChange    *primitive.Decimal128 `bson:"pct_change,omitempty"`
	Change       *primitive.Decimal128 `bson:"change_amount,omitempty"`
	TurnoverRate *primitive.Decimal128 `bson:"turnover_rate,omitempty"`
	CreatedAt    time.Time             `bson:"created_at"`
}

type gapDoc struct {
	AssetID    int64     `bson:"asset_id"`
	Adjust     string    `bson:"adjust"`
	TradeDate  string    `bson:"trade_date"`
	Reason     string    `bson:"reason"`
	RecordedAt time.Time `bson:"recorded_at"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("mongostore: encode %s: %w", d, err)
	}
	return v, nil
}

func toNullDecimal128(d decimal.NullDecimal) (*primitive.Decimal128, error) {
	if !d.Valid {
		return nil, nil
	}
	v, err := toDecimal128(d.Decimal)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("mongostore: decode %s: %w", v, err)
	}
	return d, nil
}

func fromNullDecimal128(v *primitive.Decimal128) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := fromDecimal128(*v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func newBarDoc(key store.SeriesKey, bar market.Bar, now time.Time) (barDoc, error) {
	doc := barDoc{
		AssetID:   key.AssetID,
		Adjust:    string(key.Adjust.OrNone()),
		TradeDate: bar.TradeDate.String(),
		Volume:    bar.Volume,
		CreatedAt: now,
	}
	var err error
	for _, f := range []struct {
		dst *primitive.Decimal128
		src decimal.Decimal
	}{{&doc.Open, bar.Open}, {&doc.High, bar.High}, {&doc.Low, bar.Low}, {&doc.Close, bar.Close}} {
		if *f.dst, err = toDecimal128(f.src); err != nil {
			return barDoc{}, err
		}
	}
	for _, f := range []struct {
		dst **primitive.Decimal128
		src decimal.NullDecimal
	}{{&doc.Turnover, bar.Turnover}, {&doc.Amplitude, bar.Amplitude}, {&doc.PctChange, bar.PctChange}, {&doc.Change, bar.Change}, {&doc.TurnoverRate, bar.TurnoverRate}} {
		if *f.dst, err = toNullDecimal128(f.src); err != nil {
			return barDoc{}, err
		}
	}
	return doc, nil
}

func (d barDoc) bar() (market.Bar, error) {
	date, err := calendar.ParseDate(d.TradeDate)
	if err != nil {
		return market.Bar{}, err
	}
	bar := market.Bar{
		AssetID:   d.AssetID,
		Adjust:    market.Adjust(d.Adjust).OrNone(),
		TradeDate: date,
		Volume:    d.Volume,
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src primitive.Decimal128
	}{{&bar.Open, d.Open}, {&bar.High, d.High}, {&bar.Low, d.Low}, {&bar.Close, d.Close}} {
		if *f.dst, err = fromDecimal128(f.src); err != nil {
			return market.Bar{}, err
		}
	}
	for _, f := range []struct {
		dst *decimal.NullDecimal
		src *primitive.Decimal128
	}{{&bar.Turnover, d.Turnover}, {&bar.Amplitude, d.Amplitude}, {&bar.PctChange, d.PctChange}, {&bar.Change, d.Change}, {&bar.TurnoverRate, d.TurnoverRate}} {
		if *f.dst, err = fromNullDecimal128(f.src); err != nil {
			return market.Bar{}, err
		}
	}
	return bar, nil
}
