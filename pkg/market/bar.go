package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"quotecache/pkg/calendar"
)

// Adjust selects the price adjustment applied to a series.
type Adjust string

const (
	AdjustNone     Adjust = "none"
	AdjustForward  Adjust = "forward"  // qfq
	AdjustBackward Adjust = "backward" // hfq
)

// ParseAdjust accepts none|forward|backward, the qfq/hfq codes, or "" for none.
func ParseAdjust(s string) (Adjust, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return AdjustNone, nil
	case "forward", "qfq":
		return AdjustForward, nil
	case "backward", "hfq":
		return AdjustBackward, nil
	default:
		return "", fmt.Errorf("market: invalid adjust %q", s)
	}
}

// Code returns the short code used by Chinese data vendors ("", "qfq", "hfq").
func (a Adjust) Code() string {
	switch a {
	case AdjustForward:
		return "qfq"
	case AdjustBackward:
		return "hfq"
	default:
		return ""
	}
}

// OrNone maps the zero value to AdjustNone.
func (a Adjust) OrNone() Adjust {
	if a == "" {
		return AdjustNone
	}
	return a
}

func (a Adjust) String() string { return string(a.OrNone()) }

// Bar is one daily OHLCV record of a cached series.
type Bar struct {
	AssetID   int64           `json:"asset_id"`
	Adjust    Adjust          `json:"adjust"`
	TradeDate calendar.Date   `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`

	Turnover     decimal.NullDecimal `json:"turnover"`
	Amplitude    decimal.NullDecimal `json:"amplitude"`
	PctChange    decimal.NullDecimal `json:"pct_change"`
	Change       decimal.NullDecimal `json:"change"`
	TurnoverRate decimal.NullDecimal `json:"turnover_rate"`
}

// Equal compares two bars by value. Decimals compare numerically, so
// 10.50 and 10.5 are equal.
func (b Bar) Equal(o Bar) bool {
	return b.AssetID == o.AssetID &&
		b.Adjust.OrNone() == o.Adjust.OrNone() &&
		b.TradeDate == o.TradeDate &&
		b.Open.Equal(o.Open) &&
		b.High.Equal(o.High) &&
		b.Low.Equal(o.Low) &&
		b.Close.Equal(o.Close) &&
		b.Volume == o.Volume &&
		nullEqual(b.Turnover, o.Turnover) &&
		nullEqual(b.Amplitude, o.Amplitude) &&
		nullEqual(b.PctChange, o.PctChange) &&
		nullEqual(b.Change, o.Change) &&
		nullEqual(b.TurnoverRate, o.TurnoverRate)
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
