package upstream

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// columnAliases maps each canonical bar field to the provider column names it
// may arrive under. Keys are compared case-insensitively.
var columnAliases = map[string][]string{
	"date":          {"date", "trade_date", "datetime", "timestamp", "日期", "交易日期"},
	"open":          {"open", "开盘", "开盘价"},
	"high":          {"high", "最高", "最高价"},
	"low":           {"low", "最低", "最低价"},
	"close":         {"close", "收盘", "收盘价"},
	"volume":        {"volume", "vol", "成交量"},
	"turnover":      {"turnover", "amount", "成交额"},
	"amplitude":     {"amplitude", "振幅"},
	"pct_change":    {"pct_change", "pct_chg", "change_percent", "change_p", "涨跌幅"},
	"change":        {"change", "change_amount", "chg", "涨跌额"},
	"turnover_rate": {"turnover_rate", "turnoverrate", "换手率"},
}

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// normalized is the outcome of mapping one provider response onto bars.
type normalized struct {
	bars       []market.Bar
	malformed  int
	outOfRange int
	// malformedDates are in-window dates whose only rows were unusable.
	malformedDates []calendar.Date
	// undated counts unusable rows whose date could not be read at all.
	undated int
}

// normalize maps provider rows onto bars for req's series. Rows outside
// [Start, End] are skipped; rows without a date or a positive close, or with
// unparsable prices, count as malformed. Duplicate dates keep the last row.
// Unix timestamps are read as instants and dated in loc.
func normalize(rows []market.Row, req Request, loc *time.Location) normalized {
	if loc == nil {
		loc = time.UTC
	}
	var out normalized
	byDate := make(map[calendar.Date]market.Bar, len(rows))
	bad := make(map[calendar.Date]struct{})
	for _, row := range rows {
		bar, ok := normalizeRow(row, loc)
		inWindow := !bar.TradeDate.Before(req.Start) && !bar.TradeDate.After(req.End)
		if !ok {
			out.malformed++
			switch {
			case bar.TradeDate.IsZero():
				out.undated++
			case inWindow:
				bad[bar.TradeDate] = struct{}{}
			}
			continue
		}
		if !inWindow {
			out.outOfRange++
			continue
		}
		bar.AssetID = req.AssetID
		bar.Adjust = req.Adjust.OrNone()
		byDate[bar.TradeDate] = bar
	}
	out.bars = make([]market.Bar, 0, len(byDate))
	for _, bar := range byDate {
		out.bars = append(out.bars, bar)
	}
	sort.Slice(out.bars, func(i, j int) bool {
		return out.bars[i].TradeDate.Before(out.bars[j].TradeDate)
	})
	for d := range bad {
		if _, ok := byDate[d]; !ok {
			out.malformedDates = append(out.malformedDates, d)
		}
	}
	sort.Slice(out.malformedDates, func(i, j int) bool {
		return out.malformedDates[i].Before(out.malformedDates[j])
	})
	return out
}

// normalizeRow maps one row. A rejected row still carries its TradeDate
// when the date itself was readable.
func normalizeRow(row market.Row, loc *time.Location) (market.Bar, bool) {
	fields := canonicalFields(row)

	date, ok := parseDate(fields["date"], loc)
	if !ok {
		return market.Bar{}, false
	}
	bar := market.Bar{TradeDate: date}
	rejected := market.Bar{TradeDate: date}

	closePx, ok := parseDecimal(fields["close"])
	if !ok || !closePx.IsPositive() {
		return rejected, false
	}
	bar.Close = closePx
	for key, dst := range map[string]*decimal.Decimal{"open": &bar.Open, "high": &bar.High, "low": &bar.Low} {
		v, ok := parseDecimal(fields[key])
		if !ok || v.IsNegative() {
			return rejected, false
		}
		*dst = v
	}
	if raw, present := fields["volume"]; present {
		v, ok := parseDecimal(raw)
		if !ok || v.IsNegative() {
			return rejected, false
		}
		bar.Volume = v.IntPart()
	}
	bar.Turnover = parseNullDecimal(fields["turnover"])
	bar.Amplitude = parseNullDecimal(fields["amplitude"])
	bar.PctChange = parseNullDecimal(fields["pct_change"])
	bar.Change = parseNullDecimal(fields["change"])
	bar.TurnoverRate = parseNullDecimal(fields["turnover_rate"])
	return bar, true
}

// canonicalFields resolves each canonical field through the alias table.
// Absent and nil values are left out of the result.
func canonicalFields(row market.Row) map[string]any {
	lowered := make(map[string]any, len(row))
	for k, v := range row {
		if v == nil {
			continue
		}
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}
	fields := make(map[string]any, len(columnAliases))
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if v, ok := lowered[alias]; ok {
				fields[canonical] = v
				break
			}
		}
	}
	return fields
}

func parseDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(val), true
	case float32:
		return parseDecimal(float64(val))
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case uint32:
		return decimal.NewFromInt(int64(val)), true
	case uint64:
		if val > math.MaxInt64 {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromInt(int64(val)), true
	case json.Number:
		return parseDecimal(val.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if s == "" || s == "-" || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "nan") {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func parseNullDecimal(v any) decimal.NullDecimal {
	d, ok := parseDecimal(v)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// parseDate accepts text dates in the common layouts, time values, calendar
// dates, YYYYMMDD integers and unix timestamps (seconds or milliseconds).
// Text and time values keep the zone they carry; timestamps are dated in loc.
func parseDate(v any, loc *time.Location) (calendar.Date, bool) {
	switch val := v.(type) {
	case calendar.Date:
		return val, !val.IsZero()
	case time.Time:
		return calendar.DateOf(val), !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return calendar.DateOf(t), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return dateFromInt(n, loc)
		}
		return calendar.Date{}, false
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return dateFromInt(n, loc)
		}
		return calendar.Date{}, false
	case int:
		return dateFromInt(int64(val), loc)
	case int64:
		return dateFromInt(val, loc)
	case float64:
		if val != math.Trunc(val) {
			return calendar.Date{}, false
		}
		return dateFromInt(int64(val), loc)
	default:
		return calendar.Date{}, false
	}
}

func dateFromInt(n int64, loc *time.Location) (calendar.Date, bool) {
	switch {
	case n >= 19000101 && n <= 29991231:
		t, err := time.Parse("20060102", fmt.Sprintf("%d", n))
		if err != nil {
			return calendar.Date{}, false
		}
		return calendar.DateOf(t), true
	case n >= 1e11:
		return calendar.DateOf(time.UnixMilli(n).In(loc)), true
	case n > 0:
		return calendar.DateOf(time.Unix(n, 0).In(loc)), true
	default:
		return calendar.Date{}, false
	}
}
