// Package sim is an in-memory market.Provider producing deterministic daily
// bars, with scriptable halts, outages and delistings for local runs and tests.
package sim

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// ErrOutage is the default scripted transient failure.
var ErrOutage = errors.New("sim: upstream unavailable")

// Columns selects the column naming of generated rows.
type Columns int

const (
	ColumnsEnglish Columns = iota
	ColumnsChinese         // akshare-style 日期/开盘/收盘...
)

// Provider is a deterministic daily-bar source. Bars exist on every trading
// day of its calendar (weekdays when none is set) unless halted.
type Provider struct {
	mu sync.Mutex

	cal     *calendar.Calendar
	columns Columns

	calls    []market.Request
	failures map[string][]error
	always   map[string]error
	halts    map[string]map[calendar.Date]struct{}
	unknown  map[string]struct{}
}

// Option customises the simulator.
type Option func(*Provider)

// WithCalendar restricts generated bars to cal's trading days.
func WithCalendar(cal *calendar.Calendar) Option {
	return func(p *Provider) { p.cal = cal }
}

// WithColumns selects row column naming.
func WithColumns(c Columns) Option {
	return func(p *Provider) { p.columns = c }
}

// New constructs a simulator.
func New(opts ...Option) *Provider {
	p := &Provider{
		failures: make(map[string][]error),
		always:   make(map[string]error),
		halts:    make(map[string]map[calendar.Date]struct{}),
		unknown:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func init() {
	market.RegisterProvider("sim", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		return New(), nil
	})
}

func canonical(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// FailNext queues errors returned by the next calls for symbol, one per call.
func (p *Provider) FailNext(symbol string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(symbol)
	for _, err := range errs {
		if err == nil {
			err = ErrOutage
		}
		p.failures[key] = append(p.failures[key], err)
	}
}

// FailAlways makes every call for symbol return err until Recover.
func (p *Provider) FailAlways(symbol string, err error) {
	if err == nil {
		err = ErrOutage
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.always[canonical(symbol)] = err
}

// Recover clears scripted failures for symbol.
func (p *Provider) Recover(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(symbol)
	delete(p.always, key)
	delete(p.failures, key)
}

// Halt suppresses bars for symbol on the given dates (trading suspension).
func (p *Provider) Halt(symbol string, dates ...calendar.Date) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := canonical(symbol)
	if p.halts[key] == nil {
		p.halts[key] = make(map[calendar.Date]struct{})
	}
	for _, d := range dates {
		p.halts[key][d] = struct{}{}
	}
}

// Delist makes symbol unknown to the provider.
func (p *Provider) Delist(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unknown[canonical(symbol)] = struct{}{}
}

// Calls returns a copy of every request received, including failed ones.
func (p *Provider) Calls() []market.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]market.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of requests received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset forgets recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// DailyBars implements market.Provider.
func (p *Provider) DailyBars(ctx context.Context, req market.Request) ([]market.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := canonical(req.Symbol)

	p.mu.Lock()
	p.calls = append(p.calls, req)
	if err, ok := p.always[key]; ok {
		p.mu.Unlock()
		return nil, err
	}
	if queued := p.failures[key]; len(queued) > 0 {
		p.failures[key] = queued[1:]
		p.mu.Unlock()
		return nil, queued[0]
	}
	if _, ok := p.unknown[key]; ok {
		p.mu.Unlock()
		return nil, market.ErrSymbolNotFound
	}
	halted := p.halts[key]
	p.mu.Unlock()

	var rows []market.Row
	for d := req.Start; !d.After(req.End); d = d.AddDays(1) {
		if !p.trades(d) {
			continue
		}
		if _, ok := halted[d]; ok {
			continue
		}
		rows = append(rows, p.row(key, d, req.Adjust.OrNone()))
	}
	return rows, nil
}

func (p *Provider) trades(d calendar.Date) bool {
	if p.cal != nil {
		return p.cal.IsTradingDay(d)
	}
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Price returns the deterministic close for symbol on d before adjustment.
func Price(symbol string, d calendar.Date) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(canonical(symbol)))
	base := 10 + float64(h.Sum32()%9000)/100
	epoch := calendar.NewDate(2000, 1, 1).DaysUntil(d)
	return round2(base * (1 + 0.1*math.Sin(float64(epoch)/17)))
}

func (p *Provider) row(symbol string, d calendar.Date, adjust market.Adjust) market.Row {
	factor := 1.0
	switch adjust {
	case market.AdjustForward:
		factor = 0.9
	case market.AdjustBackward:
		factor = 1.25
	}
	closePx := round2(Price(symbol, d) * factor)
	prevPx := round2(Price(symbol, d.AddDays(-1)) * factor)
	openPx := prevPx
	highPx := round2(math.Max(openPx, closePx) * 1.01)
	lowPx := round2(math.Min(openPx, closePx) * 0.99)
	volume := int64(100000 + (d.DaysUntil(calendar.NewDate(2100, 1, 1))%97)*1000)
	change := round2(closePx - prevPx)

	if p.columns == ColumnsChinese {
		return market.Row{
			"日期":   d.String(),
			"股票代码": symbol,
			"开盘":   openPx,
			"收盘":   closePx,
			"最高":   highPx,
			"最低":   lowPx,
			"成交量":  volume,
			"成交额":  round2(closePx * float64(volume)),
			"振幅":   round2((highPx - lowPx) / prevPx * 100),
			"涨跌幅":  round2(change / prevPx * 100),
			"涨跌额":  change,
			"换手率":  1.23,
		}
	}
	return market.Row{
		"date":   d.String(),
		"symbol": symbol,
		"open":   openPx,
		"high":   highPx,
		"low":    lowPx,
		"close":  closePx,
		"volume": volume,
		"change": change,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
