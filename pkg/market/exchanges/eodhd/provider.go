package eodhd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/pkg/market"
)

const defaultProviderTimeout = 20 * time.Second

// Provider serves EODHD end-of-day history through market.Provider.
// Forward adjustment rescales OHLC by adjusted_close/close; backward
// adjustment is not offered by the API.
type Provider struct {
	client     *Client
	suffix     string
	timeout    time.Duration
	providerID string
}

// NewProvider wraps a client. suffix is appended to bare symbols, e.g. "US" turns AAPL into AAPL.US.
func NewProvider(client *Client, suffix string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Provider{
		client:  client,
		suffix:  strings.TrimPrefix(strings.TrimSpace(suffix), "."),
		timeout: timeout,
	}
}

func init() {
	market.RegisterProvider("eodhd", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		if cfg.APIKey == "" {
			return nil, errors.New("eodhd: api_key is required")
		}
		opts := []ClientOption{WithBaseURL(cfg.BaseURL), WithRateLimit(cfg.RateLimit)}
		if cfg.HTTPTimeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		provider := NewProvider(NewClient(cfg.APIKey, opts...), cfg.ExchangeSuffix, cfg.Timeout)
		provider.providerID = name
		return provider, nil
	})
}

// Ticker maps a symbol onto the EODHD "CODE.EXCHANGE" form.
func (p *Provider) Ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if p.suffix == "" || strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + strings.ToUpper(p.suffix)
}

// DailyBars implements market.Provider.
func (p *Provider) DailyBars(ctx context.Context, req market.Request) ([]market.Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	adjust := req.Adjust.OrNone()
	if adjust == market.AdjustBackward {
		return nil, market.ErrUnsupportedAdjust
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := p.Ticker(req.Symbol)
	bars, err := p.client.GetEOD(ctx, ticker, req.Start, req.End)
	if err != nil {
		logx.WithContext(ctx).Errorf("eodhd: eod provider=%s ticker=%s err=%v", p.providerName(), ticker, err)
		return nil, err
	}

	rows := make([]market.Row, 0, len(bars))
	for _, bar := range bars {
		row := market.Row{
			"date":   bar.Date,
			"code":   ticker,
			"open":   value(bar.Open),
			"high":   value(bar.High),
			"low":    value(bar.Low),
			"close":  value(bar.Close),
			"volume": value(bar.Volume),
		}
		if bar.AdjustedClose.Valid {
			row["adjusted_close"] = bar.AdjustedClose.Value
		}
		if adjust == market.AdjustForward {
			forwardAdjust(row, bar)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// forwardAdjust rewrites OHLC to the adjusted_close scale. Rows without a
// usable factor are left raw so normalisation still sees them.
func forwardAdjust(row market.Row, bar EODBar) {
	if !bar.Close.Valid || !bar.AdjustedClose.Valid || bar.Close.Value == 0 {
		return
	}
	factor := decimal.NewFromFloat(bar.AdjustedClose.Value).Div(decimal.NewFromFloat(bar.Close.Value))
	for key, f := range map[string]flexFloat{"open": bar.Open, "high": bar.High, "low": bar.Low} {
		if f.Valid {
			row[key] = decimal.NewFromFloat(f.Value).Mul(factor).Round(4).String()
		}
	}
	row["close"] = decimal.NewFromFloat(bar.AdjustedClose.Value).Round(4).String()
}

func value(f flexFloat) any {
	if !f.Valid {
		return nil
	}
	return f.Value
}

func (p *Provider) providerName() string {
	if p.providerID != "" {
		return p.providerID
	}
	return "eodhd"
}
