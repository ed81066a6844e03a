package market

import (
	"context"
	"fmt"
	"strings"

	"quotecache/pkg/calendar"
)

// Provider exposes exchange-agnostic daily history.
type Provider interface {
	// DailyBars returns raw daily records for req.Symbol within [req.Start, req.End].
	// Records keep the provider's own column names; callers normalise them.
	DailyBars(ctx context.Context, req Request) ([]Row, error)
}

// Request describes a single upstream call for one contiguous date window.
type Request struct {
	Symbol string
	Start  calendar.Date
	End    calendar.Date
	Adjust Adjust
}

// Validate checks the request before it is sent upstream.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("market: symbol is required")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("market: start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("market: end %s before start %s", r.End, r.Start)
	}
	return nil
}

// Row is one upstream record keyed by provider column names, e.g.
// {"date": "2024-01-02", "open": 10.1} or {"日期": "2024-01-02", "开盘": 10.1}.
type Row map[string]any

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) ([]Row, error)

// DailyBars implements Provider.
func (f ProviderFunc) DailyBars(ctx context.Context, req Request) ([]Row, error) {
	return f(ctx, req)
}
