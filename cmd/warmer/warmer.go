package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/internal/history"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// warmService is the part of history.Service a warm pass needs.
type warmService interface {
	LastSettled() calendar.Date
	Warm(ctx context.Context, symbols []string, start, end calendar.Date, adjust market.Adjust) ([]history.WarmResult, error)
}

type warmer struct {
	history  warmService
	symbols  []string
	lookback int
	adjust   market.Adjust
}

// span is the calendar range warmed by one pass: lookback days ending on the
// last settled date.
func (w *warmer) span() (calendar.Date, calendar.Date) {
	end := w.history.LastSettled()
	days := w.lookback
	if days < 1 {
		days = 1
	}
	return end.AddDays(-(days - 1)), end
}

func (w *warmer) pass(ctx context.Context) error {
	start, end := w.span()
	results, err := w.history.Warm(ctx, w.symbols, start, end, w.adjust)
	for _, r := range results {
		switch {
		case r.Error != "":
			logx.WithContext(ctx).Errorf("[warm.%s] [ERROR] %s, took %dms", r.Symbol, r.Error, r.Took.Milliseconds())
		case r.Degraded:
			logx.WithContext(ctx).Slowf("[warm.%s] [WARN] covered=%d/%d upstream_calls=%d, took %dms",
				r.Symbol, r.Covered, r.Requested, r.UpstreamCalls, r.Took.Milliseconds())
		default:
			logx.WithContext(ctx).Infof("[warm.%s] [OK] covered=%d/%d upstream_calls=%d, took %dms",
				r.Symbol, r.Covered, r.Requested, r.UpstreamCalls, r.Took.Milliseconds())
		}
	}
	return err
}

// newScheduler runs w.pass on spec, interpreted in the calendar's zone.
// Overlapping runs are skipped.
func newScheduler(ctx context.Context, spec string, cal *calendar.Calendar, w *warmer) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(cal.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := w.pass(ctx); err != nil {
			logx.WithContext(ctx).Errorf("warm pass: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger routes scheduler events into logx.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logx.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logx.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}

func parseSymbols(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.ToUpper(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		if _, exists := seen[field]; exists {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}
