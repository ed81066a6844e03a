package history

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/gaps"
	"quotecache/pkg/market"
	"quotecache/pkg/upstream"
)

const reasonAbsent = "absent from upstream window"

type windowOutcome struct {
	window   gaps.Window
	status   upstream.Status
	attempts int
	inserted int
	marked   int
	failed   *FailedWindow
}

// fetchWindows runs one fetch-and-persist per window, at most
// cfg.Concurrency at a time. A store error cancels the remaining windows;
// windows already committed stay committed.
func (s *Service) fetchWindows(ctx context.Context, symbol string, key store.SeriesKey, windows []gaps.Window, missing []calendar.Date) ([]windowOutcome, error) {
	outcomes := make([]windowOutcome, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, w := range windows {
		g.Go(func() error {
			o, err := s.fetchWindow(gctx, symbol, key, w, within(missing, w))
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// fetchWindow collapses identical in-flight fetches of the same series window.
// The shared work is detached from the caller that started it and bounded by
// cfg.WindowTimeout, so a caller that gives up only stops waiting. Upstream
// attempts are reported once, by the caller whose call ran the fetch.
func (s *Service) fetchWindow(ctx context.Context, symbol string, key store.SeriesKey, w gaps.Window, missing []calendar.Date) (windowOutcome, error) {
	var led bool
	ch := s.flights.DoChan(key.String()+":"+w.String(), func() (any, error) {
		led = true
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WindowTimeout)
		defer cancel()
		return s.fetchAndStore(wctx, symbol, key, w, missing)
	})
	select {
	case <-ctx.Done():
		return windowOutcome{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return windowOutcome{}, r.Err
		}
		o := r.Val.(windowOutcome)
		if !led {
			o.attempts = 0
			logx.WithContext(ctx).Debugf("history: joined in-flight fetch series=%s window=%s", key, w)
		}
		return o, nil
	}
}

func (s *Service) fetchAndStore(ctx context.Context, symbol string, key store.SeriesKey, w gaps.Window, missing []calendar.Date) (windowOutcome, error) {
	res := s.fetcher.Fetch(ctx, upstream.Request{
		Symbol:  symbol,
		AssetID: key.AssetID,
		Start:   w.Start,
		End:     w.End,
		Adjust:  key.Adjust,
	})
	o := windowOutcome{window: w, status: res.Status, attempts: res.Attempts}
	if res.Status.Failed() {
		o.failed = &FailedWindow{Start: w.Start, End: w.End, Status: res.Status, Reason: res.Reason, err: res.Err}
		if res.Err != nil {
			o.failed.Error = res.Err.Error()
		}
		return o, nil
	}

	absent := absentDates(missing, res)
	reason := reasonAbsent
	if res.Status == upstream.StatusEmpty && res.Reason != "" {
		reason = res.Reason
	}

	err := s.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Upsert(ctx, key, withKey(res.Bars, key))
		if err != nil {
			return err
		}
		o.inserted = n
		if err := tx.MarkNoData(ctx, key, absent, reason); err != nil {
			return err
		}
		o.marked = len(absent)
		return nil
	})
	if err != nil {
		return windowOutcome{}, err
	}
	if res.Incomplete() {
		// Dropped rows stay missing so the next request asks again.
		err := fmt.Errorf("%w: %d dated and %d undated rows unusable", market.ErrMalformedPayload, len(res.Malformed), res.Undated)
		o.failed = &FailedWindow{
			Start:  w.Start,
			End:    w.End,
			Status: upstream.StatusRejected,
			Reason: res.Reason,
			Error:  err.Error(),
			err:    err,
		}
	}
	logx.WithContext(ctx).Infof("history: window stored symbol=%s series=%s window=%s status=%s bars=%d inserted=%d no_data=%d malformed=%d undated=%d",
		symbol, key, w, res.Status, len(res.Bars), o.inserted, o.marked, len(res.Malformed), res.Undated)
	return o, nil
}

// absentDates are the missing dates upstream answered for without a bar.
// A window with undated malformed rows proves nothing about any date.
func absentDates(missing []calendar.Date, res upstream.Result) []calendar.Date {
	if res.Undated > 0 {
		return nil
	}
	skip := make(map[calendar.Date]struct{}, len(res.Bars)+len(res.Malformed))
	for _, bar := range res.Bars {
		skip[bar.TradeDate] = struct{}{}
	}
	for _, d := range res.Malformed {
		skip[d] = struct{}{}
	}
	var absent []calendar.Date
	for _, d := range missing {
		if _, ok := skip[d]; !ok {
			absent = append(absent, d)
		}
	}
	return absent
}

func within(dates []calendar.Date, w gaps.Window) []calendar.Date {
	var out []calendar.Date
	for _, d := range dates {
		if w.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

func withKey(bars []market.Bar, key store.SeriesKey) []market.Bar {
	out := make([]market.Bar, len(bars))
	for i, bar := range bars {
		bar.AssetID = key.AssetID
		bar.Adjust = key.Adjust
		out[i] = bar
	}
	return out
}
