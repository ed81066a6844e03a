// Package upstream wraps a market.Provider with retries, error classification
// and row normalisation so that callers only ever see a Result.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// Status classifies the outcome of one upstream window fetch.
type Status int

const (
	// StatusOK means bars were returned.
	StatusOK Status = iota
	// StatusEmpty means upstream answered successfully with no data.
	StatusEmpty
	// StatusUnavailable is a transient failure that outlived the retry budget.
	StatusUnavailable
	// StatusRejected is a permanent failure (unknown symbol, bad request, malformed payload).
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusUnavailable:
		return "unavailable"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failed reports whether the window must be left uncached.
func (s Status) Failed() bool {
	return s == StatusUnavailable || s == StatusRejected
}

// Request asks for the bars of one series over one contiguous window.
type Request struct {
	Symbol  string
	AssetID int64
	Start   calendar.Date
	End     calendar.Date
	Adjust  market.Adjust
}

// Result is the value form of every fetch outcome. Err carries the last
// provider error for failed statuses and is nil otherwise.
type Result struct {
	Bars     []market.Bar
	Status   Status
	Reason   string
	Err      error
	Attempts int

	// Malformed lists in-window dates whose rows were dropped as unusable.
	// Undated counts dropped rows whose date was unreadable. Neither may be
	// taken as upstream having no data for a date.
	Malformed []calendar.Date
	Undated   int
}

// Incomplete reports whether an otherwise usable result dropped rows that
// may have covered requested dates.
func (r Result) Incomplete() bool {
	return len(r.Malformed) > 0 || r.Undated > 0
}

// RetryConfig bounds the exponential backoff applied to transient errors.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetry is used when no retry configuration is supplied.
var DefaultRetry = RetryConfig{
	MaxAttempts:    4,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultRetry.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Adapter is the single boundary between the cache and an upstream provider.
type Adapter struct {
	provider market.Provider
	name     string
	retry    RetryConfig
	cal      *calendar.Calendar
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithRetry sets the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(a *Adapter) { a.retry = cfg.withDefaults() }
}

// WithCalendar lets the adapter answer windows without trading days locally.
func WithCalendar(cal *calendar.Calendar) Option {
	return func(a *Adapter) { a.cal = cal }
}

// WithName labels log lines with the provider name.
func WithName(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.name = name
		}
	}
}

// New wraps provider.
func New(provider market.Provider, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		name:     "upstream",
		retry:    DefaultRetry,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch retrieves and normalises one window. It never panics on provider
// errors and never returns them raw: every outcome is encoded in the Result.
func (a *Adapter) Fetch(ctx context.Context, req Request) Result {
	mreq := market.Request{Symbol: req.Symbol, Start: req.Start, End: req.End, Adjust: req.Adjust.OrNone()}
	if err := mreq.Validate(); err != nil {
		return Result{Status: StatusRejected, Reason: "invalid request", Err: err}
	}
	if a.cal != nil && len(a.cal.TradingDays(req.Start, req.End)) == 0 {
		return Result{Status: StatusEmpty, Reason: "no trading days in window"}
	}

	logger := logx.WithContext(ctx)
	var (
		rows     []market.Row
		attempts int
	)
	operation := func() error {
		attempts++
		var err error
		rows, err = a.provider.DailyBars(ctx, mreq)
		if err != nil && (market.IsPermanent(err) || errors.Is(err, context.Canceled)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Slowf("upstream: retry provider=%s symbol=%s window=%s..%s attempt=%d wait=%s err=%v",
			a.name, req.Symbol, req.Start, req.End, attempts, wait, err)
	}

	err := backoff.RetryNotify(operation, a.policy(ctx), notify)
	if err != nil {
		status, reason := classify(err)
		logger.Errorf("upstream: fetch failed provider=%s symbol=%s window=%s..%s status=%s attempts=%d err=%v",
			a.name, req.Symbol, req.Start, req.End, status, attempts, err)
		return Result{Status: status, Reason: reason, Err: err, Attempts: attempts}
	}

	if len(rows) == 0 {
		return Result{Status: StatusEmpty, Reason: "no rows", Attempts: attempts}
	}
	n := normalize(rows, req, a.location())
	if len(n.bars) == 0 {
		if n.malformed > 0 {
			logger.Errorf("upstream: malformed payload provider=%s symbol=%s window=%s..%s rows=%d",
				a.name, req.Symbol, req.Start, req.End, len(rows))
			return Result{
				Status:   StatusRejected,
				Reason:   "malformed payload",
				Err:      fmt.Errorf("%w: %d of %d rows unusable", market.ErrMalformedPayload, n.malformed, len(rows)),
				Attempts: attempts,
			}
		}
		return Result{Status: StatusEmpty, Reason: "no rows in window", Attempts: attempts}
	}
	res := Result{Bars: n.bars, Status: StatusOK, Attempts: attempts, Malformed: n.malformedDates, Undated: n.undated}
	if n.malformed > 0 {
		logger.Slowf("upstream: dropped malformed rows provider=%s symbol=%s window=%s..%s dropped=%d kept=%d dates=%v undated=%d",
			a.name, req.Symbol, req.Start, req.End, n.malformed, len(n.bars), n.malformedDates, n.undated)
	}
	if res.Incomplete() {
		res.Reason = "malformed rows"
	}
	return res
}

// location dates unix timestamps; the calendar's zone when one is set.
func (a *Adapter) location() *time.Location {
	if a.cal == nil {
		return time.UTC
	}
	return a.cal.Location()
}

func (a *Adapter) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retry.InitialBackoff
	b.MaxInterval = a.retry.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.retry.MaxAttempts-1)), ctx)
}

func classify(err error) (Status, string) {
	var apiErr *market.APIError
	switch {
	case errors.Is(err, market.ErrSymbolNotFound):
		return StatusRejected, "symbol not found"
	case errors.Is(err, market.ErrUnsupportedAdjust):
		return StatusRejected, "adjustment not supported"
	case errors.Is(err, market.ErrMalformedPayload):
		return StatusRejected, "malformed payload"
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			return StatusUnavailable, fmt.Sprintf("http %d", apiErr.StatusCode)
		}
		return StatusRejected, fmt.Sprintf("http %d", apiErr.StatusCode)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusUnavailable, "cancelled"
	default:
		return StatusUnavailable, "transient error"
	}
}
