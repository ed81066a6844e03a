// Package history answers daily-bar queries from the store and fills gaps
// from upstream.
package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/gaps"
	"quotecache/pkg/market"
	"quotecache/pkg/upstream"
)

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,31}$`)

// Clock defines "now" for settlement.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Fetcher is the upstream boundary; *upstream.Adapter implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req upstream.Request) upstream.Result
}

// Config tunes gap planning and fan-out.
type Config struct {
	// MergeGapDays joins missing runs separated by at most this many calendar days.
	MergeGapDays int
	// MaxWindowDays caps one upstream request; 0 disables the cap.
	MaxWindowDays int
	// MaxRangeDays caps the calendar span of a query.
	MaxRangeDays int
	// Concurrency bounds windows fetched at once per query.
	Concurrency int
	// WindowTimeout bounds one shared fetch-and-persist. The shared work is
	// detached from any single caller, so this is its only deadline.
	WindowTimeout time.Duration
}

// DefaultConfig mirrors the config file defaults.
var DefaultConfig = Config{
	MergeGapDays:  4,
	MaxWindowDays: 366,
	MaxRangeDays:  3660,
	Concurrency:   4,
	WindowTimeout: 2 * time.Minute,
}

func (c Config) withDefaults() Config {
	if c.MergeGapDays < 1 {
		c.MergeGapDays = 1
	}
	if c.MaxWindowDays < 0 {
		c.MaxWindowDays = 0
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = DefaultConfig.MaxRangeDays
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.WindowTimeout <= 0 {
		c.WindowTimeout = DefaultConfig.WindowTimeout
	}
	return c
}

// Query asks for one series over an inclusive date range.
type Query struct {
	Symbol string
	Start  calendar.Date
	End    calendar.Date
	Adjust market.Adjust
}

// FailedWindow is a window left wholly or partly uncached because upstream
// failed or returned unusable rows for it.
type FailedWindow struct {
	Start  calendar.Date   `json:"start"`
	End    calendar.Date   `json:"end"`
	Status upstream.Status `json:"status"`
	Reason string          `json:"reason"`
	Error  string          `json:"error,omitempty"`

	err error
}

// CoverageReport describes what a query could be served from.
type CoverageReport struct {
	Requested     int             `json:"requested"`
	Covered       int             `json:"covered"`
	MissingDates  []calendar.Date `json:"missing_dates"`
	NoDataDates   []calendar.Date `json:"no_data_dates,omitempty"`
	FailedWindows []FailedWindow  `json:"failed_windows,omitempty"`
	UpstreamCalls int             `json:"upstream_calls"`
	CacheHit      bool            `json:"cache_hit"`
	Degraded      bool            `json:"degraded"`
}

// Ratio is Covered/Requested, 1 for an empty request.
func (r CoverageReport) Ratio() float64 {
	if r.Requested == 0 {
		return 1
	}
	return float64(r.Covered) / float64(r.Requested)
}

// History is the answer to a Query. Bars ascend by trade date.
type History struct {
	Symbol   string         `json:"symbol"`
	AssetID  int64          `json:"asset_id,omitempty"`
	Adjust   market.Adjust  `json:"adjust"`
	Start    calendar.Date  `json:"start"`
	End      calendar.Date  `json:"end"`
	Bars     []market.Bar   `json:"bars"`
	Coverage CoverageReport `json:"coverage"`
}

// Option customises a Service.
type Option func(*Service)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg.withDefaults() }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Service is the fetch orchestrator.
type Service struct {
	store    store.Backend
	fetcher  Fetcher
	cal      *calendar.Calendar
	cfg      Config
	analyzer gaps.Analyzer
	clock    Clock
	flights  singleflight.Group
}

// New wires a Service.
func New(st store.Backend, fetcher Fetcher, cal *calendar.Calendar, opts ...Option) *Service {
	s := &Service{
		store:   st,
		fetcher: fetcher,
		cal:     cal,
		cfg:     DefaultConfig,
		clock:   ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.analyzer = gaps.Analyzer{MergeGapDays: s.cfg.MergeGapDays, MaxWindowDays: s.cfg.MaxWindowDays}
	return s
}

// LastSettled is the latest date whose bars are final: yesterday in the
// calendar's time zone.
func (s *Service) LastSettled() calendar.Date {
	return s.cal.Today(s.clock.Now()).AddDays(-1)
}

func (s *Service) validate(q Query) (Query, error) {
	q.Symbol = store.NormalizeSymbol(q.Symbol)
	if !symbolPattern.MatchString(q.Symbol) {
		return q, fmt.Errorf("%w: %q", ErrInvalidSymbol, q.Symbol)
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return q, fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if q.End.Before(q.Start) {
		return q, fmt.Errorf("%w: end %s before start %s", ErrInvalidDateRange, q.End, q.Start)
	}
	if span := q.Start.DaysUntil(q.End) + 1; span > s.cfg.MaxRangeDays {
		return q, fmt.Errorf("%w: %d days exceeds limit of %d", ErrInvalidDateRange, span, s.cfg.MaxRangeDays)
	}
	if end := calendar.MinDate(q.End, s.LastSettled()); !end.Before(q.Start) && !s.cal.Covers(q.Start, end) {
		from, to := s.cal.ValidRange()
		return q, fmt.Errorf("%w: %s..%s outside the %s holiday list (%s..%s)",
			ErrInvalidDateRange, q.Start, end, s.cal.Market(), from, to)
	}
	adjust, err := market.ParseAdjust(string(q.Adjust))
	if err != nil {
		return q, err
	}
	q.Adjust = adjust
	return q, nil
}

// tradingDates clamps q to settled dates.
func (s *Service) tradingDates(q Query) []calendar.Date {
	end := calendar.MinDate(q.End, s.LastSettled())
	if end.Before(q.Start) {
		return nil
	}
	return s.cal.TradingDays(q.Start, end)
}

// GetPriceHistory returns the bars of q, fetching whatever the store lacks.
// When every needed window failed and nothing could be served the error is
// a *PartialError wrapping ErrUpstreamUnavailable, or ErrInvalidSymbol when
// upstream does not list the symbol.
func (s *Service) GetPriceHistory(ctx context.Context, q Query) (*History, error) {
	q, err := s.validate(q)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	logger := logx.WithContext(ctx)

	h := &History{
		Symbol: q.Symbol,
		Adjust: q.Adjust,
		Start:  q.Start,
		End:    q.End,
		Bars:   []market.Bar{},
		Coverage: CoverageReport{
			MissingDates: []calendar.Date{},
		},
	}
	trading := s.tradingDates(q)
	if len(trading) == 0 {
		return h, nil
	}

	asset, err := s.store.ResolveOrCreate(ctx, q.Symbol)
	if err != nil {
		return nil, err
	}
	h.AssetID = asset.ID
	key := store.SeriesKey{AssetID: asset.ID, Adjust: q.Adjust}

	cov, err := s.store.Coverage(ctx, key, trading)
	if err != nil {
		return nil, err
	}

	var notFound int
	if cov.Complete() {
		h.Coverage.CacheHit = true
	} else {
		windows := s.analyzer.Windows(cov.Missing)
		outcomes, err := s.fetchWindows(ctx, q.Symbol, key, windows, cov.Missing)
		if err != nil {
			logger.Errorf("history: fetch aborted symbol=%s series=%s err=%v", q.Symbol, key, err)
			return nil, err
		}
		for _, o := range outcomes {
			h.Coverage.UpstreamCalls += o.attempts
			if o.failed != nil {
				h.Coverage.FailedWindows = append(h.Coverage.FailedWindows, *o.failed)
				if errors.Is(o.failed.err, market.ErrSymbolNotFound) {
					notFound++
				}
			}
		}
		if cov, err = s.store.Coverage(ctx, key, trading); err != nil {
			return nil, err
		}
	}

	bars, err := s.store.Get(ctx, key, trading)
	if err != nil {
		return nil, err
	}
	for _, bar := range bars {
		h.Bars = append(h.Bars, bar)
	}
	store.SortBars(h.Bars)
	s.fillCoverage(&h.Coverage, cov)

	if failed := len(h.Coverage.FailedWindows); failed > 0 {
		h.Coverage.Degraded = true
		if len(h.Bars) == 0 {
			sentinel := ErrUpstreamUnavailable
			if notFound == failed {
				sentinel = ErrInvalidSymbol
			}
			logger.Errorf("history: nothing served symbol=%s range=%s..%s failed_windows=%d",
				q.Symbol, q.Start, q.End, failed)
			return nil, &PartialError{History: h, Err: sentinel}
		}
		logger.Slowf("history: degraded symbol=%s range=%s..%s covered=%d/%d failed_windows=%d",
			q.Symbol, q.Start, q.End, h.Coverage.Covered, h.Coverage.Requested, failed)
	}

	logger.Infof("history: served symbol=%s adjust=%s range=%s..%s covered=%d/%d cache_hit=%t upstream_calls=%d took=%s",
		q.Symbol, q.Adjust, q.Start, q.End, h.Coverage.Covered, h.Coverage.Requested,
		h.Coverage.CacheHit, h.Coverage.UpstreamCalls, time.Since(started))
	return h, nil
}

func (s *Service) fillCoverage(r *CoverageReport, cov store.Coverage) {
	r.Requested = cov.Total
	r.Covered = cov.Covered
	r.MissingDates = append([]calendar.Date{}, cov.Missing...)
	r.NoDataDates = cov.NoData
}

// GetCacheCoverage reports what the store holds for the range without any
// upstream call or registry write. Unknown symbols report every settled
// trading date missing.
func (s *Service) GetCacheCoverage(ctx context.Context, q Query) (CoverageReport, error) {
	q, err := s.validate(q)
	if err != nil {
		return CoverageReport{}, err
	}
	report := CoverageReport{MissingDates: []calendar.Date{}}
	trading := s.tradingDates(q)
	if len(trading) == 0 {
		return report, nil
	}
	asset, err := s.store.Lookup(ctx, q.Symbol)
	if errors.Is(err, store.ErrAssetNotFound) {
		s.fillCoverage(&report, store.ComputeCoverage(trading, nil, nil))
		return report, nil
	}
	if err != nil {
		return CoverageReport{}, err
	}
	cov, err := s.store.Coverage(ctx, store.SeriesKey{AssetID: asset.ID, Adjust: q.Adjust}, trading)
	if err != nil {
		return CoverageReport{}, err
	}
	s.fillCoverage(&report, cov)
	report.CacheHit = cov.Complete()
	return report, nil
}

// AcceptedGaps lists the no-data marks of a range with their reasons.
func (s *Service) AcceptedGaps(ctx context.Context, q Query) ([]store.NoDataMark, error) {
	q, err := s.validate(q)
	if err != nil {
		return nil, err
	}
	asset, err := s.store.Lookup(ctx, q.Symbol)
	if errors.Is(err, store.ErrAssetNotFound) {
		return []store.NoDataMark{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.Marks(ctx, store.SeriesKey{AssetID: asset.ID, Adjust: q.Adjust}, q.Start, q.End)
}

// Purge drops cached bars and marks of a range so that the next query
// fetches it again.
func (s *Service) Purge(ctx context.Context, q Query) (store.PurgeResult, error) {
	q, err := s.validate(q)
	if err != nil {
		return store.PurgeResult{}, err
	}
	asset, err := s.store.Lookup(ctx, q.Symbol)
	if errors.Is(err, store.ErrAssetNotFound) {
		return store.PurgeResult{}, nil
	}
	if err != nil {
		return store.PurgeResult{}, err
	}
	res, err := s.store.Purge(ctx, store.SeriesKey{AssetID: asset.ID, Adjust: q.Adjust}, q.Start, q.End)
	if err != nil {
		return res, err
	}
	logx.WithContext(ctx).Infof("history: purged symbol=%s adjust=%s range=%s..%s bars=%d marks=%d",
		q.Symbol, q.Adjust, q.Start, q.End, res.Bars, res.Marks)
	return res, nil
}
