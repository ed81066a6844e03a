package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/internal/store"
	"quotecache/internal/store/memstore"
	"quotecache/internal/store/storetest"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
	"quotecache/pkg/market/sim"
	"quotecache/pkg/upstream"
)

var weekdays = calendar.New("test", time.UTC, []time.Weekday{time.Saturday, time.Sunday}, nil)

func d(s string) calendar.Date { return calendar.MustParseDate(s) }

func fixedClock(ts string) Clock {
	now, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return ClockFunc(func() time.Time { return now })
}

type harness struct {
	svc     *Service
	sim     *sim.Provider
	store   *memstore.Store
	adapter *upstream.Adapter
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	p := sim.New()
	st := memstore.New()
	adapter := upstream.New(p,
		upstream.WithCalendar(weekdays),
		upstream.WithRetry(upstream.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}),
	)
	opts = append([]Option{WithClock(fixedClock("2024-07-01T12:00:00Z"))}, opts...)
	return &harness{
		svc:     New(st, adapter, weekdays, opts...),
		sim:     p,
		store:   st,
		adapter: adapter,
	}
}

func (h *harness) rows(t *testing.T, symbol string, adjust market.Adjust) int {
	t.Helper()
	asset, err := h.store.Lookup(context.Background(), symbol)
	require.NoError(t, err)
	return h.store.RowCount(store.SeriesKey{AssetID: asset.ID, Adjust: adjust})
}

func query(symbol, start, end string) Query {
	return Query{Symbol: symbol, Start: d(start), End: d(end)}
}

// scripted fails every window that starts on failStart and counts calls.
type scripted struct {
	next      Fetcher
	failStart calendar.Date
	calls     atomic.Int32
}

func (s *scripted) Fetch(ctx context.Context, req upstream.Request) upstream.Result {
	s.calls.Add(1)
	if req.Start == s.failStart {
		return upstream.Result{Status: upstream.StatusUnavailable, Reason: "transient error", Err: sim.ErrOutage, Attempts: 1}
	}
	return s.next.Fetch(ctx, req)
}

func TestFiveDayScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := query("AAA", "2024-06-03", "2024-06-07")

	first, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sim.CallCount())
	assert.Equal(t, 5, h.rows(t, "AAA", market.AdjustNone))
	require.Len(t, first.Bars, 5)
	assert.Equal(t, 5, first.Coverage.Requested)
	assert.Equal(t, 5, first.Coverage.Covered)
	assert.Empty(t, first.Coverage.MissingDates)
	assert.False(t, first.Coverage.CacheHit)
	assert.Equal(t, 1, first.Coverage.UpstreamCalls)
	for i := 1; i < len(first.Bars); i++ {
		assert.True(t, first.Bars[i-1].TradeDate.Before(first.Bars[i].TradeDate))
	}

	second, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sim.CallCount(), "second request must be served from the store")
	assert.True(t, second.Coverage.CacheHit)
	assert.Equal(t, 0, second.Coverage.UpstreamCalls)
	require.Len(t, second.Bars, 5)
	for i := range first.Bars {
		assert.True(t, first.Bars[i].Equal(second.Bars[i]))
	}
	assert.Equal(t, 5, h.rows(t, "AAA", market.AdjustNone))
}

func TestRoundTripMatchesUpstream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hist, err := h.svc.GetPriceHistory(ctx, Query{Symbol: "RT", Start: d("2024-05-01"), End: d("2024-05-31"), Adjust: market.AdjustForward})
	require.NoError(t, err)

	direct := h.adapter.Fetch(ctx, upstream.Request{
		Symbol: "RT", AssetID: hist.AssetID, Start: d("2024-05-01"), End: d("2024-05-31"), Adjust: market.AdjustForward,
	})
	require.Equal(t, upstream.StatusOK, direct.Status)
	require.Len(t, hist.Bars, len(direct.Bars))
	for i := range direct.Bars {
		assert.True(t, direct.Bars[i].Equal(hist.Bars[i]), "bar %s differs", direct.Bars[i].TradeDate)
	}
}

func TestNonTradingRangeShortCircuits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hist, err := h.svc.GetPriceHistory(ctx, query("AAA", "2024-06-08", "2024-06-09"))
	require.NoError(t, err)
	assert.Empty(t, hist.Bars)
	assert.Equal(t, 0, hist.Coverage.Requested)
	assert.Equal(t, 0, h.sim.CallCount())

	_, err = h.store.Lookup(ctx, "AAA")
	assert.ErrorIs(t, err, store.ErrAssetNotFound, "no registry write for an empty range")
}

func TestUnsettledDatesAreNotCached(t *testing.T) {
	h := newHarness(t, WithClock(fixedClock("2024-06-05T09:00:00Z")))
	ctx := context.Background()

	hist, err := h.svc.GetPriceHistory(ctx, query("AAA", "2024-06-03", "2024-06-07"))
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Coverage.Requested)
	require.Len(t, hist.Bars, 2)
	assert.Equal(t, d("2024-06-04"), hist.Bars[1].TradeDate)

	calls := h.sim.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, d("2024-06-04"), calls[0].End)

	marks, err := h.svc.AcceptedGaps(ctx, query("AAA", "2024-06-01", "2024-06-30"))
	require.NoError(t, err)
	assert.Empty(t, marks)
	assert.Equal(t, d("2024-06-04"), h.svc.LastSettled())
}

func TestAcceptedGapsAreNotRefetched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sim.Halt("HALT", d("2024-06-05"))
	q := query("HALT", "2024-06-03", "2024-06-07")

	hist, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	require.Len(t, hist.Bars, 4)
	assert.Equal(t, 5, hist.Coverage.Requested)
	assert.Equal(t, 4, hist.Coverage.Covered)
	assert.Empty(t, hist.Coverage.MissingDates)
	assert.Equal(t, []calendar.Date{d("2024-06-05")}, hist.Coverage.NoDataDates)
	assert.False(t, hist.Coverage.Degraded)

	again, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sim.CallCount())
	assert.True(t, again.Coverage.CacheHit)

	marks, err := h.svc.AcceptedGaps(ctx, q)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, reasonAbsent, marks[0].Reason)
}

func TestPartialFailureIsolation(t *testing.T) {
	p := sim.New()
	st := memstore.New()
	fetcher := &scripted{next: upstream.New(p, upstream.WithCalendar(weekdays)), failStart: d("2024-06-24")}
	svc := New(st, fetcher, weekdays, WithClock(fixedClock("2024-07-01T12:00:00Z")))
	ctx := context.Background()

	asset, err := st.ResolveOrCreate(ctx, "MIX")
	require.NoError(t, err)
	key := store.SeriesKey{AssetID: asset.ID, Adjust: market.AdjustNone}
	var seeded []market.Bar
	for _, day := range weekdays.TradingDays(d("2024-06-10"), d("2024-06-21")) {
		seeded = append(seeded, storetest.Bar(day.String(), 3))
	}
	_, err = st.Upsert(ctx, key, seeded)
	require.NoError(t, err)

	q := query("MIX", "2024-06-03", "2024-06-28")
	hist, err := svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "two disjoint windows")
	assert.Len(t, hist.Bars, 15)
	assert.True(t, hist.Coverage.Degraded)
	require.Len(t, hist.Coverage.FailedWindows, 1)
	failed := hist.Coverage.FailedWindows[0]
	assert.Equal(t, d("2024-06-24"), failed.Start)
	assert.Equal(t, d("2024-06-28"), failed.End)
	assert.Equal(t, upstream.StatusUnavailable, failed.Status)
	assert.Equal(t, weekdays.TradingDays(d("2024-06-24"), d("2024-06-28")), hist.Coverage.MissingDates)
	assert.Empty(t, hist.Coverage.NoDataDates, "a failed window must not be marked as no data")

	fetcher.failStart = calendar.Date{}
	hist, err = svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), fetcher.calls.Load(), "only the failed window is fetched again")
	assert.Len(t, hist.Bars, 20)
	assert.False(t, hist.Coverage.Degraded)
}

func TestUpstreamUnavailableWithNothingCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sim.FailAlways("DOWN", nil)
	q := query("DOWN", "2024-06-03", "2024-06-07")

	hist, err := h.svc.GetPriceHistory(ctx, q)
	require.Error(t, err)
	assert.Nil(t, hist)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	var partial *PartialError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 5, partial.History.Coverage.Requested)
	assert.Len(t, partial.History.Coverage.FailedWindows, 1)
	assert.Equal(t, 2, partial.History.Coverage.UpstreamCalls)
	assert.Equal(t, 0, h.rows(t, "DOWN", market.AdjustNone))

	h.sim.Recover("DOWN")
	hist, err = h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Len(t, hist.Bars, 5)
}

func TestUnknownSymbolUpstream(t *testing.T) {
	h := newHarness(t)
	h.sim.Delist("GONE")

	_, err := h.svc.GetPriceHistory(context.Background(), query("GONE", "2024-06-03", "2024-06-07"))
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Equal(t, 1, h.sim.CallCount(), "permanent errors are not retried")
}

func TestValidationFailsBeforeIO(t *testing.T) {
	h := newHarness(t, WithConfig(Config{MaxRangeDays: 30}))
	ctx := context.Background()

	cases := []struct {
		name string
		q    Query
		want error
	}{
		{"empty symbol", query(" ", "2024-06-03", "2024-06-07"), ErrInvalidSymbol},
		{"space in symbol", query("A B", "2024-06-03", "2024-06-07"), ErrInvalidSymbol},
		{"end before start", query("AAA", "2024-06-07", "2024-06-03"), ErrInvalidDateRange},
		{"range too long", query("AAA", "2024-01-01", "2024-06-03"), ErrInvalidDateRange},
		{"missing end", Query{Symbol: "AAA", Start: d("2024-06-03")}, ErrInvalidDateRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.GetPriceHistory(ctx, tc.q)
			assert.ErrorIs(t, err, tc.want)
			_, err = h.svc.GetCacheCoverage(ctx, tc.q)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	_, err := h.svc.GetPriceHistory(ctx, Query{Symbol: "AAA", Start: d("2024-06-03"), End: d("2024-06-07"), Adjust: "sideways"})
	assert.Error(t, err)

	assert.Equal(t, 0, h.sim.CallCount())
	_, err = h.store.Lookup(ctx, "AAA")
	assert.ErrorIs(t, err, store.ErrAssetNotFound)
}

func TestConcurrentIdenticalRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := query("RACE", "2024-03-01", "2024-05-31")
	want := len(weekdays.TradingDays(q.Start, q.End))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	counts := make([]int, 8)
	upstreamCalls := make([]int, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hist, err := h.svc.GetPriceHistory(ctx, q)
			errs[i] = err
			if hist != nil {
				counts[i] = len(hist.Bars)
				upstreamCalls[i] = hist.Coverage.UpstreamCalls
			}
		}()
	}
	wg.Wait()
	total := 0
	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, want, counts[i])
		total += upstreamCalls[i]
	}
	assert.Equal(t, want, h.rows(t, "RACE", market.AdjustNone))
	assert.LessOrEqual(t, h.sim.CallCount(), len(errs))
	assert.Equal(t, h.sim.CallCount(), total, "joined fetches report no upstream calls of their own")
}

// gated holds every fetch until release is closed, regardless of the
// caller's context, and signals each entry on entered.
type gated struct {
	next    Fetcher
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGated(next Fetcher) *gated {
	return &gated{next: next, entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gated) Fetch(ctx context.Context, req upstream.Request) upstream.Result {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.next.Fetch(ctx, req)
}

type answer struct {
	hist *History
	err  error
}

func TestCancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	p := sim.New()
	st := memstore.New()
	fetcher := newGated(upstream.New(p, upstream.WithCalendar(weekdays)))
	svc := New(st, fetcher, weekdays, WithClock(fixedClock("2024-07-01T12:00:00Z")))
	q := query("SHARE", "2024-06-03", "2024-06-07")

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan answer, 1)
	go func() {
		hist, err := svc.GetPriceHistory(firstCtx, q)
		first <- answer{hist, err}
	}()
	<-fetcher.entered

	second := make(chan answer, 1)
	go func() {
		hist, err := svc.GetPriceHistory(context.Background(), q)
		second <- answer{hist, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	got := <-first
	assert.Nil(t, got.hist)
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.NotErrorIs(t, got.err, ErrStore)

	close(fetcher.release)
	got = <-second
	require.NoError(t, got.err)
	assert.Len(t, got.hist.Bars, 5)
	assert.False(t, got.hist.Coverage.Degraded)
	assert.Equal(t, 1, p.CallCount(), "the second caller joined the first fetch")
	assert.Equal(t, 5, st.RowCount(store.SeriesKey{AssetID: got.hist.AssetID, Adjust: market.AdjustNone}),
		"the shared fetch persists after its first caller left")
}

func TestJoinedFetchesReportUpstreamCallsOnce(t *testing.T) {
	p := sim.New()
	fetcher := newGated(upstream.New(p, upstream.WithCalendar(weekdays)))
	svc := New(memstore.New(), fetcher, weekdays, WithClock(fixedClock("2024-07-01T12:00:00Z")))
	q := query("JOIN", "2024-06-03", "2024-06-07")

	answers := make(chan answer, 3)
	for range 3 {
		go func() {
			hist, err := svc.GetPriceHistory(context.Background(), q)
			answers <- answer{hist, err}
		}()
	}
	<-fetcher.entered
	time.Sleep(20 * time.Millisecond)
	close(fetcher.release)

	total := 0
	for range 3 {
		got := <-answers
		require.NoError(t, got.err)
		assert.Len(t, got.hist.Bars, 5)
		total += got.hist.Coverage.UpstreamCalls
	}
	assert.Equal(t, p.CallCount(), total)
	assert.Equal(t, 1, total)
}

func TestMalformedRowsStayMissing(t *testing.T) {
	p := sim.New()
	var corrupt atomic.Bool
	corrupt.Store(true)
	provider := market.ProviderFunc(func(ctx context.Context, req market.Request) ([]market.Row, error) {
		rows, err := p.DailyBars(ctx, req)
		if err == nil && corrupt.CompareAndSwap(true, false) {
			for _, row := range rows {
				if row["date"] == "2024-06-04" {
					row["close"] = "N/A"
				}
			}
		}
		return rows, err
	})
	svc := New(memstore.New(), upstream.New(provider, upstream.WithCalendar(weekdays)), weekdays,
		WithClock(fixedClock("2024-07-01T12:00:00Z")))
	ctx := context.Background()
	q := query("BAD", "2024-06-03", "2024-06-07")

	hist, err := svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Len(t, hist.Bars, 4)
	assert.True(t, hist.Coverage.Degraded)
	assert.Equal(t, []calendar.Date{d("2024-06-04")}, hist.Coverage.MissingDates)
	assert.Empty(t, hist.Coverage.NoDataDates, "a dropped row is not a confirmed gap")
	require.Len(t, hist.Coverage.FailedWindows, 1)
	assert.Equal(t, "malformed rows", hist.Coverage.FailedWindows[0].Reason)
	assert.ErrorIs(t, hist.Coverage.FailedWindows[0].err, market.ErrMalformedPayload)

	marks, err := svc.AcceptedGaps(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, marks)

	hist, err = svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Len(t, hist.Bars, 5)
	assert.False(t, hist.Coverage.Degraded)
	assert.Empty(t, hist.Coverage.MissingDates)
	assert.Equal(t, 2, p.CallCount(), "only the dropped date is fetched again")
}

func TestQueriesOutsideCalendarRangeAreRejected(t *testing.T) {
	bounded := weekdays.Bounded(d("2024-01-01"), d("2024-12-31"))
	p := sim.New()
	svc := New(memstore.New(), upstream.New(p, upstream.WithCalendar(bounded)), bounded,
		WithClock(fixedClock("2024-07-01T12:00:00Z")))
	ctx := context.Background()

	old := query("OLD", "2023-12-20", "2024-01-05")
	_, err := svc.GetPriceHistory(ctx, old)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
	_, err = svc.GetCacheCoverage(ctx, old)
	assert.ErrorIs(t, err, ErrInvalidDateRange)
	assert.Equal(t, 0, p.CallCount())

	// The unsettled tail is clamped away before the range is checked.
	hist, err := svc.GetPriceHistory(ctx, query("OLD", "2024-06-03", "2025-03-31"))
	require.NoError(t, err)
	assert.Len(t, hist.Bars, len(bounded.TradingDays(d("2024-06-03"), d("2024-06-30"))))
}

func TestAdjustSeriesAreSeparate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw, err := h.svc.GetPriceHistory(ctx, query("ADJ", "2024-06-03", "2024-06-07"))
	require.NoError(t, err)
	q := query("ADJ", "2024-06-03", "2024-06-07")
	q.Adjust = market.AdjustBackward
	adj, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, 2, h.sim.CallCount())
	assert.Equal(t, raw.AssetID, adj.AssetID)
	assert.False(t, raw.Bars[0].Close.Equal(adj.Bars[0].Close))
	assert.Equal(t, market.AdjustBackward, adj.Bars[0].Adjust)
}

func TestGetCacheCoverageIsReadOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := query("COV", "2024-06-03", "2024-06-07")

	report, err := h.svc.GetCacheCoverage(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Requested)
	assert.Equal(t, 0, report.Covered)
	assert.Len(t, report.MissingDates, 5)
	assert.Equal(t, 0, h.sim.CallCount())
	_, err = h.store.Lookup(ctx, "COV")
	assert.ErrorIs(t, err, store.ErrAssetNotFound)

	_, err = h.svc.GetPriceHistory(ctx, query("COV", "2024-06-04", "2024-06-05"))
	require.NoError(t, err)
	report, err = h.svc.GetCacheCoverage(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Covered)
	assert.Equal(t, []calendar.Date{d("2024-06-03"), d("2024-06-06"), d("2024-06-07")}, report.MissingDates)
	assert.InDelta(t, 0.4, report.Ratio(), 1e-9)
	assert.Equal(t, 1, h.sim.CallCount())
}

func TestGapsAreMergedIntoOneWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, day := range []string{"2024-06-04", "2024-06-06"} {
		_, err := h.svc.GetPriceHistory(ctx, query("GAP", day, day))
		require.NoError(t, err)
	}
	h.sim.Reset()

	_, err := h.svc.GetPriceHistory(ctx, query("GAP", "2024-06-03", "2024-06-07"))
	require.NoError(t, err)
	calls := h.sim.Calls()
	require.Len(t, calls, 1, "missing 3rd, 5th and 7th merge at the default threshold")
	assert.Equal(t, d("2024-06-03"), calls[0].Start)
	assert.Equal(t, d("2024-06-07"), calls[0].End)
	assert.Equal(t, 5, h.rows(t, "GAP", market.AdjustNone))
}

func TestPurgeForcesRefetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := query("PRG", "2024-06-03", "2024-06-07")

	_, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	res, err := h.svc.Purge(ctx, query("PRG", "2024-06-04", "2024-06-05"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Bars)

	hist, err := h.svc.GetPriceHistory(ctx, q)
	require.NoError(t, err)
	assert.Len(t, hist.Bars, 5)
	calls := h.sim.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, d("2024-06-04"), calls[1].Start)
	assert.Equal(t, d("2024-06-05"), calls[1].End)

	res, err = h.svc.Purge(ctx, query("NOPE", "2024-06-04", "2024-06-05"))
	require.NoError(t, err)
	assert.Zero(t, res.Bars)
}

type brokenStore struct {
	*memstore.Store
}

func (brokenStore) Transact(context.Context, func(context.Context, store.Tx) error) error {
	return store.Wrap("transact", errors.New("disk full"))
}

func TestStoreErrorAbortsRequest(t *testing.T) {
	p := sim.New()
	svc := New(brokenStore{memstore.New()}, upstream.New(p), weekdays, WithClock(fixedClock("2024-07-01T12:00:00Z")))

	_, err := svc.GetPriceHistory(context.Background(), query("AAA", "2024-06-03", "2024-06-07"))
	assert.ErrorIs(t, err, ErrStore)
	var partial *PartialError
	assert.False(t, errors.As(err, &partial))
}

func TestWarm(t *testing.T) {
	h := newHarness(t)
	h.sim.Delist("GONE")

	results, err := h.svc.Warm(context.Background(), []string{"aaa", "GONE", "bbb"}, d("2024-06-03"), d("2024-06-07"), market.AdjustNone)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "AAA", results[0].Symbol)
	assert.Equal(t, 5, results[0].Covered)
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, 5, results[2].Covered)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err = h.svc.Warm(ctx, []string{"CCC"}, d("2024-06-03"), d("2024-06-07"), market.AdjustNone)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
