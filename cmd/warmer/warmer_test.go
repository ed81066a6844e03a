package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/internal/history"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

type fakeWarm struct {
	settled    calendar.Date
	start, end calendar.Date
	symbols    []string
	adjust     market.Adjust
	passes     int
}

func (f *fakeWarm) LastSettled() calendar.Date { return f.settled }

func (f *fakeWarm) Warm(_ context.Context, symbols []string, start, end calendar.Date, adjust market.Adjust) ([]history.WarmResult, error) {
	f.passes++
	f.symbols, f.start, f.end, f.adjust = symbols, start, end, adjust
	out := make([]history.WarmResult, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, history.WarmResult{Symbol: s, Requested: 3, Covered: 3})
	}
	return out, nil
}

func TestPassWarmsLookbackEndingAtLastSettled(t *testing.T) {
	fake := &fakeWarm{settled: calendar.MustParseDate("2024-06-28")}
	w := &warmer{history: fake, symbols: []string{"AAA", "BBB"}, lookback: 30, adjust: market.AdjustForward}

	require.NoError(t, w.pass(context.Background()))
	assert.Equal(t, 1, fake.passes)
	assert.Equal(t, calendar.MustParseDate("2024-05-30"), fake.start)
	assert.Equal(t, calendar.MustParseDate("2024-06-28"), fake.end)
	assert.Equal(t, []string{"AAA", "BBB"}, fake.symbols)
	assert.Equal(t, market.AdjustForward, fake.adjust)

	w.lookback = 0
	start, end := w.span()
	assert.Equal(t, end, start)
}

func TestNewSchedulerUsesCalendarZone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	cal := calendar.New("test", tokyo, []time.Weekday{time.Saturday, time.Sunday}, nil)
	w := &warmer{history: &fakeWarm{}, symbols: []string{"AAA"}, lookback: 1}

	c, err := newScheduler(context.Background(), "30 17 * * 1-5", cal, w)
	require.NoError(t, err)
	assert.Equal(t, tokyo, c.Location())
	require.Len(t, c.Entries(), 1)

	_, err = newScheduler(context.Background(), "every day", cal, w)
	assert.Error(t, err)
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAA", "600000.SH", "BBB"}, parseSymbols(" aaa, 600000.sh;bbb\tAAA "))
	assert.Empty(t, parseSymbols(" , ;"))
}
