package memstore

import (
	"context"
	"sort"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// memTx reads through its staged writes to the committed maps. The caller
// holds the store lock. A nil staged map makes the view read-only.
type memTx struct {
	store  *Store
	staged map[store.SeriesKey]*series
}

func (t *memTx) lookupBar(key store.SeriesKey, d calendar.Date) (market.Bar, bool) {
	if st, ok := t.staged[key]; ok {
		if bar, ok := st.bars[d]; ok {
			return bar, true
		}
	}
	if ser, ok := t.store.series[key]; ok {
		bar, ok := ser.bars[d]
		return bar, ok
	}
	return market.Bar{}, false
}

func (t *memTx) hasMark(key store.SeriesKey, d calendar.Date) bool {
	if st, ok := t.staged[key]; ok {
		if _, ok := st.marks[d]; ok {
			return true
		}
	}
	if ser, ok := t.store.series[key]; ok {
		_, ok := ser.marks[d]
		return ok
	}
	return false
}

func (t *memTx) stage(key store.SeriesKey) *series {
	st, ok := t.staged[key]
	if !ok {
		st = newSeries()
		t.staged[key] = st
	}
	return st
}

func (t *memTx) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	out := make(map[calendar.Date]market.Bar, len(dates))
	for _, d := range dates {
		if bar, ok := t.lookupBar(key, d); ok {
			out[d] = bar
		}
	}
	return out, nil
}

func (t *memTx) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	inserted := 0
	for _, bar := range bars {
		if _, ok := t.lookupBar(key, bar.TradeDate); ok {
			continue
		}
		bar.AssetID = key.AssetID
		bar.Adjust = key.Adjust.OrNone()
		t.stage(key).bars[bar.TradeDate] = bar
		inserted++
	}
	return inserted, nil
}

func (t *memTx) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	now := t.store.now().UTC()
	for _, d := range dates {
		if t.hasMark(key, d) {
			continue
		}
		t.stage(key).marks[d] = store.NoDataMark{TradeDate: d, Reason: reason, RecordedAt: now}
	}
	return nil
}

func (t *memTx) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	bars := make(map[calendar.Date]struct{})
	marks := make(map[calendar.Date]struct{})
	for _, d := range tradingDates {
		if _, ok := t.lookupBar(key, d); ok {
			bars[d] = struct{}{}
		} else if t.hasMark(key, d) {
			marks[d] = struct{}{}
		}
	}
	return store.ComputeCoverage(tradingDates, bars, marks), nil
}

func (t *memTx) commit() {
	for key, st := range t.staged {
		ser, ok := t.store.series[key]
		if !ok {
			ser = newSeries()
			t.store.series[key] = ser
		}
		for d, bar := range st.bars {
			ser.bars[d] = bar
		}
		for d, mark := range st.marks {
			ser.marks[d] = mark
		}
	}
}

func sortMarks(marks []store.NoDataMark) {
	sort.Slice(marks, func(i, j int) bool { return marks[i].TradeDate.Before(marks[j].TradeDate) })
}
