package gaps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/pkg/calendar"
)

func d(s string) calendar.Date { return calendar.MustParseDate(s) }

func dates(ss ...string) []calendar.Date {
	out := make([]calendar.Date, len(ss))
	for i, s := range ss {
		out[i] = d(s)
	}
	return out
}

func w(start, end string) Window { return Window{Start: d(start), End: d(end)} }

func TestWindows(t *testing.T) {
	tests := []struct {
		name      string
		missing   []calendar.Date
		threshold int
		want      []Window
	}{
		{name: "empty", missing: nil, threshold: 3, want: nil},
		{name: "single", missing: dates("2024-06-03"), threshold: 3, want: []Window{w("2024-06-03", "2024-06-03")}},
		{
			name:      "small hole merges, large hole splits",
			missing:   dates("2024-06-01", "2024-06-03", "2024-06-10"),
			threshold: 3,
			want:      []Window{w("2024-06-01", "2024-06-03"), w("2024-06-10", "2024-06-10")},
		},
		{
			name:      "distance equal to threshold merges",
			missing:   dates("2024-06-03", "2024-06-07"),
			threshold: 4,
			want:      []Window{w("2024-06-03", "2024-06-07")},
		},
		{
			name:      "distance one past threshold splits",
			missing:   dates("2024-06-03", "2024-06-08"),
			threshold: 4,
			want:      []Window{w("2024-06-03", "2024-06-03"), w("2024-06-08", "2024-06-08")},
		},
		{
			name:      "unsorted with duplicates",
			missing:   dates("2024-06-05", "2024-06-03", "2024-06-04", "2024-06-03"),
			threshold: 1,
			want:      []Window{w("2024-06-03", "2024-06-05")},
		},
		{
			name:      "zero threshold behaves like one",
			missing:   dates("2024-06-03", "2024-06-04", "2024-06-06"),
			threshold: 0,
			want:      []Window{w("2024-06-03", "2024-06-04"), w("2024-06-06", "2024-06-06")},
		},
		{
			name:      "weekend bridged",
			missing:   dates("2024-06-07", "2024-06-10"),
			threshold: 3,
			want:      []Window{w("2024-06-07", "2024-06-10")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Windows(tt.missing, tt.threshold))
		})
	}
}

func TestWindowsLeavesInputUntouched(t *testing.T) {
	in := dates("2024-06-05", "2024-06-03")
	Windows(in, 3)
	assert.Equal(t, dates("2024-06-05", "2024-06-03"), in)
}

func TestWindowsCoverEveryMissingDate(t *testing.T) {
	missing := dates("2024-01-02", "2024-01-09", "2024-01-10", "2024-02-01", "2024-02-02", "2024-03-15")
	for threshold := 0; threshold <= 40; threshold++ {
		windows := Windows(missing, threshold)
		for _, m := range missing {
			hits := 0
			for _, win := range windows {
				if win.Contains(m) {
					hits++
				}
			}
			require.Equal(t, 1, hits, "threshold %d date %s", threshold, m)
		}
		for i := 1; i < len(windows); i++ {
			require.Greater(t, windows[i-1].End.DaysUntil(windows[i].Start), threshold)
		}
	}
}

func TestAnalyzerSplitsLongRuns(t *testing.T) {
	cal, err := calendar.Builtin("xshg")
	require.NoError(t, err)
	missing := cal.TradingDays(d("2024-01-01"), d("2024-03-31"))

	a := Analyzer{MergeGapDays: 4, MaxWindowDays: 31}
	windows := a.Windows(missing)
	require.NotEmpty(t, windows)
	assert.Equal(t, missing[0], windows[0].Start)
	assert.Equal(t, missing[len(missing)-1], windows[len(windows)-1].End)

	covered := 0
	for i, win := range windows {
		assert.LessOrEqual(t, win.Days(), 31, win.String())
		assert.True(t, cal.IsTradingDay(win.Start))
		assert.True(t, cal.IsTradingDay(win.End))
		if i > 0 {
			assert.True(t, windows[i-1].End.Before(win.Start))
		}
		covered += len(cal.TradingDays(win.Start, win.End))
	}
	assert.Equal(t, len(missing), covered)
}

func TestAnalyzerUnlimited(t *testing.T) {
	missing := dates("2024-01-02", "2024-12-30")
	a := Analyzer{MergeGapDays: 400}
	assert.Equal(t, []Window{w("2024-01-02", "2024-12-30")}, a.Windows(missing))
}

func TestWindowHelpers(t *testing.T) {
	win := w("2024-06-03", "2024-06-07")
	assert.Equal(t, 5, win.Days())
	assert.True(t, win.Contains(d("2024-06-03")))
	assert.True(t, win.Contains(d("2024-06-07")))
	assert.False(t, win.Contains(d("2024-06-08")))
	assert.Equal(t, "2024-06-03..2024-06-07", win.String())
}
