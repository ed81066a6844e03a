// Package gaps turns a set of missing trading dates into the upstream fetch
// windows that cover them.
package gaps

import (
	"fmt"
	"sort"

	"quotecache/pkg/calendar"
)

// Window is an inclusive date range fetched with a single upstream call.
type Window struct {
	Start calendar.Date `json:"start"`
	End   calendar.Date `json:"end"`
}

// Days counts calendar days in the window, both ends included.
func (w Window) Days() int {
	return w.Start.DaysUntil(w.End) + 1
}

// Contains reports whether d lies inside the window.
func (w Window) Contains(d calendar.Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start, w.End)
}

// Windows groups missing dates into ascending runs. Consecutive dates whose
// calendar distance is at most mergeGapDays share a window, so a small hole
// of already cached days costs one call instead of two. Values below 1
// only merge adjacent days.
func Windows(missing []calendar.Date, mergeGapDays int) []Window {
	if len(missing) == 0 {
		return nil
	}
	if mergeGapDays < 1 {
		mergeGapDays = 1
	}
	dates := sortedUnique(missing)

	out := make([]Window, 0, 1)
	cur := Window{Start: dates[0], End: dates[0]}
	for _, d := range dates[1:] {
		if cur.End.DaysUntil(d) <= mergeGapDays {
			cur.End = d
			continue
		}
		out = append(out, cur)
		cur = Window{Start: d, End: d}
	}
	return append(out, cur)
}

// Analyzer applies the merge rule and then caps each window's length.
type Analyzer struct {
	MergeGapDays int
	// MaxWindowDays bounds a window's calendar span; 0 means unlimited.
	MaxWindowDays int
}

// Windows returns the fetch plan for missing. Split windows are trimmed to
// missing dates at both ends, so no piece starts or ends on a cached day.
func (a Analyzer) Windows(missing []calendar.Date) []Window {
	runs := Windows(missing, a.MergeGapDays)
	if a.MaxWindowDays <= 0 {
		return runs
	}
	dates := sortedUnique(missing)
	out := make([]Window, 0, len(runs))
	i := 0
	for _, run := range runs {
		var piece *Window
		for ; i < len(dates) && run.Contains(dates[i]); i++ {
			d := dates[i]
			if piece != nil && piece.Start.DaysUntil(d) < a.MaxWindowDays {
				piece.End = d
				continue
			}
			if piece != nil {
				out = append(out, *piece)
			}
			piece = &Window{Start: d, End: d}
		}
		if piece != nil {
			out = append(out, *piece)
		}
	}
	return out
}

func sortedUnique(in []calendar.Date) []calendar.Date {
	dates := append([]calendar.Date(nil), in...)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	n := 1
	for i := 1; i < len(dates); i++ {
		if dates[i] != dates[n-1] {
			dates[n] = dates[i]
			n++
		}
	}
	return dates[:n]
}
