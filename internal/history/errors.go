package history

import (
	"errors"
	"fmt"

	"quotecache/internal/store"
)

var (
	// ErrInvalidSymbol rejects malformed symbols and symbols the provider does not list.
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrInvalidDateRange rejects end before start or ranges above the configured cap.
	ErrInvalidDateRange = errors.New("invalid date range")
	// ErrUpstreamUnavailable is returned when nothing could be served for a
	// range that needed fetching.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStore is the store failure sentinel.
	ErrStore = store.ErrStore
)

// PartialError carries the History assembled before the request failed.
type PartialError struct {
	History *History
	Err     error
}

func (e *PartialError) Error() string {
	if e.History == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s %d/%d cached, %d window(s) failed",
		e.Err, e.History.Symbol, e.History.Coverage.Covered, e.History.Coverage.Requested,
		len(e.History.Coverage.FailedWindows))
}

func (e *PartialError) Unwrap() error { return e.Err }
