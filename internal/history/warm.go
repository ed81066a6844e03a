package history

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// WarmResult summarises one symbol of a warm pass.
type WarmResult struct {
	Symbol        string        `json:"symbol"`
	Requested     int           `json:"requested"`
	Covered       int           `json:"covered"`
	UpstreamCalls int           `json:"upstream_calls"`
	Degraded      bool          `json:"degraded"`
	Error         string        `json:"error,omitempty"`
	Took          time.Duration `json:"took"`
}

// Warm pre-fills the cache for symbols one after another. A failing symbol
// does not stop the pass; store failures and cancellation do.
func (s *Service) Warm(ctx context.Context, symbols []string, start, end calendar.Date, adjust market.Adjust) ([]WarmResult, error) {
	logger := logx.WithContext(ctx).WithFields(
		logx.Field("start", start.String()),
		logx.Field("end", end.String()),
		logx.Field("adjust", string(adjust)),
	)
	results := make([]WarmResult, 0, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		began := time.Now()
		res := WarmResult{Symbol: symbol}
		h, err := s.GetPriceHistory(ctx, Query{Symbol: symbol, Start: start, End: end, Adjust: adjust})
		var partial *PartialError
		switch {
		case err == nil:
		case errors.As(err, &partial):
			h = partial.History
			res.Error = err.Error()
		case errors.Is(err, ErrStore):
			return results, err
		default:
			res.Error = err.Error()
		}
		if h != nil {
			res.Symbol = h.Symbol
			res.Requested = h.Coverage.Requested
			res.Covered = h.Coverage.Covered
			res.UpstreamCalls = h.Coverage.UpstreamCalls
			res.Degraded = h.Coverage.Degraded
		}
		res.Took = time.Since(began)
		results = append(results, res)
	}
	var failed int
	for _, r := range results {
		if r.Error != "" || r.Degraded {
			failed++
		}
	}
	logger.Infow("history: warm pass done",
		logx.Field("symbols", len(results)),
		logx.Field("degraded", failed),
	)
	return results, nil
}
