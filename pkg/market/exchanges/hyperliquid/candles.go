package hyperliquid

import (
	"context"
	"sort"
	"time"

	"quotecache/pkg/calendar"
)

const dailyInterval = "1d"

// GetDailyCandles fetches 1d candles whose open time falls within [start, end] (UTC days).
func (c *Client) GetDailyCandles(ctx context.Context, symbol string, start, end calendar.Date) (CandleResponse, string, error) {
	canonical, err := c.canonicalSymbolFor(ctx, symbol)
	if err != nil {
		return nil, "", err
	}
	request := InfoRequest{
		Type: "candleSnapshot",
		Req: CandleSnapshotRequest{
			Coin:      canonical,
			Interval:  dailyInterval,
			StartTime: start.Time().UnixMilli(),
			EndTime:   end.AddDays(1).Time().Add(-time.Millisecond).UnixMilli(),
		},
	}

	var response CandleResponse
	if err := c.doRequest(ctx, request, &response); err != nil {
		return nil, canonical, err
	}
	sort.Slice(response, func(i, j int) bool {
		return response[i].T < response[j].T
	})
	return response, canonical, nil
}
