package mongostore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"quotecache/internal/store"
	"quotecache/internal/store/storetest"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func TestBarDocRoundTrip(t *testing.T) {
	key := store.SeriesKey{AssetID: 9, Adjust: market.AdjustForward}
	in := storetest.Bar("2024-06-03", 42)
	in.TurnoverRate = decimal.NewNullDecimal(decimal.RequireFromString("0.0123"))

	doc, err := newBarDoc(key, in, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", doc.TradeDate)
	assert.Equal(t, "forward", doc.Adjust)
	assert.Nil(t, doc.Amplitude)
	require.NotNil(t, doc.TurnoverRate)

	out, err := doc.bar()
	require.NoError(t, err)
	in.AssetID = key.AssetID
	in.Adjust = key.Adjust
	assert.True(t, in.Equal(out), "%+v != %+v", in, out)
}

func TestRangeFilter(t *testing.T) {
	f := rangeFilter(store.SeriesKey{AssetID: 1}, calendar.MustParseDate("2024-06-01"), calendar.MustParseDate("2024-06-30"))
	assert.Equal(t, "none", f["adjust"])
	assert.Equal(t, int64(1), f["asset_id"])
	assert.Equal(t, bson.M{"$gte": "2024-06-01", "$lte": "2024-06-30"}, f["trade_date"])
}
