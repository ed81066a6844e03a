package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/pkg/calendar"
)

func TestParseAdjust(t *testing.T) {
	tests := []struct {
		in   string
		want Adjust
		code string
	}{
		{in: "", want: AdjustNone, code: ""},
		{in: "None", want: AdjustNone, code: ""},
		{in: "forward", want: AdjustForward, code: "qfq"},
		{in: "QFQ", want: AdjustForward, code: "qfq"},
		{in: "backward", want: AdjustBackward, code: "hfq"},
		{in: " hfq ", want: AdjustBackward, code: "hfq"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAdjust(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.code, got.Code())
		})
	}
	_, err := ParseAdjust("split")
	require.Error(t, err)
	assert.Equal(t, AdjustNone, Adjust("").OrNone())
}

func TestBarEqual(t *testing.T) {
	base := Bar{
		AssetID:   1,
		TradeDate: calendar.MustParseDate("2024-01-02"),
		Open:      decimal.RequireFromString("10.50"),
		High:      decimal.RequireFromString("11"),
		Low:       decimal.RequireFromString("10"),
		Close:     decimal.RequireFromString("10.8"),
		Volume:    1000,
		Turnover:  decimal.NewNullDecimal(decimal.RequireFromString("10800")),
	}
	same := base
	same.Adjust = AdjustNone
	same.Open = decimal.RequireFromString("10.5")
	assert.True(t, base.Equal(same))

	diff := base
	diff.Turnover = decimal.NullDecimal{}
	assert.False(t, base.Equal(diff))

	diff = base
	diff.Volume = 1001
	assert.False(t, base.Equal(diff))
}

func TestRequestValidate(t *testing.T) {
	d := calendar.MustParseDate("2024-01-02")
	assert.NoError(t, Request{Symbol: "A", Start: d, End: d}.Validate())
	assert.Error(t, Request{Start: d, End: d}.Validate())
	assert.Error(t, Request{Symbol: "A", Start: d, End: d.AddDays(-1)}.Validate())
}

func TestAPIErrorClassification(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Temporary())
	assert.True(t, (&APIError{StatusCode: 503}).Temporary())
	assert.False(t, (&APIError{StatusCode: 403}).Temporary())
	assert.True(t, IsPermanent(&APIError{StatusCode: 400}))
	assert.False(t, IsPermanent(&APIError{StatusCode: 500}))
	assert.True(t, IsPermanent(ErrSymbolNotFound))
	assert.False(t, IsPermanent(nil))
}
