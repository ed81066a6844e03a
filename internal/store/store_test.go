package store

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func TestComputeCoverage(t *testing.T) {
	d := calendar.MustParseDate
	trading := []calendar.Date{d("2024-06-03"), d("2024-06-04"), d("2024-06-05"), d("2024-06-06")}
	bars := DateSet([]calendar.Date{d("2024-06-03"), d("2024-06-05")})
	marks := DateSet([]calendar.Date{d("2024-06-05"), d("2024-06-06")})

	cov := ComputeCoverage(trading, bars, marks)
	assert.Equal(t, 4, cov.Total)
	assert.Equal(t, 2, cov.Covered)
	assert.Equal(t, []calendar.Date{d("2024-06-04")}, cov.Missing)
	assert.Equal(t, []calendar.Date{d("2024-06-06")}, cov.NoData)
	assert.InDelta(t, 0.5, cov.Ratio(), 1e-9)
	assert.False(t, cov.Complete())
}

func TestCoverageEmpty(t *testing.T) {
	cov := ComputeCoverage(nil, nil, nil)
	assert.Equal(t, 1.0, cov.Ratio())
	assert.True(t, cov.Complete())
}

func TestSeriesKey(t *testing.T) {
	a := SeriesKey{AssetID: 1, Adjust: market.AdjustNone}
	b := SeriesKey{AssetID: 1, Adjust: market.AdjustForward}
	assert.Equal(t, "1/none", a.String())
	assert.Equal(t, a.String(), SeriesKey{AssetID: 1}.String())
	assert.NotEqual(t, a.LockID(), b.LockID())
	assert.Equal(t, a.LockID(), SeriesKey{AssetID: 1, Adjust: market.AdjustNone}.LockID())

	h := fnv.New64a()
	_, _ = h.Write([]byte("1/none"))
	assert.Equal(t, int64(h.Sum64()), a.LockID())
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("get", nil))
	base := errors.New("boom")
	err := Wrap("get", base)
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, err, Wrap("outer", err))
}

func TestBounds(t *testing.T) {
	d := calendar.MustParseDate
	lo, hi, ok := Bounds([]calendar.Date{d("2024-06-05"), d("2024-06-01"), d("2024-06-09")})
	require.True(t, ok)
	assert.Equal(t, d("2024-06-01"), lo)
	assert.Equal(t, d("2024-06-09"), hi)
	_, _, ok = Bounds(nil)
	assert.False(t, ok)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestRegisterAndOpen(t *testing.T) {
	var seen Config
	Register("Fake", func(ctx context.Context, cfg Config, deps Deps) (Backend, error) {
		seen = cfg
		return nil, errors.New("not today")
	})
	_, err := Open(context.Background(), Config{Driver: " FAKE "}, Deps{})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, "fake", seen.Driver)
	assert.Contains(t, Drivers(), "fake")
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "600519.SH", NormalizeSymbol(" 600519.sh "))
}
