package hyperliquid

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotecache/pkg/calendar"
)

// Replays a recorded candleSnapshot call. Skips when the cassette is absent
// and RECORD_CASSETTES != 1.
func TestClient_GetDailyCandles_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "hyperliquid_daily")
	if _, err := os.Stat(cassette + ".yaml"); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(cassette), 0o755))
	}

	r, err := recorder.New(cassette)
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	client := NewClient(WithHTTPClient(&http.Client{Transport: r}), WithMaxRetries(0))
	candles, canonical, err := client.GetDailyCandles(context.Background(), "btc",
		calendar.MustParseDate("2024-01-02"), calendar.MustParseDate("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, "BTC", canonical)
	assert.Len(t, candles, 4)
	for _, c := range candles {
		assert.NotEmpty(t, c.C)
	}
}
