package market_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	market "quotecache/pkg/market"
	_ "quotecache/pkg/market/exchanges/eodhd"
)

// Ensures env placeholders are expanded and durations parsed.
func TestMarketConfig_EnvExpansionAndDurations(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EOD_BASE_URL", "https://eodhd.test/api")
	t.Setenv("EOD_KEY", "k-1")
	t.Setenv("TOUT", "9s")
	t.Setenv("HTTP_TOUT", "13s")

	yaml := []byte(`
default: eod
providers:
  eod:
    type: eodhd
    base_url: ${EOD_BASE_URL}
    api_key: ${EOD_KEY}
    timeout: ${TOUT}
    http_timeout: ${HTTP_TOUT}
`)
	path := filepath.Join(dir, "market.yaml")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := market.LoadConfig(path)
	require.NoError(t, err)
	p := cfg.Providers["eod"]
	require.NotNil(t, p)
	require.Equal(t, "https://eodhd.test/api", p.BaseURL)
	require.Equal(t, "k-1", p.APIKey)
	require.Equal(t, "9s", p.Timeout.String())
	require.Equal(t, "13s", p.HTTPTimeout.String())
}
