package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quotecache/internal/config"
	"quotecache/internal/store"
	"quotecache/pkg/confkit"
	"quotecache/pkg/market"
)

func TestConfigSummaryLines(t *testing.T) {
	assert.Equal(t, []string{"Configuration: <nil>"}, ConfigSummaryLines(nil))

	cfg := &config.Config{
		Env:      "dev",
		Store:    store.Config{Driver: "pgx", DSN: "postgres://x"},
		TTL:      config.CacheTTL{Short: 10, Medium: 60, Long: 86400},
		Fetch:    config.FetchConf{MergeGapDays: 4, MaxWindowDays: 366, MaxRangeDays: 3660, Concurrency: 4, MaxAttempts: 4, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second, DefaultAdjust: "qfq"},
		Calendar: config.CalendarConf{Market: "xshg", Timezone: "Asia/Shanghai"},
		Market:   confkit.Section[market.Config]{File: "/etc/quotecache/market.yaml"},
		Warm:     config.WarmConf{Symbols: []string{"600519", "000001"}, Schedule: "30 17 * * 1-5", LookbackDays: 30},
	}
	joined := strings.Join(ConfigSummaryLines(cfg), "\n")
	for _, want := range []string{
		"Environment: dev",
		"Store: pgx (configured)",
		"Redis: not configured",
		"adjust=forward",
		"Calendar: xshg (builtin), settles in Asia/Shanghai",
		"Market config: /etc/quotecache/market.yaml",
		"Provider: default",
		"Warm: 2 symbols",
	} {
		assert.Contains(t, joined, want)
	}
}

func TestSectionLine(t *testing.T) {
	assert.Equal(t, "X: not configured", sectionLine("X", confkit.Section[int]{}))
	v := 1
	assert.Equal(t, "X: inline", sectionLine("X", confkit.Section[int]{Value: &v}))
}
