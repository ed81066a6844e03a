package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/internal/config"
	"quotecache/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	calendarLine := fmt.Sprintf("Calendar: %s (builtin)", cfg.Calendar.Market)
	if cfg.Calendar.File != "" {
		calendarLine = fmt.Sprintf("Calendar: %s", cfg.Calendar.File)
	}
	if cfg.Calendar.Timezone != "" {
		calendarLine += fmt.Sprintf(", settles in %s", cfg.Calendar.Timezone)
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "default"
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Store: %s (%s)", cfg.Store.Driver, presence(cfg.Store.DSN != "")),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Fetch: merge<=%dd window<=%dd range<=%dd concurrency=%d attempts=%d backoff=%s..%s adjust=%s",
			cfg.Fetch.MergeGapDays, cfg.Fetch.MaxWindowDays, cfg.Fetch.MaxRangeDays, cfg.Fetch.Concurrency,
			cfg.Fetch.MaxAttempts, cfg.Fetch.InitialBackoff, cfg.Fetch.MaxBackoff, cfg.DefaultAdjust()),
		calendarLine,
		sectionLine("Market config", cfg.Market),
		fmt.Sprintf("Provider: %s", provider),
	}
	if len(cfg.Warm.Symbols) > 0 {
		lines = append(lines, fmt.Sprintf("Warm: %d symbols on %q, %d day lookback",
			len(cfg.Warm.Symbols), cfg.Warm.Schedule, cfg.Warm.LookbackDays))
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
