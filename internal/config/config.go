package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/confkit"
	marketpkg "quotecache/pkg/market"
)

type CacheTTL struct {
	Short  int `json:",default=10"` // seconds
	Medium int `json:",default=60"`
	Long   int `json:",default=86400"`
}

// FetchConf tunes gap planning and the upstream retry policy.
type FetchConf struct {
	MergeGapDays   int           `json:",default=4"`
	MaxWindowDays  int           `json:",default=366"`
	MaxRangeDays   int           `json:",default=3660"`
	Concurrency    int           `json:",default=4"`
	MaxAttempts    int           `json:",default=4"`
	InitialBackoff time.Duration `json:",default=200ms"`
	MaxBackoff     time.Duration `json:",default=5s"`
	DefaultAdjust  string        `json:",default=none"`
	// WindowTimeout bounds one shared window fetch; zero uses the service default.
	WindowTimeout time.Duration `json:",default=2m"`
}

// CalendarConf selects the trading calendar. File, when set, replaces the
// builtin ruleset for Market.
type CalendarConf struct {
	Market   string `json:",default=xshg"`
	File     string `json:",optional"`
	Timezone string `json:",optional"`
}

// WarmConf drives the scheduled cache warmer.
type WarmConf struct {
	Symbols []string `json:",optional"`
	// Schedule is a standard five-field cron expression in the calendar's zone.
	Schedule string `json:",default=30 17 * * 1-5"`
	// LookbackDays is the calendar span warmed on each run, ending yesterday.
	LookbackDays int `json:",default=30"`
}

type Config struct {
	service.ServiceConf
	// Env indicates the running environment: test | dev | prod
	Env      string          `json:",default=test"`
	Store    store.Config    `json:",optional"`
	Redis    redis.RedisConf `json:",optional"`
	TTL      CacheTTL        `json:",optional"`
	Fetch    FetchConf       `json:",optional"`
	Calendar CalendarConf    `json:",optional"`
	Warm     WarmConf        `json:",optional"`

	Market confkit.Section[marketpkg.Config] `json:",optional"`
	// Provider names the market provider to use; empty selects the market config default.
	Provider string `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := locate(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.hydrateSections(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// locate resolves path against the working directory, then against the
// module root so binaries and tests started from subdirectories find etc/.
func locate(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		return absPath, nil
	}
	if _, err := os.Stat(absPath); err == nil {
		return absPath, nil
	}
	if rooted, err := confkit.ProjectPath(path); err == nil {
		if _, err := os.Stat(rooted); err == nil {
			return rooted, nil
		}
	}
	return absPath, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTTL(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	return c.validateCalendar()
}

func (c *Config) validateCalendar() error {
	c.Calendar.Market = strings.ToLower(strings.TrimSpace(c.Calendar.Market))
	if c.Calendar.Market == "" {
		c.Calendar.Market = "xshg"
	}
	if c.Calendar.File == "" {
		if markets := calendar.Markets(); !slices.Contains(markets, c.Calendar.Market) {
			return fmt.Errorf("config: calendar.market %q must be one of %s",
				c.Calendar.Market, strings.Join(markets, "|"))
		}
	}
	if c.Calendar.Timezone != "" {
		if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
			return fmt.Errorf("config: calendar.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch driver {
	case "":
		c.Store.Driver = "memory"
	case "memory", "postgres", "pgx", "sqlite", "mongo":
		c.Store.Driver = driver
	default:
		return fmt.Errorf("config: store.driver %q must be one of memory|postgres|pgx|sqlite|mongo", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("config: store.dsn is required for driver %s", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateTTL() error {
	if c.TTL.Short <= 0 {
		return errors.New("config: ttl.short must be positive")
	}
	if c.TTL.Medium <= 0 {
		return errors.New("config: ttl.medium must be positive")
	}
	if c.TTL.Long <= 0 {
		return errors.New("config: ttl.long must be positive")
	}
	return nil
}

func (c *Config) validateFetch() error {
	f := c.Fetch
	switch {
	case f.MergeGapDays <= 0:
		return errors.New("config: fetch.mergeGapDays must be positive")
	case f.MaxWindowDays < 0:
		return errors.New("config: fetch.maxWindowDays must not be negative")
	case f.MaxRangeDays <= 0:
		return errors.New("config: fetch.maxRangeDays must be positive")
	case f.Concurrency <= 0:
		return errors.New("config: fetch.concurrency must be positive")
	case f.MaxAttempts <= 0:
		return errors.New("config: fetch.maxAttempts must be positive")
	case f.WindowTimeout < 0:
		return errors.New("config: fetch.windowTimeout must not be negative")
	case f.InitialBackoff <= 0 || f.MaxBackoff < f.InitialBackoff:
		return errors.New("config: fetch backoff must satisfy 0 < initialBackoff <= maxBackoff")
	}
	if _, err := marketpkg.ParseAdjust(f.DefaultAdjust); err != nil {
		return fmt.Errorf("config: fetch.defaultAdjust: %w", err)
	}
	return nil
}

func (c *Config) hydrateSections() error {
	if err := c.Market.Hydrate(c.baseDir, marketpkg.LoadConfig); err != nil {
		return fmt.Errorf("load market config: %w", err)
	}
	if c.Calendar.File != "" {
		c.Calendar.File = confkit.ResolvePath(c.baseDir, c.Calendar.File)
	}
	return nil
}

// DefaultAdjust is Fetch.DefaultAdjust parsed; Validate guarantees it parses.
func (c *Config) DefaultAdjust() marketpkg.Adjust {
	adjust, _ := marketpkg.ParseAdjust(c.Fetch.DefaultAdjust)
	return adjust
}

func (c *Config) MainPath() string {
	return c.mainPath
}

func (c *Config) BaseDir() string {
	return c.baseDir
}
