package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"quotecache/internal/cache"
	"quotecache/internal/config"
	"quotecache/internal/history"
	"quotecache/internal/store"
	_ "quotecache/internal/store/memstore"
	_ "quotecache/internal/store/mongostore"
	_ "quotecache/internal/store/sqlstore"
	"quotecache/pkg/calendar"
	marketpkg "quotecache/pkg/market"
	_ "quotecache/pkg/market/exchanges/eodhd"
	_ "quotecache/pkg/market/exchanges/hyperliquid"
	"quotecache/pkg/market/sim"
	"quotecache/pkg/upstream"
)

type ServiceContext struct {
	Config config.Config

	Redis    *redis.Redis
	TTL      cache.TTLSet
	Store    store.Backend
	Calendar *calendar.Calendar

	MarketConfig *marketpkg.Config
	ProviderName string
	Provider     marketpkg.Provider
	Upstream     *upstream.Adapter
	History      *history.Service
}

// MustNewServiceContext is NewServiceContext for binaries; it exits on error.
func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(context.Background(), c)
	logx.Must(err)
	return svc
}

func NewServiceContext(ctx context.Context, c config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{
		Config: c,
		TTL:    cache.NewTTLSet(c.TTL),
	}

	cal, err := loadCalendar(c.Calendar)
	if err != nil {
		return nil, err
	}
	svc.Calendar = cal

	// Market providers. Without a market config the deterministic simulator
	// serves local runs.
	if c.Market.Value != nil {
		marketCfg := c.Market.Value
		// Apply test environment defaults: use testnet endpoints for all providers
		if c.IsTestEnv() {
			for _, provider := range marketCfg.Providers {
				provider.Testnet = true
			}
		}
		name := c.Provider
		if name == "" {
			name = marketCfg.DefaultName()
		}
		provider, err := marketCfg.Build(name)
		if err != nil {
			return nil, fmt.Errorf("build market provider: %w", err)
		}
		svc.MarketConfig = marketCfg
		svc.ProviderName = name
		svc.Provider = provider
	} else {
		if c.Provider != "" && c.Provider != "sim" {
			return nil, fmt.Errorf("market provider %q requires a market config file", c.Provider)
		}
		logx.Info("no market config, using the simulated provider")
		svc.ProviderName = "sim"
		svc.Provider = sim.New(sim.WithCalendar(cal))
	}

	// Redis is optional; it fronts the asset registry of SQL backends.
	if c.Redis.Host != "" {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.Redis = rds
	}

	backend, err := store.Open(ctx, c.Store, store.Deps{Redis: svc.Redis, AssetTTL: cache.AssetTTL(svc.TTL)})
	if err != nil {
		return nil, err
	}
	svc.Store = backend

	svc.Upstream = upstream.New(svc.Provider,
		upstream.WithName(svc.ProviderName),
		upstream.WithCalendar(cal),
		upstream.WithRetry(upstream.RetryConfig{
			MaxAttempts:    c.Fetch.MaxAttempts,
			InitialBackoff: c.Fetch.InitialBackoff,
			MaxBackoff:     c.Fetch.MaxBackoff,
		}),
	)
	svc.History = history.New(backend, svc.Upstream, cal, history.WithConfig(history.Config{
		MergeGapDays:  c.Fetch.MergeGapDays,
		MaxWindowDays: c.Fetch.MaxWindowDays,
		MaxRangeDays:  c.Fetch.MaxRangeDays,
		Concurrency:   c.Fetch.Concurrency,
		WindowTimeout: c.Fetch.WindowTimeout,
	}))
	return svc, nil
}

func loadCalendar(c config.CalendarConf) (*calendar.Calendar, error) {
	var (
		cal *calendar.Calendar
		err error
	)
	if c.File != "" {
		cal, err = calendar.Load(c.File)
	} else {
		cal, err = calendar.Builtin(c.Market)
	}
	if err != nil {
		return nil, fmt.Errorf("load calendar: %w", err)
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load calendar: %w", err)
		}
		cal = cal.In(loc)
	}
	return cal, nil
}

// Close releases the store.
func (s *ServiceContext) Close() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}
