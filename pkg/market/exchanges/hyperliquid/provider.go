package hyperliquid

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/pkg/market"
)

const defaultProviderTimeout = 8 * time.Second

// Provider wraps Hyperliquid client calls behind the generic market.Provider contract.
// Perpetuals have no corporate actions, so every adjustment returns the same candles.
type Provider struct {
	client     *Client
	timeout    time.Duration
	providerID string
}

type providerConfig struct {
	timeout      time.Duration
	clientConfig []Option
}

// ProviderOption customises the Hyperliquid provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClientOptions passes options to the underlying Hyperliquid client.
func WithClientOptions(options ...Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.clientConfig = append(cfg.clientConfig, options...)
	}
}

// NewProvider constructs a Hyperliquid market provider.
func NewProvider(opts ...ProviderOption) *Provider {
	cfg := &providerConfig{
		timeout: defaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Provider{
		client:  NewClient(cfg.clientConfig...),
		timeout: cfg.timeout,
	}
}

func init() {
	market.RegisterProvider("hyperliquid", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		opts := []ProviderOption{}
		// Registered providers sit behind the upstream adapter, which owns
		// retries and counts attempts; the client makes one call per attempt.
		if cfg.MaxRetries > 0 {
			logx.Infof("hyperliquid: provider=%s ignores max_retries=%d, retries are handled by the upstream adapter", name, cfg.MaxRetries)
		}
		clientOptions := []Option{WithMaxRetries(0)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		if cfg.HTTPTimeout > 0 {
			clientOptions = append(clientOptions, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		if cfg.Testnet {
			clientOptions = append(clientOptions, WithBaseURL(testnetBaseURL))
		}
		if cfg.BaseURL != "" {
			clientOptions = append(clientOptions, WithBaseURL(cfg.BaseURL))
		}
		opts = append(opts, WithClientOptions(clientOptions...))
		provider := NewProvider(opts...)
		provider.providerID = name
		return provider, nil
	})
}

// DailyBars implements market.Provider.
func (p *Provider) DailyBars(ctx context.Context, req market.Request) ([]market.Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	candles, canonical, err := p.client.GetDailyCandles(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		logx.WithContext(ctx).Errorf("hyperliquid: daily candles provider=%s symbol=%s err=%v", p.providerName(), req.Symbol, err)
		return nil, err
	}
	rows := make([]market.Row, 0, len(candles))
	for _, item := range candles {
		rows = append(rows, market.Row{
			"date":   time.UnixMilli(item.T).UTC().Format("2006-01-02"),
			"symbol": canonical,
			"open":   item.O,
			"high":   item.H,
			"low":    item.L,
			"close":  item.C,
			"volume": item.V,
			"trades": item.N,
		})
	}
	return rows, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Provider) providerName() string {
	if strings.TrimSpace(p.providerID) != "" {
		return p.providerID
	}
	return "hyperliquid"
}
