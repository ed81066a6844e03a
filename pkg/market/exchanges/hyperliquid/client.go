package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/pkg/market"
)

const (
	defaultBaseURL          = "https://api.hyperliquid.xyz/info"
	testnetBaseURL          = "https://api.hyperliquid-testnet.xyz/info"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond
)

// Client wraps access to the Hyperliquid info endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int

	symbolsMu   sync.RWMutex
	symbolIndex map[string]string
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default info endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// NewClient constructs a Hyperliquid API client.
func NewClient(opts ...Option) *Client {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: httpClient,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = httpClient
	}
	return client
}

// doRequest posts an InfoRequest and decodes the response into result.
// Transport errors, 429 and 5xx are retried; other statuses fail immediately.
func (c *Client) doRequest(ctx context.Context, req InfoRequest, result interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode request: %w", err)
	}
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("hyperliquid: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("hyperliquid: read response: %w", readErr)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				apiErr := &market.APIError{
					Provider:   "hyperliquid",
					StatusCode: resp.StatusCode,
					Message:    strings.TrimSpace(string(body)),
					Endpoint:   req.Type,
				}
				if !apiErr.Temporary() {
					return apiErr
				}
				lastErr = apiErr
			default:
				if result != nil {
					if err := json.Unmarshal(body, result); err != nil {
						return fmt.Errorf("hyperliquid: decode response: %w: %v", market.ErrMalformedPayload, err)
					}
				}
				return nil
			}
		}

		if attempt < c.maxRetries {
			logx.WithContext(ctx).Slowf("hyperliquid: retry type=%s attempt=%d err=%v", req.Type, attempt+1, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.New("hyperliquid: request failed without error detail")
}

func (c *Client) canonicalFromCache(symbol string) (string, bool) {
	key := normalizeKey(symbol)
	if key == "" {
		return "", false
	}
	c.symbolsMu.RLock()
	canonical, ok := c.symbolIndex[key]
	c.symbolsMu.RUnlock()
	return canonical, ok
}

func (c *Client) refreshSymbolDirectory(ctx context.Context) error {
	var payload MetaResponse
	if err := c.doRequest(ctx, InfoRequest{Type: "meta"}, &payload); err != nil {
		return err
	}

	index := make(map[string]string, len(payload.Universe))
	for _, entry := range payload.Universe {
		canonical := strings.TrimSpace(entry.Name)
		if canonical == "" || entry.IsDelisted {
			continue
		}
		if key := normalizeKey(canonical); key != "" {
			index[key] = canonical
		}
	}

	c.symbolsMu.Lock()
	c.symbolIndex = index
	c.symbolsMu.Unlock()
	return nil
}

// canonicalSymbolFor maps user input such as "btcusdt" onto the listed coin name.
func (c *Client) canonicalSymbolFor(ctx context.Context, symbol string) (string, error) {
	if canonical, ok := c.canonicalFromCache(symbol); ok {
		return canonical, nil
	}
	if err := c.refreshSymbolDirectory(ctx); err != nil {
		return "", err
	}
	if canonical, ok := c.canonicalFromCache(symbol); ok {
		return canonical, nil
	}
	return "", fmt.Errorf("hyperliquid %q: %w", symbol, market.ErrSymbolNotFound)
}

func normalizeKey(symbol string) string {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) > 4 && strings.EqualFold(trimmed[len(trimmed)-4:], "USDT") {
		trimmed = trimmed[:len(trimmed)-4]
	}
	return strings.ToUpper(trimmed)
}
