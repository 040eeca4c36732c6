// Package oracle reads informational prices from an external feed. No
// ledger rule depends on these values.
package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Quote is one observed price.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Fetcher returns the current quote for a symbol.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, symbol string) (Quote, error)

func (f FetcherFunc) Quote(ctx context.Context, symbol string) (Quote, error) { return f(ctx, symbol) }

// DefaultPricePath is the gjson path used when none is configured.
const DefaultPricePath = "price"

const maxBody = 1 << 20

// HTTPFetcher queries an HTTP endpoint with ?symbol=<SYMBOL> and extracts
// the price with a gjson path. The path may contain "{symbol}", which is
// replaced by the upper-cased symbol.
type HTTPFetcher struct {
	client    *http.Client
	endpoint  *url.URL
	apiKey    string
	pricePath string
	ttl       time.Duration
	log       *logger.Logger

	mu    sync.Mutex
	cache map[string]Quote
	now   func() time.Time
}

// NewHTTPFetcher constructs a fetcher for endpoint.
func NewHTTPFetcher(client *http.Client, endpoint, apiKey, pricePath string, log *logger.Logger) (*HTTPFetcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("oracle endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse oracle endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if strings.TrimSpace(pricePath) == "" {
		pricePath = DefaultPricePath
	}
	if log == nil {
		log = logger.NewDefault("oracle-http-fetcher")
	}
	return &HTTPFetcher{
		client:    client,
		endpoint:  parsed,
		apiKey:    strings.TrimSpace(apiKey),
		pricePath: pricePath,
		log:       log,
		cache:     make(map[string]Quote),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithCacheTTL keeps quotes for ttl before refetching.
func (f *HTTPFetcher) WithCacheTTL(ttl time.Duration) *HTTPFetcher {
	f.ttl = ttl
	return f
}

func (f *HTTPFetcher) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, fmt.Errorf("symbol required")
	}
	if q, ok := f.cached(symbol); ok {
		return q, nil
	}

	requestURL := *f.endpoint
	query := requestURL.Query()
	query.Set("symbol", symbol)
	requestURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build oracle request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("oracle status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Quote{}, fmt.Errorf("read oracle response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Quote{}, fmt.Errorf("oracle response is not valid JSON")
	}

	path := strings.ReplaceAll(f.pricePath, "{symbol}", symbol)
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return Quote{}, fmt.Errorf("oracle response has no value at %q", path)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(result.String()))
	if err != nil {
		return Quote{}, fmt.Errorf("parse oracle price %q: %w", result.String(), err)
	}

	source := gjson.GetBytes(body, "source").String()
	if source == "" {
		source = f.endpoint.Host
	}
	q := Quote{Symbol: symbol, Price: price, Source: source, FetchedAt: f.now()}
	f.store(q)

	f.log.WithField("symbol", symbol).
		WithField("price", price.String()).
		Debug("oracle quote fetched")
	return q, nil
}

func (f *HTTPFetcher) cached(symbol string) (Quote, bool) {
	if f.ttl <= 0 {
		return Quote{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.cache[symbol]
	if !ok || f.now().Sub(q.FetchedAt) > f.ttl {
		return Quote{}, false
	}
	return q, true
}

func (f *HTTPFetcher) store(q Quote) {
	if f.ttl <= 0 {
		return
	}
	f.mu.Lock()
	f.cache[q.Symbol] = q
	f.mu.Unlock()
}
