package alchemy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.g.alchemy.com"

var (
	ErrMissingAPIKey = errors.New("missing ALCHEMY_API_KEY")
	ErrPriceNotFound = errors.New("price not found")
)

// Provider reads spot prices from the Alchemy prices API.
type Provider struct {
	apiKey  string
	baseURL string
	logger  *zap.SugaredLogger
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	health prices.ProviderHealth
}

type Option func(*Provider)

// WithBaseURL points the provider at another host, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func NewProvider(apiKey string, logger *zap.SugaredLogger, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		health:  prices.ProviderHealth{Healthy: true},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alchemy-prices",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infow("Price circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

func (p *Provider) Name() string {
	return "alchemy"
}

func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Provider) updateHealth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = err == nil
	if err == nil {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else {
		p.health.LastError = err.Error()
	}
}

type pricesResponse struct {
	Data []struct {
		Symbol string `json:"symbol"`
		Prices []struct {
			Currency string `json:"currency"`
			Value    string `json:"value"`
		} `json:"prices"`
		Error interface{} `json:"error"`
	} `json:"data"`
}

// LatestPrice reads data[0].prices[0].value for symbol.
func (p *Provider) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p.apiKey == "" {
		p.updateHealth(ErrMissingAPIKey)
		return decimal.Zero, ErrMissingAPIKey
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, symbol)
	})
	p.updateHealth(err)
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}

func (p *Provider) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/prices/v1/%s/tokens/by-symbol?symbols=%s",
		p.baseURL, url.PathEscape(p.apiKey), url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch from Alchemy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return decimal.Zero, fmt.Errorf("Alchemy %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var body pricesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(body.Data) == 0 || len(body.Data[0].Prices) == 0 || body.Data[0].Prices[0].Value == "" {
		return decimal.Zero, ErrPriceNotFound
	}

	price, err := decimal.NewFromString(body.Data[0].Prices[0].Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceNotFound, err)
	}

	p.logger.Debugw("Fetched price from Alchemy", "symbol", symbol, "price", price.String())
	return price, nil
}
