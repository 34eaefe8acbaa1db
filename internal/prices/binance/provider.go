package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	BinanceRestAPI = "https://api.binance.com"
	BinanceWS      = "wss://stream.binance.com:9443/ws"
)

// Provider implements prices.LiveProvider for Binance
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	restURL string
	wsURL   string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

type Option func(*Provider)

// WithEndpoints overrides the REST and websocket base URLs.
func WithEndpoints(restURL, wsURL string) Option {
	return func(p *Provider) {
		p.restURL = strings.TrimRight(restURL, "/")
		p.wsURL = strings.TrimRight(wsURL, "/")
	}
}

// NewProvider creates a new Binance provider
func NewProvider(logger *zap.SugaredLogger, opts ...Option) *Provider {
	p := &Provider{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		restURL: BinanceRestAPI,
		wsURL:   BinanceWS,
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

// LatestPrice returns the close of the latest 1m kline.
func (p *Provider) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1m")
	params.Set("limit", "1")
	requestURL := fmt.Sprintf("%s/api/v3/klines?%s", p.restURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("Binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return decimal.Zero, err
	}

	var klines [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(klines) == 0 {
		err := fmt.Errorf("no price data returned from Binance for symbol %s", symbol)
		p.updateHealth(false, err)
		return decimal.Zero, err
	}

	closePrice, err := klineClose(klines[len(klines)-1])
	if err != nil {
		p.updateHealth(false, err)
		return decimal.Zero, err
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched latest price from Binance", "symbol", symbol, "price", closePrice.String())
	return closePrice, nil
}

// SubscribeLive streams trades for symbol into out until ctx is done or the
// socket fails. Ticks are dropped when out is full.
func (p *Provider) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Tick) error {
	wsURL := fmt.Sprintf("%s/%s@trade", p.wsURL, strings.ToLower(symbol))

	p.logger.Infow("Connecting to Binance WebSocket", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p.updateHealth(true, nil)
	p.logger.Infow("Connected to Binance WebSocket", "symbol", symbol)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.updateHealth(false, err)
			p.mu.Lock()
			p.health.Reconnects++
			p.mu.Unlock()
			return fmt.Errorf("WebSocket read error: %w", err)
		}

		var trade Trade
		if err := json.Unmarshal(message, &trade); err != nil {
			p.logger.Warnw("Failed to parse trade message", "error", err, "message", string(message))
			continue
		}
		price, err := decimal.NewFromString(trade.Price)
		if err != nil {
			p.logger.Warnw("Failed to parse trade price", "error", err, "price", trade.Price)
			continue
		}

		tick := prices.Tick{
			Symbol: symbol,
			Price:  price,
			TsMs:   trade.EventTime,
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		default:
			p.logger.Debugw("Tick channel full, skipping", "symbol", symbol)
		}

		p.updateHealth(true, nil)
	}
}

// Trade is a trade message from the Binance websocket.
type Trade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// klineClose reads the close price (index 4) of a kline array.
func klineClose(kline []interface{}) (decimal.Decimal, error) {
	if len(kline) < 5 {
		return decimal.Zero, fmt.Errorf("invalid kline format: expected at least 5 fields, got %d", len(kline))
	}
	switch v := kline[4].(type) {
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("invalid close price type %T", v)
	}
}
