package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Generator is a random-walk price source for dev and tests.
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.Mutex
	basePrice  float64
	current    float64
	volatility float64
	interval   time.Duration
	health     prices.ProviderHealth
	rng        *rand.Rand
}

// NewGenerator creates a walk around basePrice with per-step volatility.
func NewGenerator(logger *zap.SugaredLogger, basePrice, volatility float64) *Generator {
	if basePrice <= 0 {
		basePrice = 4000.00
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% per step
	}

	return &Generator{
		logger:     logger,
		basePrice:  basePrice,
		current:    basePrice,
		volatility: volatility,
		interval:   1500 * time.Millisecond,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

func (g *Generator) Name() string {
	return "mock"
}

func (g *Generator) Health() prices.ProviderHealth {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.health
}

// LatestPrice advances the walk one step.
func (g *Generator) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(g.step()).Round(2), nil
}

// SubscribeLive emits a step every interval until ctx is done.
func (g *Generator) SubscribeLive(ctx context.Context, symbol string, out chan<- prices.Tick) error {
	g.logger.Infow("Starting mock live price feed", "symbol", symbol, "basePrice", g.basePrice)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick := prices.Tick{
				Symbol: symbol,
				Price:  decimal.NewFromFloat(g.step()).Round(2),
				TsMs:   time.Now().UnixMilli(),
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			default:
				// Channel full, skip this tick
			}
		}
	}
}

// step moves the price and keeps it within ±50% of the base.
func (g *Generator) step() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	change := g.rng.NormFloat64() * g.volatility
	maxChange := g.volatility * 5
	if change > maxChange {
		change = maxChange
	} else if change < -maxChange {
		change = -maxChange
	}
	g.current *= 1 + change

	if minPrice := g.basePrice * 0.5; g.current < minPrice {
		g.current = minPrice
	} else if maxPrice := g.basePrice * 1.5; g.current > maxPrice {
		g.current = maxPrice
	}

	g.health.LastSuccess = time.Now()
	return g.current
}

// SetBasePrice recentres the walk.
func (g *Generator) SetBasePrice(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price > 0 {
		g.basePrice = price
		g.current = price
	}
}
