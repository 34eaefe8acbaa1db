// Package prices serves a cached ETH/USD price with stale fallback.
package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNoPrice = errors.New("no price available")

// DefaultTTL is how long a fetched price is served without refetching.
const DefaultTTL = 2 * time.Minute

// Quote is a price together with how it was obtained.
type Quote struct {
	Price     decimal.Decimal
	Cached    bool
	Stale     bool
	FetchedAt time.Time
	Source    string
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
	source    string
}

// Service caches the ETH/USD price process-wide. Providers are tried in order
// on refresh.
type Service struct {
	providers []Provider
	registry  *Registry
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	cached *cachedPrice
	sf     singleflight.Group
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRegistry(r *Registry) Option {
	return func(s *Service) { s.registry = r }
}

func NewService(logger *zap.SugaredLogger, providers []Provider, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		registry:  NewRegistry(),
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ETHPrice returns a fresh cached price, or refreshes it. When every provider
// fails it serves the last known price marked stale, or ErrNoPrice if there
// is none.
func (s *Service) ETHPrice(ctx context.Context) (Quote, error) {
	if q, ok := s.fresh(); ok {
		return q, nil
	}

	v, err, _ := s.sf.Do(PairETHUSD, func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err == nil {
		return v.(Quote), nil
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		s.logger.Warnw("Serving stale price", "age", s.now().Sub(cached.fetchedAt), "error", err)
		return Quote{
			Price:     cached.price,
			Cached:    true,
			Stale:     true,
			FetchedAt: cached.fetchedAt,
			Source:    cached.source,
		}, nil
	}
	return Quote{}, fmt.Errorf("%w: %w", ErrNoPrice, err)
}

// Observe stores a price pushed by a live feed.
func (s *Service) Observe(source string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && at.Before(s.cached.fetchedAt) {
		return
	}
	s.cached = &cachedPrice{price: price, fetchedAt: at, source: source}
}

func (s *Service) fresh() (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil || s.now().Sub(s.cached.fetchedAt) >= s.ttl {
		return Quote{}, false
	}
	return Quote{
		Price:     s.cached.price,
		Cached:    true,
		FetchedAt: s.cached.fetchedAt,
		Source:    s.cached.source,
	}, true
}

func (s *Service) refresh(ctx context.Context) (Quote, error) {
	if len(s.providers) == 0 {
		return Quote{}, errors.New("no price providers configured")
	}

	var errs []error
	for _, p := range s.providers {
		symbol, err := s.registry.Symbol(p.Name(), PairETHUSD)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		price, err := p.LatestPrice(ctx, symbol)
		s.metrics.RecordPriceFetch(ctx, p.Name(), err == nil)
		if err != nil {
			s.logger.Warnw("Price provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if !price.IsPositive() {
			errs = append(errs, fmt.Errorf("%s: non-positive price %s", p.Name(), price))
			continue
		}

		at := s.now()
		s.mu.Lock()
		s.cached = &cachedPrice{price: price, fetchedAt: at, source: p.Name()}
		s.mu.Unlock()

		s.logger.Debugw("Refreshed ETH price", "provider", p.Name(), "price", price.String())
		return Quote{Price: price, FetchedAt: at, Source: p.Name()}, nil
	}
	return Quote{}, errors.Join(errs...)
}
