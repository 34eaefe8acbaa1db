package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shadowlend/shadowlend-backend/internal/prices/mock"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceObserver accepts pushed prices.
type PriceObserver interface {
	Observe(source string, price decimal.Decimal, at time.Time)
}

// TickPublisher fans ticks out to live clients.
type TickPublisher interface {
	Publish(topic string, data any) error
}

// PriceWarmer keeps the price service warm from a live feed. While the
// primary is unhealthy an optional fallback feed keeps live clients moving,
// but its ticks never reach the price service or the cache: the service
// serves its last real price as stale instead.
type PriceWarmer struct {
	provider prices.LiveProvider
	fallback prices.LiveProvider
	registry *prices.Registry
	service  PriceObserver
	cache    *store.Cache
	pub      TickPublisher
	topic    string
	logger   *zap.SugaredLogger
	config   PriceWarmerConfig

	mu        sync.RWMutex
	usingMock bool
	lastTick  *prices.Tick
}

type PriceWarmerConfig struct {
	RetryInterval time.Duration // health check period and reconnect backoff base
	MaxBackoff    time.Duration
	TTL           time.Duration // cache TTL for the latest tick
}

func DefaultPriceWarmerConfig() PriceWarmerConfig {
	return PriceWarmerConfig{
		RetryInterval: 5 * time.Second,
		MaxBackoff:    time.Minute,
		TTL:           30 * time.Second,
	}
}

// NewPriceWarmer creates a warmer. fallback and cache may be nil.
func NewPriceWarmer(provider, fallback prices.LiveProvider, service PriceObserver, cache *store.Cache, logger *zap.SugaredLogger, config PriceWarmerConfig) *PriceWarmer {
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultPriceWarmerConfig().RetryInterval
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultPriceWarmerConfig().MaxBackoff
	}
	return &PriceWarmer{
		provider: provider,
		fallback: fallback,
		registry: prices.NewRegistry(),
		service:  service,
		cache:    cache,
		logger:   logger,
		config:   config,
	}
}

// WithPublisher forwards every observed tick to pub under topic.
func (w *PriceWarmer) WithPublisher(pub TickPublisher, topic string) *PriceWarmer {
	w.pub = pub
	w.topic = topic
	return w
}

// Start streams until ctx is done.
func (w *PriceWarmer) Start(ctx context.Context) error {
	w.logger.Infow("Starting price warmer", "provider", w.provider.Name(), "pair", prices.PairETHUSD)

	ticks := make(chan sourcedTick, 100)
	go w.subscribe(ctx, ticks)

	healthTicker := time.NewTicker(w.config.RetryInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Price warmer stopping due to context cancellation")
			return ctx.Err()
		case tick := <-ticks:
			w.processTick(ctx, tick)
		case <-healthTicker.C:
			w.checkProviderHealth(ctx)
		}
	}
}

// subscribe keeps a live subscription open, reconnecting with backoff.
func (w *PriceWarmer) subscribe(ctx context.Context, out chan<- sourcedTick) {
	backoff := retry.NewExponential(w.config.RetryInterval)
	backoff = retry.WithCappedDuration(w.config.MaxBackoff, backoff)

	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		p := w.currentProvider()
		symbol, err := w.registry.Symbol(p.Name(), prices.PairETHUSD)
		if err != nil {
			w.logger.Errorw("No symbol for live provider", "provider", p.Name(), "error", err)
			return err
		}

		// A subscription ends when the provider is switched, so the next
		// attempt picks up the other one.
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go w.watchSwitch(subCtx, cancel, p)

		err = p.SubscribeLive(subCtx, symbol, tagTicks(subCtx, p, p != w.provider, out))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warnw("Live subscription failed", "provider", p.Name(), "symbol", symbol, "error", err)
			if p == w.provider {
				w.switchToMock("live subscription failed")
			}
		}
		return retry.RetryableError(errors.New("live subscription ended"))
	})
}

func (w *PriceWarmer) watchSwitch(ctx context.Context, cancel context.CancelFunc, active prices.LiveProvider) {
	t := time.NewTicker(w.config.RetryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if w.currentProvider() != active {
				cancel()
				return
			}
		}
	}
}

type sourcedTick struct {
	tick     prices.Tick
	source   string
	fallback bool
}

// tagTicks labels every tick from p so a late tick from a replaced feed is
// still attributed to the feed that produced it.
func tagTicks(ctx context.Context, p prices.LiveProvider, fallback bool, out chan<- sourcedTick) chan<- prices.Tick {
	in := make(chan prices.Tick, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-in:
				select {
				case out <- sourcedTick{tick: tick, source: p.Name(), fallback: fallback}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return in
}

func (w *PriceWarmer) processTick(ctx context.Context, st sourcedTick) {
	tick, source := st.tick, st.source
	if st.fallback {
		w.publish(tick)
		w.logger.Debugw("Fallback tick not observed", "source", source, "symbol", tick.Symbol)
		return
	}

	w.service.Observe(source, tick.Price, time.UnixMilli(tick.TsMs))

	w.mu.Lock()
	w.lastTick = &tick
	w.mu.Unlock()

	if w.cache != nil {
		key := store.Key(store.KeyOraclePrice, "live", tick.Symbol)
		if err := w.cache.Set(ctx, key, tick, w.config.TTL); err != nil {
			w.logger.Warnw("Failed to cache tick", "symbol", tick.Symbol, "error", err)
		}
	}
	w.publish(tick)
	w.logger.Debugw("Observed tick", "source", source, "symbol", tick.Symbol, "price", tick.Price.String())
}

func (w *PriceWarmer) publish(tick prices.Tick) {
	if w.pub == nil {
		return
	}
	if err := w.pub.Publish(w.topic, tick); err != nil {
		w.logger.Warnw("Failed to publish tick", "topic", w.topic, "error", err)
	}
}

func (w *PriceWarmer) currentProvider() prices.LiveProvider {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.usingMock && w.fallback != nil {
		return w.fallback
	}
	return w.provider
}

// UsingFallback reports whether the mock feed is active.
func (w *PriceWarmer) UsingFallback() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.usingMock && w.fallback != nil
}

func (w *PriceWarmer) switchToMock(reason string) {
	if w.fallback == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.usingMock {
		return
	}
	w.usingMock = true
	w.logger.Warnw("Switching to fallback price feed", "reason", reason, "provider", w.provider.Name())

	// Continue from the last real price.
	if gen, ok := w.fallback.(*mock.Generator); ok && w.lastTick != nil {
		f, _ := w.lastTick.Price.Float64()
		gen.SetBasePrice(f)
	}
}

// checkProviderHealth switches to the mock feed when the primary reports
// unhealthy, and back once a REST probe of the primary succeeds.
func (w *PriceWarmer) checkProviderHealth(ctx context.Context) {
	if !w.UsingFallback() {
		health := w.provider.Health()
		if !health.Healthy {
			w.logger.Warnw("Primary price feed unhealthy",
				"provider", w.provider.Name(),
				"lastError", health.LastError,
				"reconnects", health.Reconnects,
			)
			w.switchToMock("provider health check failed")
		}
		return
	}

	symbol, err := w.registry.Symbol(w.provider.Name(), prices.PairETHUSD)
	if err != nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, w.config.RetryInterval)
	defer cancel()
	if _, err := w.provider.LatestPrice(probeCtx, symbol); err != nil {
		w.logger.Debugw("Primary price feed still down", "provider", w.provider.Name(), "error", err)
		return
	}

	w.logger.Infow("Primary price feed recovered, switching back", "provider", w.provider.Name())
	w.mu.Lock()
	w.usingMock = false
	w.mu.Unlock()
}
