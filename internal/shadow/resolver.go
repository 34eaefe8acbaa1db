// Package shadow resolves the L1 shadow account that executes bundles for an
// L2 address.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrZeroAddress = errors.New("zero address")
	// ErrNotDeployed is returned while l1ShadowAccount still reports the
	// zero address for an L2 account.
	ErrNotDeployed = errors.New("shadow account not deployed")
)

// CacheTTL bounds how long a resolved shadow account is kept in the shared
// cache. The mapping is deterministic, so this is only a memory bound.
const CacheTTL = 24 * time.Hour

type Resolver struct {
	caller chain.Caller
	cache  *store.Cache
	logger *zap.SugaredLogger

	ttl time.Duration

	mu      sync.RWMutex
	session map[common.Address]common.Address
	group   singleflight.Group
}

type Option func(*Resolver)

// WithCacheTTL overrides CacheTTL for the shared cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewResolver reads through caller (an L2 client). cache may be nil.
func NewResolver(caller chain.Caller, cache *store.Cache, logger *zap.SugaredLogger, opts ...Option) *Resolver {
	r := &Resolver{
		caller:  caller,
		cache:   cache,
		logger:  logger,
		ttl:     CacheTTL,
		session: make(map[common.Address]common.Address),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns L2InteropCenter.l1ShadowAccount(l2). Errors, including
// ErrNotDeployed, are never cached.
func (r *Resolver) Resolve(ctx context.Context, l2 common.Address) (common.Address, error) {
	if l2 == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}

	r.mu.RLock()
	shadow, ok := r.session[l2]
	r.mu.RUnlock()
	if ok {
		return shadow, nil
	}

	v, err, _ := r.group.Do(l2.Hex(), func() (interface{}, error) {
		return r.load(ctx, l2)
	})
	if err != nil {
		return common.Address{}, err
	}
	shadow = v.(common.Address)

	r.mu.Lock()
	r.session[l2] = shadow
	r.mu.Unlock()
	return shadow, nil
}

func (r *Resolver) load(ctx context.Context, l2 common.Address) (common.Address, error) {
	key := store.Key(store.KeyShadowAccount, l2.Hex())
	if r.cache != nil {
		var cached common.Address
		if err := r.cache.Get(ctx, key, &cached); err == nil && cached != (common.Address{}) {
			return cached, nil
		} else if err == nil {
			r.logger.Debugw("Ignoring zero shadow account in cache", "address", l2.Hex())
		} else if !errors.Is(err, store.ErrCacheMiss) {
			r.logger.Debugw("Shadow cache read failed", "address", l2.Hex(), "error", err)
		}
	}

	out, err := chain.Call(ctx, r.caller, chain.L2InteropCenter, chain.InteropCenterABI, "l1ShadowAccount", l2)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve shadow account for %s: %w", l2.Hex(), err)
	}
	shadow, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("l1ShadowAccount: unexpected output %T", out[0])
	}
	if shadow == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w for %s", ErrNotDeployed, l2.Hex())
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, shadow, r.ttl); err != nil {
			r.logger.Warnw("Shadow cache write failed", "address", l2.Hex(), "error", err)
		}
	}
	r.logger.Debugw("Resolved shadow account", "l2", l2.Hex(), "shadow", shadow.Hex())
	return shadow, nil
}
