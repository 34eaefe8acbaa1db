// Package onchain reads Aave positions of shadow accounts on L1.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AaveData is the position snapshot served by PositionService.
type AaveData = calc.AaveData

// FallbackEthPriceUSD is used when the oracle cannot be read.
var FallbackEthPriceUSD = decimal.RequireFromString("4000.00")

const (
	PositionTTL    = 15 * time.Second
	OraclePriceTTL = time.Minute
)

// ChainReader is the L1 view the service needs.
type ChainReader interface {
	chain.Caller
}

type PositionService struct {
	chain       ChainReader
	cache       *store.Cache
	logger      *zap.SugaredLogger
	positionTTL time.Duration
	sf          singleflight.Group
}

type Option func(*PositionService)

func WithPositionTTL(ttl time.Duration) Option {
	return func(s *PositionService) {
		if ttl > 0 {
			s.positionTTL = ttl
		}
	}
}

// NewPositionService reads through an L1 client. cache may be nil.
func NewPositionService(chain ChainReader, cache *store.Cache, logger *zap.SugaredLogger, opts ...Option) *PositionService {
	s := &PositionService{
		chain:       chain,
		cache:       cache,
		logger:      logger,
		positionTTL: PositionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Position returns the account data of shadow with the derived borrow cap
// fields.
func (s *PositionService) Position(ctx context.Context, shadow common.Address) (*AaveData, error) {
	key := store.Key(store.KeyPosition, shadow.Hex())
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.positionInternal(ctx, key, shadow)
	})
	if err != nil {
		return nil, err
	}
	return result.(*AaveData), nil
}

func (s *PositionService) positionInternal(ctx context.Context, key string, shadow common.Address) (*AaveData, error) {
	var cached AaveData
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	out, err := chain.Call(ctx, s.chain, chain.AavePool, chain.PoolABI, "getUserAccountData", shadow)
	if err != nil {
		s.logger.Errorw("Failed to read account data", "shadow", shadow.Hex(), "error", err)
		return nil, fmt.Errorf("failed to fetch account data: %w", err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getUserAccountData: expected 6 outputs, got %d", len(out))
	}
	values := make([]*big.Int, len(out))
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getUserAccountData: output %d is %T", i, v)
		}
		values[i] = n
	}

	ghoPrice, err := s.assetPrice(ctx, chain.GhoToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GHO price: %w", err)
	}

	data := calc.NewAaveData(values[0], values[1], values[2], values[3], values[4], values[5], ghoPrice)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.positionTTL); err != nil {
			s.logger.Warnw("Failed to cache position", "shadow", shadow.Hex(), "error", err)
		}
	}
	return &data, nil
}

// SuppliedBalance is the aToken balance of shadow in wei.
func (s *PositionService) SuppliedBalance(ctx context.Context, shadow common.Address) (*big.Int, error) {
	out, err := chain.Call(ctx, s.chain, chain.AToken, chain.ERC20ABI, "balanceOf", shadow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch supplied balance: %w", err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected output %T", out[0])
	}
	return balance, nil
}

// EthPriceUSD reads the oracle price of WETH in dollars. Oracle failures fall
// back to FallbackEthPriceUSD.
func (s *PositionService) EthPriceUSD(ctx context.Context) decimal.Decimal {
	price, err := s.assetPrice(ctx, chain.AaveWethToken)
	if err != nil {
		s.logger.Warnw("Falling back to default ETH price", "error", err)
		return FallbackEthPriceUSD
	}
	return calc.FormatBaseUSD(price)
}

func (s *PositionService) assetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	key := store.Key(store.KeyOraclePrice, asset.Hex())
	if s.cache != nil {
		var cached big.Int
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, store.ErrCacheMiss) {
			s.logger.Debugw("Oracle price cache read failed", "asset", asset.Hex(), "error", err)
		}
	}

	out, err := chain.Call(ctx, s.chain, chain.AaveOracle, chain.OracleABI, "getAssetPrice", asset)
	if err != nil {
		return nil, err
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAssetPrice: unexpected output %T", out[0])
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, price, OraclePriceTTL); err != nil {
			s.logger.Warnw("Failed to cache oracle price", "asset", asset.Hex(), "error", err)
		}
	}
	return price, nil
}
