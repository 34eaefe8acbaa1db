// Package bundle builds and decodes the L1 multi-call bundles that a shadow
// account executes after they are relayed from the L2.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrAmountTooSmall    = errors.New("amount too small to bridge after safety margin")
	ErrVaultNotSet       = errors.New("wrapper vault address not configured")
	ErrMalformedCalldata = errors.New("malformed bundle calldata")
	ErrNoBorrowCall      = errors.New("bundle has no pool borrow call")
)

const (
	// SharesSafetyMargin is subtracted from every quoted share amount.
	SharesSafetyMargin = 100

	L2GasLimit               = 5_000_000
	L2GasPerPubdataByteLimit = 800

	interestRateModeVariable = 2
)

// BridgeMintValue is the L1 value sent with a bridgehub request to pay for
// the L2 leg (0.00135 ETH).
var BridgeMintValue = big.NewInt(1_350_000_000_000_000)

// Op is a single call executed by the shadow account.
type Op struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// Bundle is an ordered list of calls executed all-or-nothing on L1.
type Bundle struct {
	Ops []Op
	// MintValue is the L1 native value the bundle spends on bridging, zero
	// when nothing is bridged back.
	MintValue *big.Int
}

// TotalValue is the native value the shadow account needs to run the bundle.
func (b *Bundle) TotalValue() *big.Int {
	total := new(big.Int)
	for _, op := range b.Ops {
		if op.Value != nil {
			total.Add(total, op.Value)
		}
	}
	return total
}

// Calldata encodes L2InteropCenter.sendBundleToL1(ops).
func (b *Bundle) Calldata() ([]byte, error) {
	data, err := chain.InteropCenterABI.Pack("sendBundleToL1", toWire(b.Ops))
	if err != nil {
		return nil, fmt.Errorf("pack sendBundleToL1: %w", err)
	}
	return data, nil
}

// Reader is the L1 access a builder needs for quotes.
type Reader interface {
	chain.Caller
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type Builder struct {
	vault  common.Address
	logger *zap.SugaredLogger
}

type Option func(*Builder)

// WithWrapperVault enables DepositAndBridge with the given ERC-4626 vault.
func WithWrapperVault(vault common.Address) Option {
	return func(b *Builder) { b.vault = vault }
}

func NewBuilder(logger *zap.SugaredLogger, opts ...Option) *Builder {
	b := &Builder{logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Deposit builds the single-call bundle that supplies amount wei to Aave on
// behalf of the shadow account.
func (b *Builder) Deposit(shadow common.Address, amount *big.Int) (*Bundle, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	op, err := depositETHOp(shadow, amount)
	if err != nil {
		return nil, err
	}
	return &Bundle{Ops: []Op{op}, MintValue: new(big.Int)}, nil
}

// DepositAndBridge supplies amount wei, wraps the aTokens into the vault and
// bridges the resulting shares back to l2Account.
func (b *Builder) DepositAndBridge(ctx context.Context, reader Reader, shadow, l2Account common.Address, amount *big.Int) (*Bundle, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if b.vault == (common.Address{}) {
		return nil, ErrVaultNotSet
	}

	out, err := chain.Call(ctx, reader, b.vault, chain.ERC4626ABI, "convertToShares", amount)
	if err != nil {
		return nil, fmt.Errorf("quote shares: %w", err)
	}
	quoted, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quote shares: unexpected output %T", out[0])
	}
	shares := new(big.Int).Sub(quoted, big.NewInt(SharesSafetyMargin))
	if shares.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}

	deposit, err := depositETHOp(shadow, amount)
	if err != nil {
		return nil, err
	}
	approveAToken, err := callOp(chain.AToken, nil, chain.ERC20ABI, "approve", b.vault, amount)
	if err != nil {
		return nil, err
	}
	wrap, err := callOp(b.vault, nil, chain.ERC4626ABI, "deposit", amount, shadow)
	if err != nil {
		return nil, err
	}
	approveShares, err := callOp(b.vault, nil, chain.ERC4626ABI, "approve", chain.L1NativeTokenVault, shares)
	if err != nil {
		return nil, err
	}
	bridge, err := bridgeOp(b.vault, shares, l2Account)
	if err != nil {
		return nil, err
	}

	b.logger.Debugw("Built deposit and bridge bundle",
		"shadow", shadow.Hex(),
		"amount", amount.String(),
		"shares", shares.String(),
	)

	return &Bundle{
		Ops:       []Op{deposit, approveAToken, wrap, approveShares, bridge},
		MintValue: new(big.Int).Set(BridgeMintValue),
	}, nil
}

// Borrow builds borrow -> approve -> bridge for ghoAmount of GHO borrowed by
// the shadow account and delivered to l2Account.
func (b *Builder) Borrow(ctx context.Context, reader Reader, shadow, l2Account common.Address, ghoAmount *big.Int) (*Bundle, error) {
	if err := validAmount(ghoAmount); err != nil {
		return nil, err
	}

	borrow, err := callOp(chain.AavePool, nil, chain.PoolABI, "borrow",
		chain.GhoToken, ghoAmount, big.NewInt(interestRateModeVariable), uint16(0), shadow)
	if err != nil {
		return nil, err
	}
	approve, err := callOp(chain.GhoToken, nil, chain.ERC20ABI, "approve", chain.L1NativeTokenVault, ghoAmount)
	if err != nil {
		return nil, err
	}

	if reader != nil {
		gasPrice, err := reader.SuggestGasPrice(ctx)
		if err != nil {
			b.logger.Warnw("Failed to read L1 gas price", "error", err)
		} else {
			b.logger.Infow("L1 gas price", "wei", gasPrice.String())
		}
	}

	bridge, err := bridgeOp(chain.GhoToken, ghoAmount, l2Account)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Ops:       []Op{borrow, approve, bridge},
		MintValue: new(big.Int).Set(BridgeMintValue),
	}, nil
}

func depositETHOp(shadow common.Address, amount *big.Int) (Op, error) {
	return callOp(chain.AaveWethGateway, amount, chain.WrappedTokenGatewayABI, "depositETH",
		chain.AavePool, shadow, uint16(0))
}

// bridgeRequest mirrors the L2TransactionRequestTwoBridgesOuter tuple.
type bridgeRequest struct {
	ChainId                  *big.Int
	MintValue                *big.Int
	L2Value                  *big.Int
	L2GasLimit               *big.Int
	L2GasPerPubdataByteLimit *big.Int
	RefundRecipient          common.Address
	SecondBridgeAddress      common.Address
	SecondBridgeValue        *big.Int
	SecondBridgeCalldata     []byte
}

func bridgeOp(token common.Address, amount *big.Int, receiver common.Address) (Op, error) {
	assetID, err := EncodeNTVAssetID(chain.L1ChainIDBig(), token)
	if err != nil {
		return Op{}, err
	}
	burn, err := EncodeBridgeBurnData(amount, receiver, token)
	if err != nil {
		return Op{}, err
	}
	second, err := EncodeAssetRouterDepositData(assetID, burn)
	if err != nil {
		return Op{}, err
	}

	req := bridgeRequest{
		ChainId:                  chain.L2ChainIDBig(),
		MintValue:                new(big.Int).Set(BridgeMintValue),
		L2Value:                  new(big.Int),
		L2GasLimit:               big.NewInt(L2GasLimit),
		L2GasPerPubdataByteLimit: big.NewInt(L2GasPerPubdataByteLimit),
		RefundRecipient:          receiver,
		SecondBridgeAddress:      chain.L1AssetRouter,
		SecondBridgeValue:        new(big.Int),
		SecondBridgeCalldata:     second,
	}
	return callOp(chain.Bridgehub, BridgeMintValue, chain.BridgehubABI, "requestL2TransactionTwoBridges", req)
}
