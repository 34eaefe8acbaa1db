// Package bridge talks to the L2->L1 withdrawal machinery: it creates
// withdrawals, reports their phase, waits on them and finalizes them on L1.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrChainMismatch    = errors.New("wallet is on the wrong chain")
	ErrNoHash           = errors.New("withdrawal produced no transaction hash")
	ErrSubmissionFailed = errors.New("something went wrong")
	ErrFinalizeFailed   = errors.New("finalize transaction reverted")
	ErrNotReady         = errors.New("withdrawal not ready to finalize")
	ErrNoSigner         = errors.New("no signer configured")
)

// TxRequest is an unsigned transaction. A zero ChainID means the wallet's
// active chain.
type TxRequest struct {
	ChainID uint64
	To      common.Address
	Data    []byte
	Value   *big.Int
	Gas     uint64
}

// Wallet submits transactions on behalf of one account.
type Wallet interface {
	Address() common.Address
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// WithdrawalParams describes a base-token withdrawal to an L1 beneficiary.
type WithdrawalParams struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Withdrawals is the withdrawal primitive the adapter drives.
type Withdrawals interface {
	Prepare(ctx context.Context, params WithdrawalParams) (*TxRequest, error)
	Status(ctx context.Context, hash common.Hash) (Phase, error)
	TryFinalize(ctx context.Context, hash common.Hash) (common.Hash, error)
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 30 * time.Minute
)

type Adapter struct {
	sdk          Withdrawals
	wallet       Wallet
	logger       *zap.SugaredLogger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	maxWait      time.Duration
}

type AdapterOption func(*Adapter)

func WithPolling(interval, maxWait time.Duration) AdapterOption {
	return func(a *Adapter) {
		if interval > 0 {
			a.pollInterval = interval
		}
		if maxWait > 0 {
			a.maxWait = maxWait
		}
	}
}

func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter builds an adapter. wallet may be nil for read-only use.
func NewAdapter(sdk Withdrawals, wallet Wallet, logger *zap.SugaredLogger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		sdk:          sdk,
		wallet:       wallet,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PrepareWithdrawal returns the L2 transaction that moves amount wei to
// beneficiary on L1. Gas is estimated as sent from from; a zero from means the
// server wallet, and with neither the estimate is left out.
func (a *Adapter) PrepareWithdrawal(ctx context.Context, from common.Address, amount *big.Int, beneficiary common.Address) (*TxRequest, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, bundle.ErrInvalidAmount
	}
	if from == (common.Address{}) && a.wallet != nil {
		from = a.wallet.Address()
	}
	return a.sdk.Prepare(ctx, WithdrawalParams{From: from, To: beneficiary, Amount: amount})
}

// EnsureChain switches the wallet to chainID when it is elsewhere.
func (a *Adapter) EnsureChain(ctx context.Context, chainID uint64) error {
	if a.wallet == nil {
		return ErrNoSigner
	}
	current, err := a.wallet.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: cannot read chain id: %v", ErrChainMismatch, err)
	}
	if current == chainID {
		return nil
	}

	a.logger.Infow("Switching wallet chain", "from", current, "to", chainID)
	if err := a.wallet.SwitchChain(ctx, chainID); err != nil {
		return fmt.Errorf("%w: switch to %d rejected: %v", ErrChainMismatch, chainID, err)
	}
	return nil
}

// CreateWithdrawal submits the withdrawal and returns its L2 hash. Every
// failure is logged and returned wrapped in ErrSubmissionFailed.
func (a *Adapter) CreateWithdrawal(ctx context.Context, amount *big.Int, beneficiary common.Address) (common.Hash, error) {
	hash, err := a.createWithdrawal(ctx, amount, beneficiary)
	if err != nil {
		a.logger.Errorw("Failed to create withdrawal",
			"amount", amount.String(),
			"beneficiary", beneficiary.Hex(),
			"error", err,
		)
		return common.Hash{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	a.logger.Infow("Withdrawal created", "hash", hash.Hex(), "amount", amount.String(), "beneficiary", beneficiary.Hex())
	return hash, nil
}

func (a *Adapter) createWithdrawal(ctx context.Context, amount *big.Int, beneficiary common.Address) (common.Hash, error) {
	if err := a.EnsureChain(ctx, chain.L2ChainID); err != nil {
		return common.Hash{}, err
	}
	req, err := a.PrepareWithdrawal(ctx, a.wallet.Address(), amount, beneficiary)
	if err != nil {
		return common.Hash{}, fmt.Errorf("prepare withdrawal: %w", err)
	}
	hash, err := a.wallet.SendTransaction(ctx, *req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send withdrawal: %w", err)
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, ErrNoHash
	}
	return hash, nil
}

// SubmitBundle sends the bundle to the L2 interop center from the wallet.
func (a *Adapter) SubmitBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error) {
	hash, err := a.submitBundle(ctx, b)
	if err != nil {
		a.logger.Errorw("Failed to submit bundle", "ops", len(b.Ops), "error", err)
		return common.Hash{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	a.logger.Infow("Bundle submitted", "hash", hash.Hex(), "ops", len(b.Ops))
	return hash, nil
}

func (a *Adapter) submitBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error) {
	if err := a.EnsureChain(ctx, chain.L2ChainID); err != nil {
		return common.Hash{}, err
	}
	data, err := b.Calldata()
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := a.wallet.SendTransaction(ctx, TxRequest{
		ChainID: chain.L2ChainID,
		To:      chain.L2InteropCenter,
		Data:    data,
		Value:   new(big.Int),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send bundle: %w", err)
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, ErrNoHash
	}
	return hash, nil
}

// QueryPhase never fails: lookup errors are logged and reported as UNKNOWN.
func (a *Adapter) QueryPhase(ctx context.Context, hash common.Hash) Phase {
	phase, err := a.sdk.Status(ctx, hash)
	if err != nil {
		a.logger.Warnw("Withdrawal status lookup failed", "hash", hash.Hex(), "error", err)
		return PhaseUnknown
	}
	return phase
}

// WaitForPhase polls until the withdrawal is at least target, the context
// ends or the adapter's max wait elapses.
func (a *Adapter) WaitForPhase(ctx context.Context, hash common.Hash, target Phase) (Phase, error) {
	var phase Phase
	backoff := retry.WithMaxDuration(a.maxWait, retry.NewConstant(a.pollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		phase = a.QueryPhase(ctx, hash)
		if phase.AtLeast(target) {
			return nil
		}
		if target == PhaseFinalized && phase == PhaseFinalizeFailed {
			return ErrFinalizeFailed
		}
		return retry.RetryableError(fmt.Errorf("withdrawal %s is %s, waiting for %s", hash.Hex(), phase, target))
	})
	if err != nil {
		return phase, fmt.Errorf("wait for %s: %w", target, err)
	}
	return phase, nil
}

// AttemptFinalize finalizes the withdrawal on L1 when it is ready. Finalized,
// finalizing and unknown withdrawals are left alone.
func (a *Adapter) AttemptFinalize(ctx context.Context, hash common.Hash) error {
	phase := a.QueryPhase(ctx, hash)

	switch phase {
	case PhaseFinalized, PhaseFinalizing:
		a.logger.Infow("Withdrawal already finalized or finalizing", "hash", hash.Hex(), "phase", phase)
		a.metrics.RecordFinalize(ctx, "withdrawal", "noop")
		return nil
	case PhaseUnknown:
		a.logger.Warnw("Skipping finalize of unknown withdrawal", "hash", hash.Hex())
		a.metrics.RecordFinalize(ctx, "withdrawal", "noop")
		return nil
	case PhaseReadyToFinalize, PhaseFinalizeFailed:
	default:
		return fmt.Errorf("%w: phase %s", ErrNotReady, phase)
	}

	l1Hash, err := a.sdk.TryFinalize(ctx, hash)
	if err != nil {
		a.logger.Errorw("Finalize attempt failed", "hash", hash.Hex(), "phase", phase, "error", err)
		a.metrics.RecordFinalize(ctx, "withdrawal", "error")
		return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	a.logger.Infow("Finalize submitted", "hash", hash.Hex(), "l1_tx", l1Hash.Hex())
	a.metrics.RecordFinalize(ctx, "withdrawal", "submitted")
	return nil
}
