package crosschain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"go.uber.org/zap"
)

// WithdrawalDriver is the part of bridge.Adapter the finalizer uses.
type WithdrawalDriver interface {
	QueryPhase(ctx context.Context, hash common.Hash) bridge.Phase
	WaitForPhase(ctx context.Context, hash common.Hash, target bridge.Phase) (bridge.Phase, error)
	AttemptFinalize(ctx context.Context, hash common.Hash) error
}

// BundleRelayer delivers a bundle's message to L1.
type BundleRelayer interface {
	Finalize(ctx context.Context, bundleHash common.Hash) (common.Hash, error)
}

// Finalizer walks a withdrawal to FINALIZED and then relays its bundle.
type Finalizer struct {
	withdrawals WithdrawalDriver
	bundles     BundleRelayer
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
}

// NewFinalizer creates a finalizer. bundles may be nil, in which case bundle
// hashes are ignored.
func NewFinalizer(withdrawals WithdrawalDriver, bundles BundleRelayer, logger *zap.SugaredLogger, m *metrics.Metrics) *Finalizer {
	return &Finalizer{
		withdrawals: withdrawals,
		bundles:     bundles,
		logger:      logger,
		metrics:     m,
	}
}

// Finalize blocks until the withdrawal is finalized on L1, the context ends or
// the driver gives up. It is safe to call again for the same request.
func (f *Finalizer) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	hash := req.WithdrawHash
	log := f.logger.With("withdraw_hash", hash.Hex())
	if req.HasBundle() {
		log = log.With("bundle_hash", req.BundleHash.Hex())
	}

	log.Infow("Finalize requested", "status", f.withdrawals.QueryPhase(ctx, hash))

	phase, err := f.withdrawals.WaitForPhase(ctx, hash, bridge.PhaseL2Included)
	if err != nil {
		return &FinalizeResult{Phase: phase}, f.fail(log, "l2", err)
	}
	log.Infow("Withdrawal included on L2", "phase", phase)

	phase, err = f.withdrawals.WaitForPhase(ctx, hash, bridge.PhaseReadyToFinalize)
	if err != nil {
		return &FinalizeResult{Phase: phase}, f.fail(log, "ready", err)
	}
	log.Infow("Withdrawal ready", "status", f.withdrawals.QueryPhase(ctx, hash))

	if err := f.withdrawals.AttemptFinalize(ctx, hash); err != nil {
		return &FinalizeResult{Phase: phase}, f.fail(log, "finalize", err)
	}

	phase, err = f.withdrawals.WaitForPhase(ctx, hash, bridge.PhaseFinalized)
	if err != nil {
		return &FinalizeResult{Phase: phase}, f.fail(log, "finalized", err)
	}
	log.Infow("Withdrawal finalized on L1")

	result := &FinalizeResult{Phase: phase}
	if !req.HasBundle() || f.bundles == nil {
		return result, nil
	}

	tx, err := f.bundles.Finalize(ctx, req.BundleHash)
	if errors.Is(err, bridge.ErrBundleRelayed) {
		f.metrics.RecordFinalize(ctx, "bundle", "noop")
		log.Infow("Bundle already relayed")
		return result, nil
	}
	if err != nil {
		f.metrics.RecordFinalize(ctx, "bundle", "error")
		return result, f.fail(log, "bundle", err)
	}
	f.metrics.RecordFinalize(ctx, "bundle", "submitted")
	log.Infow("Bundle relayed", "l1_tx", tx.Hex())

	result.BundleTx = tx
	return result, nil
}

func (f *Finalizer) fail(log *zap.SugaredLogger, step string, err error) error {
	log.Errorw("Finalize stopped", "step", step, "error", err)
	return fmt.Errorf("finalize %s: %w", step, err)
}
