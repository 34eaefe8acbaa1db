package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"go.uber.org/zap"
)

var (
	ErrMissingSender = errors.New("bundle receipt has no recipient")
	// ErrBundleRelayed means L1 already executed the bundle message.
	ErrBundleRelayed = errors.New("bundle already relayed")
)

// Revert reasons the interop handler and nullifier give for a message that
// was already delivered. Gas estimation surfaces them before anything is sent.
var alreadyProcessedReasons = []string{
	"already processed",
	"already executed",
	"already finalized",
	"messagealreadyprocessed",
	"withdrawalalreadyfinalized",
}

func isAlreadyProcessed(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, r := range alreadyProcessedReasons {
		if strings.Contains(msg, r) {
			return true
		}
	}
	return false
}

// BundleFinalizer relays a bundle's L2->L1 message to the L1 interop handler.
type BundleFinalizer struct {
	l2     L2Reader
	signer Sender
	logger *zap.SugaredLogger
}

func NewBundleFinalizer(l2 L2Reader, signer Sender, logger *zap.SugaredLogger) *BundleFinalizer {
	return &BundleFinalizer{l2: l2, signer: signer, logger: logger}
}

// Params builds receiveInteropFromL2 arguments for bundleHash. The L2 sender
// is the contract the bundle transaction called.
func (f *BundleFinalizer) Params(ctx context.Context, bundleHash common.Hash) (*chain.FinalizeParams, error) {
	return buildFinalizeParams(ctx, f.l2, bundleHash, func(rcpt *chain.Receipt) (common.Address, error) {
		if rcpt.To == nil {
			return common.Address{}, ErrMissingSender
		}
		return *rcpt.To, nil
	})
}

// Finalize submits L1InteropHandler.receiveInteropFromL2 for bundleHash.
func (f *BundleFinalizer) Finalize(ctx context.Context, bundleHash common.Hash) (common.Hash, error) {
	if f.signer == nil {
		return common.Hash{}, ErrNoSigner
	}
	params, err := f.Params(ctx, bundleHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bundle params: %w", err)
	}
	data, err := chain.InteropHandlerABI.Pack("receiveInteropFromL2", *params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack receiveInteropFromL2: %w", err)
	}

	hash, err := f.signer.SendTransaction(ctx, TxRequest{
		ChainID: chain.L1ChainID,
		To:      chain.L1InteropHandler,
		Data:    data,
	})
	if err != nil {
		if isAlreadyProcessed(err) {
			f.logger.Infow("Bundle already relayed", "bundle", bundleHash.Hex(), "reason", err.Error())
			return common.Hash{}, fmt.Errorf("%w: %v", ErrBundleRelayed, err)
		}
		return common.Hash{}, fmt.Errorf("send receiveInteropFromL2: %w", err)
	}

	f.logger.Infow("Bundle relayed to L1",
		"bundle", bundleHash.Hex(),
		"l1_tx", hash.Hex(),
		"batch", params.L2BatchNumber.String(),
		"message_index", params.L2MessageIndex.String(),
	)
	return hash, nil
}
