package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"go.uber.org/zap"
)

// L1Reader is the L1 view used for finalization status.
type L1Reader interface {
	chain.Caller
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// RollupReader adds gas estimation to L2Reader.
type RollupReader interface {
	L2Reader
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Sender submits transactions on a given chain.
type Sender interface {
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// RPCWithdrawals implements Withdrawals for base-token withdrawals directly
// over the L1 and L2 JSON-RPC endpoints.
type RPCWithdrawals struct {
	l1     L1Reader
	l2     RollupReader
	signer Sender
	logger *zap.SugaredLogger

	mu        sync.Mutex
	nullifier common.Address
	attempts  map[common.Hash]common.Hash // withdrawal hash -> our L1 finalize tx
}

// NewRPCWithdrawals wires the readers. signer may be nil, in which case
// TryFinalize returns ErrNoSigner.
func NewRPCWithdrawals(l1 L1Reader, l2 RollupReader, signer Sender, logger *zap.SugaredLogger) *RPCWithdrawals {
	return &RPCWithdrawals{
		l1:       l1,
		l2:       l2,
		signer:   signer,
		logger:   logger,
		attempts: make(map[common.Hash]common.Hash),
	}
}

func (w *RPCWithdrawals) Prepare(ctx context.Context, params WithdrawalParams) (*TxRequest, error) {
	data, err := chain.BaseTokenABI.Pack("withdraw", params.To)
	if err != nil {
		return nil, fmt.Errorf("pack withdraw: %w", err)
	}
	req := &TxRequest{
		ChainID: chain.L2ChainID,
		To:      chain.L2BaseToken,
		Data:    data,
		Value:   params.Amount,
	}

	if params.From != (common.Address{}) {
		gas, err := w.l2.EstimateGas(ctx, ethereum.CallMsg{
			From:  params.From,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			w.logger.Debugw("Withdrawal gas estimate failed", "error", err)
		} else {
			req.Gas = gas
		}
	}
	return req, nil
}

func (w *RPCWithdrawals) Status(ctx context.Context, hash common.Hash) (Phase, error) {
	rcpt, err := w.l2.ReceiptWithL2ToL1(ctx, hash)
	if err != nil {
		return PhaseUnknown, err
	}
	if rcpt == nil {
		return PhaseL2Pending, nil
	}
	if !rcpt.Succeeded() {
		return PhaseUnknown, nil
	}
	if rcpt.L1BatchNumber == nil {
		return PhaseL2Included, nil
	}

	proof, err := w.l2.L2ToL1LogProof(ctx, hash, messengerLogIndex(rcpt))
	if err != nil {
		return PhaseUnknown, err
	}
	if proof == nil {
		return PhasePending, nil
	}

	finalized, err := w.isFinalized(ctx, proof)
	if err != nil {
		return PhaseUnknown, err
	}
	if finalized {
		return PhaseFinalized, nil
	}

	w.mu.Lock()
	attempt, ok := w.attempts[hash]
	w.mu.Unlock()
	if ok {
		l1Rcpt, err := w.l1.TransactionReceipt(ctx, attempt)
		switch {
		case errors.Is(err, ethereum.NotFound):
			return PhaseFinalizing, nil
		case err != nil:
			return PhaseUnknown, err
		case l1Rcpt.Status == types.ReceiptStatusFailed:
			return PhaseFinalizeFailed, nil
		default:
			return PhaseFinalized, nil
		}
	}
	return PhaseReadyToFinalize, nil
}

func (w *RPCWithdrawals) TryFinalize(ctx context.Context, hash common.Hash) (common.Hash, error) {
	if w.signer == nil {
		return common.Hash{}, ErrNoSigner
	}
	params, err := buildFinalizeParams(ctx, w.l2, hash, func(*chain.Receipt) (common.Address, error) {
		return chain.L2BaseToken, nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	nullifier, err := w.nullifierAddress(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := chain.NullifierABI.Pack("finalizeDeposit", *params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack finalizeDeposit: %w", err)
	}

	l1Hash, err := w.signer.SendTransaction(ctx, TxRequest{
		ChainID: chain.L1ChainID,
		To:      nullifier,
		Data:    data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send finalizeDeposit: %w", err)
	}

	w.mu.Lock()
	w.attempts[hash] = l1Hash
	w.mu.Unlock()
	return l1Hash, nil
}

func (w *RPCWithdrawals) isFinalized(ctx context.Context, proof *chain.LogProof) (bool, error) {
	nullifier, err := w.nullifierAddress(ctx)
	if err != nil {
		return false, err
	}
	out, err := chain.Call(ctx, w.l1, nullifier, chain.NullifierABI, "isWithdrawalFinalized",
		chain.L2ChainIDBig(), proof.BatchNumber, proof.ID)
	if err != nil {
		return false, err
	}
	finalized, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isWithdrawalFinalized: unexpected output %T", out[0])
	}
	return finalized, nil
}

// nullifierAddress reads L1AssetRouter.L1_NULLIFIER once and remembers it.
func (w *RPCWithdrawals) nullifierAddress(ctx context.Context) (common.Address, error) {
	w.mu.Lock()
	cached := w.nullifier
	w.mu.Unlock()
	if cached != (common.Address{}) {
		return cached, nil
	}

	out, err := chain.Call(ctx, w.l1, chain.L1AssetRouter, chain.AssetRouterABI, "L1_NULLIFIER")
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve nullifier: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("resolve nullifier: unexpected output %T", out[0])
	}

	w.mu.Lock()
	w.nullifier = addr
	w.mu.Unlock()
	return addr, nil
}
