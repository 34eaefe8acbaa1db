package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
)

var ErrMissingL2ToL1Logs = errors.New("receipt has no l2ToL1Logs")

// L2Reader is the rollup-side view needed to build finalize params.
type L2Reader interface {
	ReceiptWithL2ToL1(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
	L2ToL1LogProof(ctx context.Context, hash common.Hash, index int) (*chain.LogProof, error)
}

// messengerLogIndex is the position of the first log sent through the L1
// messenger, which is the index zks_getL2ToL1LogProof expects.
func messengerLogIndex(rcpt *chain.Receipt) int {
	for i, l := range rcpt.L2ToL1Logs {
		if l.Sender == chain.L1Messenger {
			return i
		}
	}
	return 0
}

// messageFromLogData extracts the message of an L1MessageSent event. The data
// is abi.encode(bytes): an offset word, a length word, then the payload.
func messageFromLogData(data []byte) ([]byte, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("log data too short: %d bytes", len(data))
	}
	payload := data[64:]
	length := new(big.Int).SetBytes(data[32:64])
	if length.IsUint64() && length.Uint64() <= uint64(len(payload)) {
		return payload[:length.Uint64()], nil
	}
	return payload, nil
}

// buildFinalizeParams assembles the proof and message of an L2 transaction's
// first L2->L1 message. sender is the L2 contract that sent the message.
func buildFinalizeParams(ctx context.Context, l2 L2Reader, hash common.Hash, sender func(*chain.Receipt) (common.Address, error)) (*chain.FinalizeParams, error) {
	rcpt, err := l2.ReceiptWithL2ToL1(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rcpt == nil {
		return nil, fmt.Errorf("%w: no receipt for %s", ErrNotReady, hash.Hex())
	}
	if len(rcpt.L2ToL1Logs) == 0 {
		return nil, ErrMissingL2ToL1Logs
	}
	idx := messengerLogIndex(rcpt)

	proof, err := l2.L2ToL1LogProof(ctx, hash, idx)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, fmt.Errorf("%w: proof for %s not available", ErrNotReady, hash.Hex())
	}

	from, err := sender(rcpt)
	if err != nil {
		return nil, err
	}

	var msgLog *chain.Log
	for i := range rcpt.Logs {
		if rcpt.Logs[i].Address == chain.L1Messenger {
			msgLog = &rcpt.Logs[i]
			break
		}
	}
	if msgLog == nil {
		if len(rcpt.Logs) == 0 {
			return nil, fmt.Errorf("receipt %s has no logs", hash.Hex())
		}
		msgLog = &rcpt.Logs[0]
	}
	message, err := messageFromLogData(msgLog.Data)
	if err != nil {
		return nil, err
	}

	txNum := rcpt.L2ToL1Logs[idx].TxNumberInBatch
	if txNum > math.MaxUint16 {
		return nil, fmt.Errorf("tx number in batch %d overflows uint16", txNum)
	}

	merkle := make([][32]byte, len(proof.Proof))
	for i, h := range proof.Proof {
		merkle[i] = h
	}

	return &chain.FinalizeParams{
		ChainId:           chain.L2ChainIDBig(),
		L2BatchNumber:     proof.BatchNumber,
		L2MessageIndex:    proof.ID,
		L2Sender:          from,
		L2TxNumberInBatch: uint16(txNum),
		Message:           message,
		MerkleProof:       merkle,
	}, nil
}
