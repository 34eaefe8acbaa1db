package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
)

var ErrTxNotFound = errors.New("transaction not found")

// ValueExtractor recovers the value an in-flight entry carries. Deposits and
// borrows keep their value in different transactions, so each kind has its
// own extractor.
type ValueExtractor interface {
	Value(ctx context.Context, entry Entry) (*big.Int, error)
}

// TxSource is satisfied by ethclient.Client on L2.
type TxSource interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// DepositValue reads the native value carried by the L2 withdrawal.
type DepositValue struct {
	Txs TxSource
}

func (d DepositValue) Value(ctx context.Context, entry Entry) (*big.Int, error) {
	tx, _, err := d.Txs.TransactionByHash(ctx, entry.WithdrawHash)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", entry.WithdrawHash.Hex(), err)
	}
	if tx == nil {
		return nil, ErrTxNotFound
	}
	return tx.Value(), nil
}

// BorrowValue decodes the borrowed amount out of the bundle transaction. The
// withdrawal of a borrow only carries the bridging fee.
type BorrowValue struct {
	Txs  TxSource
	Pool common.Address
}

func (b BorrowValue) Value(ctx context.Context, entry Entry) (*big.Int, error) {
	tx, _, err := b.Txs.TransactionByHash(ctx, entry.BundleHash)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", entry.BundleHash.Hex(), err)
	}
	if tx == nil {
		return nil, ErrTxNotFound
	}
	ops, err := bundle.DecodeBundle(tx.Data())
	if err != nil {
		return nil, err
	}
	return bundle.BorrowAmount(ops, b.Pool)
}
