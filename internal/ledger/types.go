// Package ledger tracks in-flight deposit and borrow operations per owner and
// reconciles them against withdrawal phases on chain.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrIncompleteOperation = errors.New("operation needs both a withdraw hash and a bundle hash")
	ErrUnknownKind         = errors.New("unknown operation kind")
	ErrZeroOwner           = errors.New("operation owner is the zero address")
)

type Kind string

const (
	KindDeposit Kind = "deposit"
	KindBorrow  Kind = "borrow"
)

// Kinds lists every kind the ledger tracks.
var Kinds = []Kind{KindDeposit, KindBorrow}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDeposit, KindBorrow:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	return k == KindDeposit || k == KindBorrow
}

// Operation is one user action whose two legs were both accepted.
type Operation struct {
	Kind         Kind
	Owner        common.Address
	WithdrawHash common.Hash
	BundleHash   common.Hash
	RecordedAt   time.Time
}

func (op Operation) Key() Key {
	return Key{Owner: op.Owner, Kind: op.Kind}
}

func (op Operation) Entry() Entry {
	return Entry{WithdrawHash: op.WithdrawHash, BundleHash: op.BundleHash, RecordedAt: op.RecordedAt}
}

func (op Operation) validate() error {
	if !op.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, op.Kind)
	}
	if op.Owner == (common.Address{}) {
		return ErrZeroOwner
	}
	if op.WithdrawHash == (common.Hash{}) || op.BundleHash == (common.Hash{}) {
		return ErrIncompleteOperation
	}
	return nil
}

// Entry is the persisted form of an Operation within its owner's list.
type Entry struct {
	WithdrawHash common.Hash `json:"withdrawHash"`
	BundleHash   common.Hash `json:"bundleHash"`
	RecordedAt   time.Time   `json:"recordedAt"`
}

// Key addresses one persisted list.
type Key struct {
	Owner common.Address
	Kind  Kind
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Owner.Hex()
}

// Summary aggregates the entries of one list that are still finalizing.
// TotalValueFinalizing is in wei for deposits and GHO base units for borrows.
type Summary struct {
	TotalValueFinalizing *big.Int `json:"totalValueFinalizing"`
	CountFinalizing      int      `json:"countFinalizing"`
}

func ZeroSummary() Summary {
	return Summary{TotalValueFinalizing: new(big.Int)}
}
