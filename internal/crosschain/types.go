// Package crosschain drives the two-leg shadow account operations: an L2->L1
// withdrawal that funds the shadow account, a bundle the shadow account runs
// on L1, and the delayed finalization of both.
package crosschain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrScheduleFailed = errors.New("failed to schedule finalization")
	ErrRecordFailed   = errors.New("failed to record operation")
)

// FinalizeRequest names a withdrawal and, optionally, the bundle that follows
// it.
type FinalizeRequest struct {
	WithdrawHash common.Hash
	BundleHash   common.Hash
}

func (r FinalizeRequest) HasBundle() bool {
	return r.BundleHash != (common.Hash{})
}

// FinalizePayload is the JSON body of a finalize call. Older callers send a
// single "hash" naming the withdrawal.
type FinalizePayload struct {
	Hash         string `json:"hash,omitempty"`
	WithdrawHash string `json:"withdrawHash,omitempty"`
	BundleHash   string `json:"bundleHash,omitempty"`
}

func NewFinalizePayload(req FinalizeRequest) FinalizePayload {
	p := FinalizePayload{WithdrawHash: req.WithdrawHash.Hex()}
	if req.HasBundle() {
		p.BundleHash = req.BundleHash.Hex()
	}
	return p
}

func (p FinalizePayload) Body() ([]byte, error) {
	return json.Marshal(p)
}

// Request validates the payload. withdrawHash wins over hash when both are set.
func (p FinalizePayload) Request() (FinalizeRequest, error) {
	raw := strings.TrimSpace(p.WithdrawHash)
	if raw == "" {
		raw = strings.TrimSpace(p.Hash)
	}
	withdraw, err := parseHash(raw)
	if err != nil {
		return FinalizeRequest{}, fmt.Errorf("%w: withdraw hash: %w", ErrInvalidRequest, err)
	}

	req := FinalizeRequest{WithdrawHash: withdraw}
	if b := strings.TrimSpace(p.BundleHash); b != "" {
		if req.BundleHash, err = parseHash(b); err != nil {
			return FinalizeRequest{}, fmt.Errorf("%w: bundle hash: %w", ErrInvalidRequest, err)
		}
	}
	return req, nil
}

func parseHash(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, errors.New("missing")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	h := common.BytesToHash(b)
	if h == (common.Hash{}) {
		return common.Hash{}, errors.New("zero hash")
	}
	return h, nil
}

// FinalizeResult reports how far a finalize run got.
type FinalizeResult struct {
	Phase    bridge.Phase `json:"phase"`
	BundleTx common.Hash  `json:"bundleTx,omitempty"`
}

// Submission is a fully submitted two-leg operation.
type Submission struct {
	Kind         ledger.Kind    `json:"kind"`
	Owner        common.Address `json:"owner"`
	Shadow       common.Address `json:"shadow"`
	Amount       *big.Int       `json:"amount"`
	WithdrawHash common.Hash    `json:"withdrawHash"`
	BundleHash   common.Hash    `json:"bundleHash"`
	Bundle       *bundle.Bundle `json:"-"`
}

// PartialSubmissionError means the withdrawal leg was sent but the bundle leg
// was not. The withdrawal still lands in the shadow account; nothing is
// recorded for it.
type PartialSubmissionError struct {
	Kind         ledger.Kind
	WithdrawHash common.Hash
	Err          error
}

func (e *PartialSubmissionError) Error() string {
	return fmt.Sprintf("%s withdrawal %s submitted but bundle failed: %v", e.Kind, e.WithdrawHash.Hex(), e.Err)
}

func (e *PartialSubmissionError) Unwrap() error {
	return e.Err
}
