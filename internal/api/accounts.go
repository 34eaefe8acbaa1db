package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/shadow"
	"github.com/shopspring/decimal"
)

func (h *Handler) writeResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, shadow.ErrNotDeployed) {
		h.writeError(w, http.StatusNotFound, "SHADOW_NOT_DEPLOYED", err.Error())
		return
	}
	h.writeError(w, http.StatusBadGateway, "SHADOW_RESOLVE_ERROR", err.Error())
}

var (
	errInvalidAddress = errors.New("invalid address")
	errInvalidAmount  = errors.New("amount must be a positive decimal")
	errInvalidHash    = errors.New("invalid transaction hash")
)

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", errInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", errInvalidAddress)
	}
	return addr, nil
}

// parseUnits reads a decimal amount in whole tokens into 18-decimal units.
func parseUnits(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return nil, errInvalidAmount
	}
	units := calc.EtherToWei(d)
	if units.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	return units, nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errInvalidHash
	}
	h := common.BytesToHash(b)
	if h == (common.Hash{}) {
		return common.Hash{}, errInvalidHash
	}
	return h, nil
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return common.Address{}, false
	}
	return addr, true
}

// kindsParam returns the kinds named by ?kind=, or all of them.
func (h *Handler) kindsParam(w http.ResponseWriter, r *http.Request) ([]ledger.Kind, bool) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		return ledger.Kinds, true
	}
	kind, err := ledger.ParseKind(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_KIND", err.Error())
		return nil, false
	}
	return []ledger.Kind{kind}, true
}

func (h *Handler) GetShadowAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	shadow, err := h.Shadows.Resolve(r.Context(), addr)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ShadowAccountDTO{Address: addr.Hex(), Shadow: shadow.Hex()})
}

func (h *Handler) decodeBundleRequest(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, *BundleRequest, bool) {
	var req BundleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return common.Address{}, nil, nil, false
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return common.Address{}, nil, nil, false
	}
	amount, err := parseUnits(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return common.Address{}, nil, nil, false
	}
	return addr, amount, &req, true
}

// BuildDepositBundle returns the unsigned withdrawal and bundle that supply
// amount ETH from the caller's L2 account into Aave via its shadow account.
func (h *Handler) BuildDepositBundle(w http.ResponseWriter, r *http.Request) {
	addr, amount, req, ok := h.decodeBundleRequest(w, r)
	if !ok {
		return
	}
	shadow, err := h.Shadows.Resolve(r.Context(), addr)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	var b *bundle.Bundle
	if req.Bridge {
		b, err = h.Builder.DepositAndBridge(r.Context(), h.Reader, shadow, addr, amount)
	} else {
		b, err = h.Builder.Deposit(shadow, amount)
	}
	if err != nil {
		h.writeBundleError(w, err)
		return
	}

	h.respondBundle(w, r, ledger.KindDeposit, addr, shadow, b, b.TotalValue())
}

// BuildBorrowBundle returns the unsigned withdrawal and bundle that borrow
// amount GHO against the shadow account and bridge it back to the caller.
func (h *Handler) BuildBorrowBundle(w http.ResponseWriter, r *http.Request) {
	addr, amount, _, ok := h.decodeBundleRequest(w, r)
	if !ok {
		return
	}
	shadow, err := h.Shadows.Resolve(r.Context(), addr)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	if h.Positions != nil {
		pos, err := h.Positions.Position(r.Context(), shadow)
		if err != nil {
			h.logger.Warnw("Skipping borrow validation", "shadow", shadow.Hex(), "error", err)
		} else if err := calc.ValidateBorrow(amount, *pos); err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
			return
		}
	}

	b, err := h.Builder.Borrow(r.Context(), h.Reader, shadow, addr, amount)
	if err != nil {
		h.writeBundleError(w, err)
		return
	}
	h.respondBundle(w, r, ledger.KindBorrow, addr, shadow, b, b.MintValue)
}

func (h *Handler) writeBundleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bundle.ErrInvalidAmount), errors.Is(err, bundle.ErrAmountTooSmall):
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, bundle.ErrVaultNotSet):
		h.writeError(w, http.StatusBadRequest, "BRIDGE_UNAVAILABLE", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "BUNDLE_BUILD_ERROR", err.Error())
	}
}

func (h *Handler) respondBundle(w http.ResponseWriter, r *http.Request, kind ledger.Kind, owner, shadow common.Address, b *bundle.Bundle, withdraw *big.Int) {
	data, err := b.Calldata()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "BUNDLE_BUILD_ERROR", err.Error())
		return
	}

	dto := BundleTxDTO{
		Kind:   string(kind),
		Shadow: shadow.Hex(),
		Bundle: TxDTO{
			ChainID: chain.L2ChainID,
			To:      chain.L2InteropCenter.Hex(),
			Data:    hexutil.Encode(data),
			Value:   "0",
		},
		Ops:       make([]OpDTO, len(b.Ops)),
		MintValue: bigString(b.MintValue),
	}
	for i, op := range b.Ops {
		dto.Ops[i] = OpDTO{Target: op.Target.Hex(), Value: bigString(op.Value), Data: hexutil.Encode(op.Data)}
	}

	if h.Preparer != nil && withdraw != nil && withdraw.Sign() > 0 {
		// the user's wallet sends this, so gas is estimated from their account
		tx, err := h.Preparer.PrepareWithdrawal(r.Context(), owner, withdraw, shadow)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "WITHDRAWAL_PREPARE_ERROR", err.Error())
			return
		}
		dto.Withdrawal = toTxDTO(tx)
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func toTxDTO(tx *bridge.TxRequest) *TxDTO {
	chainID := tx.ChainID
	if chainID == 0 {
		chainID = chain.L2ChainID
	}
	return &TxDTO{
		ChainID: chainID,
		To:      tx.To.Hex(),
		Data:    hexutil.Encode(tx.Data),
		Value:   bigString(tx.Value),
		Gas:     tx.Gas,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// RecordOperation stores both hashes of an operation the client submitted
// itself.
func (h *Handler) RecordOperation(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	var req OperationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	kind, err := ledger.ParseKind(req.Kind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_KIND", err.Error())
		return
	}
	withdrawHash, err := parseHash(req.WithdrawHash)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_HASH", "withdrawHash: "+err.Error())
		return
	}
	bundleHash, err := parseHash(req.BundleHash)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_HASH", "bundleHash: "+err.Error())
		return
	}

	op := ledger.Operation{Kind: kind, Owner: owner, WithdrawHash: withdrawHash, BundleHash: bundleHash}
	if err := h.Ledger.Record(r.Context(), op); err != nil {
		h.writeError(w, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, op.Entry())
}

func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	kinds, ok := h.kindsParam(w, r)
	if !ok {
		return
	}

	out := make([]PendingDTO, 0, len(kinds))
	for _, kind := range kinds {
		entries, err := h.Ledger.Pending(r.Context(), owner, kind)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
			return
		}
		if entries == nil {
			entries = []ledger.Entry{}
		}
		out = append(out, PendingDTO{Address: owner.Hex(), Kind: kind, Entries: entries})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetSummary reconciles the owner's lists against the bridge and reports
// what is still finalizing.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	kinds, ok := h.kindsParam(w, r)
	if !ok {
		return
	}

	out := make([]SummaryDTO, 0, len(kinds))
	for _, kind := range kinds {
		sum, err := h.Ledger.Reconcile(r.Context(), owner, kind)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "LEDGER_ERROR", err.Error())
			return
		}
		out = append(out, SummaryDTO{
			Address:              owner.Hex(),
			Kind:                 kind,
			TotalValueFinalizing: bigString(sum.TotalValueFinalizing),
			CountFinalizing:      sum.CountFinalizing,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetPosition combines the on-chain Aave position with in-flight ledger
// value. ?borrow= projects the health factor after borrowing that much GHO.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.addressParam(w, r)
	if !ok {
		return
	}
	var extraBorrow *big.Int
	if raw := r.URL.Query().Get("borrow"); raw != "" {
		v, err := parseUnits(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
			return
		}
		extraBorrow = v
	}

	ctx := r.Context()
	shadow, err := h.Shadows.Resolve(ctx, owner)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}
	pos, err := h.Positions.Position(ctx, shadow)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "POSITION_ERROR", err.Error())
		return
	}

	supplied, err := h.Positions.SuppliedBalance(ctx, shadow)
	if err != nil {
		h.logger.Warnw("Failed to read supplied balance", "shadow", shadow.Hex(), "error", err)
		supplied = new(big.Int)
	}
	deposits := h.summary(ctx, owner, ledger.KindDeposit)
	borrows := h.summary(ctx, owner, ledger.KindBorrow)
	effective := calc.EffectiveBalance(supplied, deposits)

	ethPrice := h.ethPrice(ctx)
	ghoPrice := calc.FormatBaseUSD(pos.GhoPriceInBase)
	supplyUSD := calc.WeiToEther(effective).Mul(ethPrice)
	borrowedUSD := decimal.NewFromBigInt(pos.TotalDebtBase, -8).
		Add(calc.WeiToEther(borrows.TotalValueFinalizing).Mul(ghoPrice))

	dto := PositionDTO{
		Address:                owner.Hex(),
		Shadow:                 shadow.Hex(),
		Aave:                   *pos,
		HealthFactor:           finite(calc.CurrentHealthFactor(*pos)),
		SuppliedWei:            supplied.String(),
		PendingDepositWei:      bigString(deposits.TotalValueFinalizing),
		EffectiveCollateralWei: effective.String(),
		PendingBorrowGho:       bigString(borrows.TotalValueFinalizing),
		BorrowCapUsage:         calc.BorrowCapUsage(pos.TotalDebtBase, pos.AvailableBorrowsBase),
		NetWorthUSD:            calc.NetWorthUSD(pos.TotalCollateralBase, pos.TotalDebtBase).StringFixed(2),
		EthPriceUSD:            ethPrice.StringFixed(2),
		BorrowGasEstimateUSD:   calc.BorrowGasEstimateUSD(ethPrice).StringFixed(2),
	}
	dto.Risk = calc.RiskBand(dto.HealthFactor)
	if extraBorrow != nil {
		dto.ProjectedHealthFactor = finite(calc.ProjectedHealthFactor(*pos, extraBorrow))
	}
	if apy, err := calc.NetAPY(supplyUSD, borrowedUSD); err == nil {
		s := apy.StringFixed(6)
		dto.NetAPY = &s
	}

	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) summary(ctx context.Context, owner common.Address, kind ledger.Kind) ledger.Summary {
	sum, err := h.Ledger.Reconcile(ctx, owner, kind)
	if err != nil {
		h.logger.Warnw("Failed to reconcile ledger", "owner", owner.Hex(), "kind", kind, "error", err)
		return ledger.ZeroSummary()
	}
	return sum
}

func (h *Handler) ethPrice(ctx context.Context) decimal.Decimal {
	if h.Prices == nil {
		return decimal.Zero
	}
	quote, err := h.Prices.ETHPrice(ctx)
	if err != nil {
		h.logger.Warnw("ETH price unavailable", "error", err)
		return decimal.Zero
	}
	return quote.Price
}

// finite maps an infinite health factor (no debt) to nil.
// finite maps a health factor to its JSON form; null stands for infinity.
func finite(hf float64) *float64 {
	if math.IsInf(hf, 1) || hf >= calc.DisplayInfiniteHF {
		return nil
	}
	return &hf
}

func (h *Handler) GetWithdrawalPhase(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_HASH", err.Error())
		return
	}
	phase := h.Phases.QueryPhase(r.Context(), hash)
	h.writeJSON(w, http.StatusOK, PhaseDTO{Hash: hash.Hex(), Phase: phase.String()})
}
