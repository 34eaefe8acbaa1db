package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/crosschain"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shadowlend/shadowlend-backend/internal/scheduler"
	"go.uber.org/zap"
)

const (
	finalizePath = "/api/finalize-withdraw"
	maxBodyBytes = 1 << 16
)

type ShadowResolver interface {
	Resolve(ctx context.Context, l2 common.Address) (common.Address, error)
}

type WithdrawalPreparer interface {
	PrepareWithdrawal(ctx context.Context, from common.Address, amount *big.Int, beneficiary common.Address) (*bridge.TxRequest, error)
}

type PhaseQuerier interface {
	QueryPhase(ctx context.Context, hash common.Hash) bridge.Phase
}

type Ledger interface {
	Record(ctx context.Context, op ledger.Operation) error
	Pending(ctx context.Context, owner common.Address, kind ledger.Kind) ([]ledger.Entry, error)
	Reconcile(ctx context.Context, owner common.Address, kind ledger.Kind) (ledger.Summary, error)
}

type Positions interface {
	Position(ctx context.Context, shadow common.Address) (*calc.AaveData, error)
	SuppliedBalance(ctx context.Context, shadow common.Address) (*big.Int, error)
}

type PriceSource interface {
	ETHPrice(ctx context.Context) (prices.Quote, error)
}

type WithdrawFinalizer interface {
	Finalize(ctx context.Context, req crosschain.FinalizeRequest) (*crosschain.FinalizeResult, error)
}

// Hub serves the live price stream.
type Hub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Handler. Finalizer is nil when the
// process has no signing key; Preparer, Hub and Store may be nil.
type Deps struct {
	Shadows   ShadowResolver
	Builder   *bundle.Builder
	Reader    bundle.Reader
	Preparer  WithdrawalPreparer
	Phases    PhaseQuerier
	Ledger    Ledger
	Positions Positions
	Prices    PriceSource
	Finalizer WithdrawFinalizer
	Scheduler scheduler.Scheduler
	Hub       Hub
	Store     Pinger
}

type Handler struct {
	Deps
	publicURL     string
	finalizeDelay time.Duration
	logger        *zap.SugaredLogger
	metrics       *metrics.Metrics
}

// NewHandler builds the HTTP handlers. publicURL is the externally reachable
// base of this service used as the finalize callback; when empty the
// request's Host is used.
func NewHandler(deps Deps, publicURL string, finalizeDelay time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Handler {
	if finalizeDelay <= 0 {
		finalizeDelay = scheduler.FinalizeRetryDelay
	}
	return &Handler{
		Deps:          deps,
		publicURL:     strings.TrimSuffix(publicURL, "/"),
		finalizeDelay: finalizeDelay,
		logger:        logger,
		metrics:       m,
	}
}

// FinalizeWithdraw drives one withdrawal, and its bundle when given, to
// FINALIZED. It blocks for as long as that takes and is normally invoked by
// the scheduler.
func (h *Handler) FinalizeWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, OKResponse{Error: "method not allowed"})
		return
	}
	if h.Finalizer == nil {
		h.logger.Errorw("Finalize requested without a signer")
		h.writeJSON(w, http.StatusInternalServerError, OKResponse{Error: bridge.ErrNoSigner.Error()})
		return
	}

	req, err := decodeFinalizePayload(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, OKResponse{Error: err.Error()})
		return
	}

	res, err := h.Finalizer.Finalize(r.Context(), req)
	if err != nil {
		h.logger.Errorw("Finalize failed", "withdraw_hash", req.WithdrawHash.Hex(), "error", err)
		h.writeJSON(w, http.StatusInternalServerError, OKResponse{Error: err.Error()})
		return
	}

	h.logger.Infow("Finalize complete",
		"withdraw_hash", req.WithdrawHash.Hex(),
		"phase", res.Phase,
		"bundle_tx", res.BundleTx.Hex(),
	)
	h.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// StartWithdraw schedules a delayed call to FinalizeWithdraw for the posted
// withdrawal and returns immediately.
func (h *Handler) StartWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, OKResponse{Error: "method not allowed"})
		return
	}

	req, err := decodeFinalizePayload(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, OKResponse{Error: err.Error()})
		return
	}
	body, err := crosschain.NewFinalizePayload(req).Body()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, OKResponse{Error: err.Error()})
		return
	}

	task := scheduler.Task{Target: h.callbackURL(r), Body: body}
	id, err := h.Scheduler.ScheduleAfter(r.Context(), h.finalizeDelay, task)
	if err != nil {
		msg := err.Error()
		var upstream *scheduler.UpstreamError
		if errors.As(err, &upstream) {
			msg = upstream.Body
		}
		h.logger.Errorw("Failed to schedule finalize", "withdraw_hash", req.WithdrawHash.Hex(), "error", err)
		h.writeJSON(w, http.StatusInternalServerError, OKResponse{Error: msg})
		return
	}

	h.logger.Infow("Finalize scheduled",
		"withdraw_hash", req.WithdrawHash.Hex(),
		"task_id", id,
		"delay", h.finalizeDelay,
	)
	h.writeJSON(w, http.StatusAccepted, OKResponse{OK: true})
}

func (h *Handler) callbackURL(r *http.Request) string {
	base := h.publicURL
	if base == "" {
		base = "http://" + r.Host
	}
	return base + finalizePath
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeJSON(w, http.StatusMethodNotAllowed, OKResponse{Error: "method not allowed"})
		return
	}
	quote, err := h.Prices.ETHPrice(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to fetch ETH price", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, OKResponse{Error: err.Error()})
		return
	}
	price, _ := quote.Price.Float64()
	h.writeJSON(w, http.StatusOK, PriceResponse{
		OK:       true,
		EthPrice: price,
		Cached:   quote.Cached,
		Stale:    quote.Stale,
	})
}

func decodeFinalizePayload(r *http.Request) (crosschain.FinalizeRequest, error) {
	var payload crosschain.FinalizePayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return crosschain.FinalizeRequest{}, errors.New("invalid JSON body")
	}
	return payload.Request()
}

// Health and ops endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			h.logger.Warnw("Readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		h.writeError(w, http.StatusServiceUnavailable, "WS_DISABLED", "live updates are not enabled")
		return
	}
	h.Hub.HandleWebSocket(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
