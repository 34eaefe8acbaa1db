package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/crosschain"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shadowlend/shadowlend-backend/internal/scheduler"
	"github.com/shadowlend/shadowlend-backend/internal/shadow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	userAddr     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	shadowAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	withdrawHash = common.HexToHash("0xaa00000000000000000000000000000000000000000000000000000000000001")
	bundleHash   = common.HexToHash("0xbb00000000000000000000000000000000000000000000000000000000000002")
)

type MockFinalizer struct {
	mock.Mock
}

func (m *MockFinalizer) Finalize(ctx context.Context, req crosschain.FinalizeRequest) (*crosschain.FinalizeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crosschain.FinalizeResult), args.Error(1)
}

type fakeResolver struct {
	err error
}

func (f fakeResolver) Resolve(ctx context.Context, l2 common.Address) (common.Address, error) {
	return shadowAddr, f.err
}

type fakePreparer struct {
	from        common.Address
	amount      *big.Int
	beneficiary common.Address
}

func (f *fakePreparer) PrepareWithdrawal(ctx context.Context, from common.Address, amount *big.Int, beneficiary common.Address) (*bridge.TxRequest, error) {
	f.from, f.amount, f.beneficiary = from, amount, beneficiary
	return &bridge.TxRequest{
		ChainID: chain.L2ChainID,
		To:      common.HexToAddress("0x000000000000000000000000000000000000800a"),
		Data:    []byte{0x51, 0xcf, 0xf8, 0xd9},
		Value:   amount,
		Gas:     300_000,
	}, nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []scheduler.Task
	delay time.Duration
	err   error
}

func (f *fakeScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, task scheduler.Task) (scheduler.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	f.delay = delay
	return "msg_1", nil
}

type fakeHub struct{}

func (f *fakeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

type fakeLedger struct {
	recorded  []ledger.Operation
	pending   map[ledger.Kind][]ledger.Entry
	summaries map[ledger.Kind]ledger.Summary
	err       error
}

func (f *fakeLedger) Record(ctx context.Context, op ledger.Operation) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, op)
	return nil
}

func (f *fakeLedger) Pending(ctx context.Context, owner common.Address, kind ledger.Kind) ([]ledger.Entry, error) {
	return f.pending[kind], f.err
}

func (f *fakeLedger) Reconcile(ctx context.Context, owner common.Address, kind ledger.Kind) (ledger.Summary, error) {
	if f.err != nil {
		return ledger.Summary{}, f.err
	}
	if s, ok := f.summaries[kind]; ok {
		return s, nil
	}
	return ledger.ZeroSummary(), nil
}

type fakePositions struct {
	data     calc.AaveData
	supplied *big.Int
	err      error
}

func (f fakePositions) Position(ctx context.Context, shadow common.Address) (*calc.AaveData, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := f.data
	return &d, nil
}

func (f fakePositions) SuppliedBalance(ctx context.Context, shadow common.Address) (*big.Int, error) {
	return f.supplied, nil
}

type fakePrices struct {
	quote prices.Quote
	err   error
}

func (f fakePrices) ETHPrice(ctx context.Context) (prices.Quote, error) {
	return f.quote, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func base(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// $10000 collateral, $2000 debt, $6000 headroom, 82.5% threshold.
func samplePosition() calc.AaveData {
	return calc.NewAaveData(base(10_000), base(2_000), base(6_000), big.NewInt(8250), big.NewInt(8000), big.NewInt(0), base(1))
}

func createTestHandler(deps Deps) *Handler {
	if deps.Shadows == nil {
		deps.Shadows = fakeResolver{}
	}
	if deps.Builder == nil {
		deps.Builder = bundle.NewBuilder(zap.NewNop().Sugar())
	}
	return NewHandler(deps, "https://app.example", 0, zap.NewNop().Sugar(), nil)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeOK(t *testing.T, rec *httptest.ResponseRecorder) OKResponse {
	t.Helper()
	var resp OKResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestFinalizeWithdraw(t *testing.T) {
	payload := `{"withdrawHash":"` + withdrawHash.Hex() + `","bundleHash":"` + bundleHash.Hex() + `"}`

	t.Run("rejects GET", func(t *testing.T) {
		h := createTestHandler(Deps{Finalizer: &MockFinalizer{}})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodGet, finalizePath, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("without signer", func(t *testing.T) {
		h := createTestHandler(Deps{})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodPost, finalizePath, payload)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeOK(t, rec)
		assert.False(t, resp.OK)
		assert.Equal(t, bridge.ErrNoSigner.Error(), resp.Error)
	})

	t.Run("invalid body", func(t *testing.T) {
		h := createTestHandler(Deps{Finalizer: &MockFinalizer{}})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodPost, finalizePath, `{"hash":"0x1234"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("success", func(t *testing.T) {
		fin := &MockFinalizer{}
		want := crosschain.FinalizeRequest{WithdrawHash: withdrawHash, BundleHash: bundleHash}
		fin.On("Finalize", mock.Anything, want).
			Return(&crosschain.FinalizeResult{Phase: bridge.PhaseFinalized, BundleTx: bundleHash}, nil)

		h := createTestHandler(Deps{Finalizer: fin})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodPost, finalizePath, payload)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeOK(t, rec).OK)
		fin.AssertExpectations(t)
	})

	t.Run("legacy hash field", func(t *testing.T) {
		fin := &MockFinalizer{}
		fin.On("Finalize", mock.Anything, crosschain.FinalizeRequest{WithdrawHash: withdrawHash}).
			Return(&crosschain.FinalizeResult{Phase: bridge.PhaseFinalized}, nil)

		h := createTestHandler(Deps{Finalizer: fin})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodPost, finalizePath, `{"hash":"`+withdrawHash.Hex()+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		fin.AssertExpectations(t)
	})

	t.Run("finalizer error", func(t *testing.T) {
		fin := &MockFinalizer{}
		fin.On("Finalize", mock.Anything, mock.Anything).Return(nil, errors.New("finalize wait ready: timeout"))

		h := createTestHandler(Deps{Finalizer: fin})
		rec := doRequest(t, http.HandlerFunc(h.FinalizeWithdraw), http.MethodPost, finalizePath, payload)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decodeOK(t, rec).Error, "timeout")
	})
}

func TestStartWithdraw(t *testing.T) {
	t.Run("schedules finalize callback", func(t *testing.T) {
		sched := &fakeScheduler{}
		h := createTestHandler(Deps{Scheduler: sched})

		rec := doRequest(t, http.HandlerFunc(h.StartWithdraw), http.MethodPost, "/api/start-withdraw",
			`{"hash":"`+withdrawHash.Hex()+`"}`)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.True(t, decodeOK(t, rec).OK)
		require.Len(t, sched.tasks, 1)
		assert.Equal(t, "https://app.example/api/finalize-withdraw", sched.tasks[0].Target)
		assert.Equal(t, scheduler.FinalizeRetryDelay, sched.delay)

		var body crosschain.FinalizePayload
		require.NoError(t, json.Unmarshal(sched.tasks[0].Body, &body))
		assert.Equal(t, withdrawHash.Hex(), body.WithdrawHash)
		assert.Empty(t, body.BundleHash)
	})

	t.Run("falls back to request host", func(t *testing.T) {
		sched := &fakeScheduler{}
		h := NewHandler(Deps{Scheduler: sched}, "", time.Minute, zap.NewNop().Sugar(), nil)

		req := httptest.NewRequest(http.MethodPost, "/api/start-withdraw",
			strings.NewReader(`{"withdrawHash":"`+withdrawHash.Hex()+`"}`))
		req.Host = "localhost:8080"
		rec := httptest.NewRecorder()
		h.StartWithdraw(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "http://localhost:8080/api/finalize-withdraw", sched.tasks[0].Target)
		assert.Equal(t, time.Minute, sched.delay)
	})

	t.Run("upstream error body is returned", func(t *testing.T) {
		sched := &fakeScheduler{err: &scheduler.UpstreamError{Status: 401, Body: "invalid token"}}
		h := createTestHandler(Deps{Scheduler: sched})

		rec := doRequest(t, http.HandlerFunc(h.StartWithdraw), http.MethodPost, "/api/start-withdraw",
			`{"hash":"`+withdrawHash.Hex()+`"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeOK(t, rec)
		assert.False(t, resp.OK)
		assert.Equal(t, "invalid token", resp.Error)
	})

	t.Run("missing hash", func(t *testing.T) {
		h := createTestHandler(Deps{Scheduler: &fakeScheduler{}})
		rec := doRequest(t, http.HandlerFunc(h.StartWithdraw), http.MethodPost, "/api/start-withdraw", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetPrice(t *testing.T) {
	h := createTestHandler(Deps{Prices: fakePrices{quote: prices.Quote{
		Price:  decimal.RequireFromString("3456.78"),
		Cached: true,
	}}})

	rec := doRequest(t, http.HandlerFunc(h.GetPrice), http.MethodGet, "/api/get-price", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PriceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.InDelta(t, 3456.78, resp.EthPrice, 1e-9)
	assert.True(t, resp.Cached)
	assert.False(t, resp.Stale)

	h = createTestHandler(Deps{Prices: fakePrices{err: prices.ErrNoPrice}})
	rec = doRequest(t, http.HandlerFunc(h.GetPrice), http.MethodGet, "/api/get-price", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestShadowAccountRoute(t *testing.T) {
	h := createTestHandler(Deps{})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), []string{"*"}, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/shadow/"+userAddr.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto ShadowAccountDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, shadowAddr.Hex(), dto.Shadow)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doRequest(t, router, http.MethodGet, "/v1/shadow/not-an-address", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v1/shadow/0x0000000000000000000000000000000000000000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShadowAccountNotDeployed(t *testing.T) {
	h := createTestHandler(Deps{Shadows: fakeResolver{err: fmt.Errorf("%w for %s", shadow.ErrNotDeployed, userAddr.Hex())}})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), []string{"*"}, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/shadow/"+userAddr.Hex(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SHADOW_NOT_DEPLOYED", body.Code)

	h = createTestHandler(Deps{Shadows: fakeResolver{err: errors.New("rpc down")}})
	router = h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), []string{"*"}, 600)
	rec = doRequest(t, router, http.MethodGet, "/v1/shadow/"+userAddr.Hex(), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBuildDepositBundle(t *testing.T) {
	prep := &fakePreparer{}
	h := createTestHandler(Deps{Preparer: prep})

	body := `{"address":"` + userAddr.Hex() + `","amount":"0.5"}`
	rec := doRequest(t, http.HandlerFunc(h.BuildDepositBundle), http.MethodPost, "/v1/bundles/deposit", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto BundleTxDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, "deposit", dto.Kind)
	assert.Equal(t, shadowAddr.Hex(), dto.Shadow)
	require.Len(t, dto.Ops, 1)
	assert.Equal(t, chain.AaveWethGateway.Hex(), dto.Ops[0].Target)
	assert.Equal(t, "500000000000000000", dto.Ops[0].Value)
	assert.Equal(t, chain.L2InteropCenter.Hex(), dto.Bundle.To)
	assert.Equal(t, chain.L2ChainID, dto.Bundle.ChainID)

	require.NotNil(t, dto.Withdrawal)
	assert.Equal(t, "500000000000000000", dto.Withdrawal.Value)
	assert.Equal(t, shadowAddr, prep.beneficiary)
	assert.Equal(t, userAddr, prep.from)
}

func TestBuildDepositBundle_Validation(t *testing.T) {
	h := createTestHandler(Deps{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad json", `{`, "INVALID_REQUEST"},
		{"bad address", `{"address":"0x12","amount":"1"}`, "INVALID_ADDRESS"},
		{"zero amount", `{"address":"` + userAddr.Hex() + `","amount":"0"}`, "INVALID_AMOUNT"},
		{"negative amount", `{"address":"` + userAddr.Hex() + `","amount":"-1"}`, "INVALID_AMOUNT"},
		{"dust below wei", `{"address":"` + userAddr.Hex() + `","amount":"0.0000000000000000001"}`, "INVALID_AMOUNT"},
		{"bridge without vault", `{"address":"` + userAddr.Hex() + `","amount":"1","bridge":true}`, "BRIDGE_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, http.HandlerFunc(h.BuildDepositBundle), http.MethodPost, "/v1/bundles/deposit", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestBuildBorrowBundle(t *testing.T) {
	prep := &fakePreparer{}
	h := createTestHandler(Deps{Preparer: prep, Positions: fakePositions{data: samplePosition()}})

	body := `{"address":"` + userAddr.Hex() + `","amount":"100"}`
	rec := doRequest(t, http.HandlerFunc(h.BuildBorrowBundle), http.MethodPost, "/v1/bundles/borrow", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto BundleTxDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, "borrow", dto.Kind)
	assert.Len(t, dto.Ops, 3)
	assert.Equal(t, bundle.BridgeMintValue.String(), dto.MintValue)
	assert.Equal(t, bundle.BridgeMintValue, prep.amount)
}

func TestBuildBorrowBundle_ExceedsHeadroom(t *testing.T) {
	h := createTestHandler(Deps{Positions: fakePositions{data: samplePosition()}})

	body := `{"address":"` + userAddr.Hex() + `","amount":"7000"}`
	rec := doRequest(t, http.HandlerFunc(h.BuildBorrowBundle), http.MethodPost, "/v1/bundles/borrow", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordOperation(t *testing.T) {
	led := &fakeLedger{}
	h := createTestHandler(Deps{Ledger: led})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)
	path := "/v1/users/" + userAddr.Hex() + "/operations"

	body := `{"kind":"borrow","withdrawHash":"` + withdrawHash.Hex() + `","bundleHash":"` + bundleHash.Hex() + `"}`
	rec := doRequest(t, router, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, led.recorded, 1)
	assert.Equal(t, ledger.KindBorrow, led.recorded[0].Kind)
	assert.Equal(t, userAddr, led.recorded[0].Owner)

	rec = doRequest(t, router, http.MethodPost, path, `{"kind":"repay","withdrawHash":"`+withdrawHash.Hex()+`","bundleHash":"`+bundleHash.Hex()+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, path, `{"kind":"deposit","withdrawHash":"`+withdrawHash.Hex()+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, led.recorded, 1)
}

func TestPendingAndSummary(t *testing.T) {
	entry := ledger.Entry{WithdrawHash: withdrawHash, BundleHash: bundleHash}
	led := &fakeLedger{
		pending: map[ledger.Kind][]ledger.Entry{ledger.KindDeposit: {entry}},
		summaries: map[ledger.Kind]ledger.Summary{
			ledger.KindDeposit: {TotalValueFinalizing: ether(1), CountFinalizing: 1},
		},
	}
	h := createTestHandler(Deps{Ledger: led})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/users/"+userAddr.Hex()+"/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []PendingDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pending))
	require.Len(t, pending, 2)
	assert.Len(t, pending[0].Entries, 1)
	assert.NotNil(t, pending[1].Entries)
	assert.Empty(t, pending[1].Entries)

	rec = doRequest(t, router, http.MethodGet, "/v1/users/"+userAddr.Hex()+"/summary?kind=deposit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []SummaryDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "1000000000000000000", summaries[0].TotalValueFinalizing)
	assert.Equal(t, 1, summaries[0].CountFinalizing)

	rec = doRequest(t, router, http.MethodGet, "/v1/users/"+userAddr.Hex()+"/summary?kind=swap", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPosition(t *testing.T) {
	led := &fakeLedger{summaries: map[ledger.Kind]ledger.Summary{
		ledger.KindDeposit: {TotalValueFinalizing: ether(1), CountFinalizing: 1},
	}}
	h := createTestHandler(Deps{
		Ledger:    led,
		Positions: fakePositions{data: samplePosition(), supplied: ether(2)},
		Prices:    fakePrices{quote: prices.Quote{Price: decimal.NewFromInt(2000)}},
	})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/users/"+userAddr.Hex()+"/position?borrow=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto PositionDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	require.NotNil(t, dto.HealthFactor)
	assert.InDelta(t, 4.125, *dto.HealthFactor, 1e-9)
	require.NotNil(t, dto.ProjectedHealthFactor)
	assert.InDelta(t, 2.75, *dto.ProjectedHealthFactor, 1e-9)
	assert.Equal(t, calc.RiskSafe, dto.Risk)
	assert.Equal(t, "3000000000000000000", dto.EffectiveCollateralWei)
	assert.Equal(t, "1000000000000000000", dto.PendingDepositWei)
	assert.InDelta(t, 25.0, dto.BorrowCapUsage, 1e-9)
	assert.Equal(t, "8000.00", dto.NetWorthUSD)
	assert.Equal(t, "2.73", dto.BorrowGasEstimateUSD)
	require.NotNil(t, dto.NetAPY)
	assert.Equal(t, "-0.002167", *dto.NetAPY)
}

func TestGetPosition_NoDebt(t *testing.T) {
	pos := calc.NewAaveData(base(1_000), nil, base(800), big.NewInt(8250), big.NewInt(8000), nil, base(1))
	h := createTestHandler(Deps{
		Ledger:    &fakeLedger{},
		Positions: fakePositions{data: pos, supplied: new(big.Int)},
	})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/users/"+userAddr.Hex()+"/position", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "null", string(raw["healthFactor"]))
	assert.Equal(t, `"safe"`, string(raw["risk"]))
	// no supply on chain or in flight
	assert.Equal(t, "null", string(raw["netApy"]))
}

func TestGetWithdrawalPhase(t *testing.T) {
	phases := phaseFunc(func(hash common.Hash) bridge.Phase {
		if hash == withdrawHash {
			return bridge.PhaseReadyToFinalize
		}
		return bridge.PhaseUnknown
	})
	h := createTestHandler(Deps{Phases: phases})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)

	rec := doRequest(t, router, http.MethodGet, "/v1/withdrawals/"+withdrawHash.Hex()+"/phase", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto PhaseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, string(bridge.PhaseReadyToFinalize), dto.Phase)

	rec = doRequest(t, router, http.MethodGet, "/v1/withdrawals/0xdead/phase", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type phaseFunc func(common.Hash) bridge.Phase

func (f phaseFunc) QueryPhase(ctx context.Context, hash common.Hash) bridge.Phase { return f(hash) }

func TestWebSocketRoute(t *testing.T) {
	h := createTestHandler(Deps{})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, router, http.MethodGet, "/v1/ws", "").Code)

	h = createTestHandler(Deps{Hub: &fakeHub{}})
	router = h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)
	assert.Equal(t, http.StatusSwitchingProtocols, doRequest(t, router, http.MethodGet, "/v1/ws", "").Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := createTestHandler(Deps{Store: fakePinger{}})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)

	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, router, http.MethodGet, "/ping", "").Code)

	h = createTestHandler(Deps{Store: fakePinger{err: errors.New("dial tcp: connection refused")}})
	router = h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), nil, 600)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, router, http.MethodGet, "/readyz", "").Code)
}

func TestRateLimit(t *testing.T) {
	m := NewMiddleware(zap.NewNop().Sugar(), nil)
	handler := m.RateLimit(60)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// burst is rpm/6
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORSMirrorsUnknownOrigin(t *testing.T) {
	h := createTestHandler(Deps{})
	router := h.Routes(NewMiddleware(zap.NewNop().Sugar(), nil), []string{"https://app.example"}, 600)

	req := httptest.NewRequest(http.MethodGet, "/healthz", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://192.168.1.20:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "http://192.168.1.20:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFiniteHealthFactor(t *testing.T) {
	assert.Nil(t, finite(math.Inf(1)))
	assert.Nil(t, finite(calc.DisplayInfiniteHF))
	assert.Nil(t, finite(2.5e7))

	hf := finite(4.125)
	require.NotNil(t, hf)
	assert.Equal(t, 4.125, *hf)
}
