package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockWithdrawals struct {
	mock.Mock
}

func (m *MockWithdrawals) Prepare(ctx context.Context, params WithdrawalParams) (*TxRequest, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TxRequest), args.Error(1)
}

func (m *MockWithdrawals) Status(ctx context.Context, hash common.Hash) (Phase, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(Phase), args.Error(1)
}

func (m *MockWithdrawals) TryFinalize(ctx context.Context, hash common.Hash) (common.Hash, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(common.Hash), args.Error(1)
}

type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000f0")
}

func (m *MockWallet) ChainID(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	return m.Called(ctx, chainID).Error(0)
}

func (m *MockWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(common.Hash), args.Error(1)
}

var (
	withdrawHash = common.HexToHash("0xaaaa")
	beneficiary  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newTestAdapter(sdk Withdrawals, wallet Wallet) *Adapter {
	return NewAdapter(sdk, wallet, zap.NewNop().Sugar(), WithPolling(time.Millisecond, 200*time.Millisecond))
}

func TestCreateWithdrawal_Success(t *testing.T) {
	sdk := &MockWithdrawals{}
	wallet := &MockWallet{}
	amount := big.NewInt(1e17)
	prepared := &TxRequest{ChainID: chain.L2ChainID, To: chain.L2BaseToken, Value: amount}

	wallet.On("ChainID", mock.Anything).Return(chain.L2ChainID, nil)
	sdk.On("Prepare", mock.Anything, mock.MatchedBy(func(p WithdrawalParams) bool {
		return p.To == beneficiary && p.Amount.Cmp(amount) == 0 && p.From == wallet.Address()
	})).Return(prepared, nil)
	wallet.On("SendTransaction", mock.Anything, *prepared).Return(withdrawHash, nil)

	hash, err := newTestAdapter(sdk, wallet).CreateWithdrawal(context.Background(), amount, beneficiary)
	require.NoError(t, err)
	assert.Equal(t, withdrawHash, hash)
	wallet.AssertNotCalled(t, "SwitchChain", mock.Anything, mock.Anything)
}

func TestCreateWithdrawal_SwitchesChain(t *testing.T) {
	sdk := &MockWithdrawals{}
	wallet := &MockWallet{}
	prepared := &TxRequest{ChainID: chain.L2ChainID}

	wallet.On("ChainID", mock.Anything).Return(chain.L1ChainID, nil)
	wallet.On("SwitchChain", mock.Anything, chain.L2ChainID).Return(nil).Once()
	sdk.On("Prepare", mock.Anything, mock.Anything).Return(prepared, nil)
	wallet.On("SendTransaction", mock.Anything, mock.Anything).Return(withdrawHash, nil)

	_, err := newTestAdapter(sdk, wallet).CreateWithdrawal(context.Background(), big.NewInt(1), beneficiary)
	require.NoError(t, err)
	wallet.AssertExpectations(t)
}

func TestCreateWithdrawal_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sdk *MockWithdrawals, wallet *MockWallet)
		cause error
	}{
		{
			name: "switch rejected",
			setup: func(sdk *MockWithdrawals, wallet *MockWallet) {
				wallet.On("ChainID", mock.Anything).Return(chain.L1ChainID, nil)
				wallet.On("SwitchChain", mock.Anything, chain.L2ChainID).Return(errors.New("user rejected"))
			},
			cause: ErrChainMismatch,
		},
		{
			name: "chain id unreadable",
			setup: func(sdk *MockWithdrawals, wallet *MockWallet) {
				wallet.On("ChainID", mock.Anything).Return(uint64(0), errors.New("no provider"))
			},
			cause: ErrChainMismatch,
		},
		{
			name: "no hash",
			setup: func(sdk *MockWithdrawals, wallet *MockWallet) {
				wallet.On("ChainID", mock.Anything).Return(chain.L2ChainID, nil)
				sdk.On("Prepare", mock.Anything, mock.Anything).Return(&TxRequest{}, nil)
				wallet.On("SendTransaction", mock.Anything, mock.Anything).Return(common.Hash{}, nil)
			},
			cause: ErrNoHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sdk := &MockWithdrawals{}
			wallet := &MockWallet{}
			tt.setup(sdk, wallet)

			_, err := newTestAdapter(sdk, wallet).CreateWithdrawal(context.Background(), big.NewInt(1), beneficiary)
			assert.ErrorIs(t, err, ErrSubmissionFailed)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestCreateWithdrawal_NoWallet(t *testing.T) {
	_, err := newTestAdapter(&MockWithdrawals{}, nil).CreateWithdrawal(context.Background(), big.NewInt(1), beneficiary)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestPrepareWithdrawal_EstimatesFromCaller(t *testing.T) {
	sdk := &MockWithdrawals{}
	wallet := &MockWallet{}
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	amount := big.NewInt(1e17)

	sdk.On("Prepare", mock.Anything, WithdrawalParams{From: user, To: beneficiary, Amount: amount}).
		Return(&TxRequest{ChainID: chain.L2ChainID}, nil).Once()
	sdk.On("Prepare", mock.Anything, WithdrawalParams{From: wallet.Address(), To: beneficiary, Amount: amount}).
		Return(&TxRequest{ChainID: chain.L2ChainID}, nil).Once()

	a := newTestAdapter(sdk, wallet)
	_, err := a.PrepareWithdrawal(context.Background(), user, amount, beneficiary)
	require.NoError(t, err)
	_, err = a.PrepareWithdrawal(context.Background(), common.Address{}, amount, beneficiary)
	require.NoError(t, err)
	sdk.AssertExpectations(t)
}

func TestPrepareWithdrawal_RejectsZero(t *testing.T) {
	_, err := newTestAdapter(&MockWithdrawals{}, nil).PrepareWithdrawal(context.Background(), common.Address{}, big.NewInt(0), beneficiary)
	assert.ErrorIs(t, err, bundle.ErrInvalidAmount)
}

func TestSubmitBundle(t *testing.T) {
	wallet := &MockWallet{}
	wallet.On("ChainID", mock.Anything).Return(chain.L2ChainID, nil)
	bundleHash := common.HexToHash("0xbbbb")
	wallet.On("SendTransaction", mock.Anything, mock.MatchedBy(func(r TxRequest) bool {
		return r.To == chain.L2InteropCenter && r.ChainID == chain.L2ChainID && len(r.Data) > 4
	})).Return(bundleHash, nil)

	b, err := bundle.NewBuilder(zap.NewNop().Sugar()).Deposit(beneficiary, big.NewInt(5))
	require.NoError(t, err)

	hash, err := newTestAdapter(&MockWithdrawals{}, wallet).SubmitBundle(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, bundleHash, hash)
}

func TestQueryPhase_ErrorIsUnknown(t *testing.T) {
	sdk := &MockWithdrawals{}
	sdk.On("Status", mock.Anything, withdrawHash).Return(PhaseFinalized, errors.New("rpc down"))

	phase := newTestAdapter(sdk, nil).QueryPhase(context.Background(), withdrawHash)
	assert.Equal(t, PhaseUnknown, phase)
}

// sequenceSDK walks through a fixed list of phases, repeating the last one.
type sequenceSDK struct {
	mu        sync.Mutex
	phases    []Phase
	calls     int
	finalized []common.Hash
}

func (s *sequenceSDK) Prepare(ctx context.Context, params WithdrawalParams) (*TxRequest, error) {
	return &TxRequest{}, nil
}

func (s *sequenceSDK) Status(ctx context.Context, hash common.Hash) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.phases) {
		i = len(s.phases) - 1
	}
	s.calls++
	return s.phases[i], nil
}

func (s *sequenceSDK) TryFinalize(ctx context.Context, hash common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, hash)
	return common.HexToHash("0x1111"), nil
}

func TestWaitForPhase(t *testing.T) {
	sdk := &sequenceSDK{phases: []Phase{PhaseL2Pending, PhaseL2Included, PhasePending, PhaseReadyToFinalize}}

	phase, err := newTestAdapter(sdk, nil).WaitForPhase(context.Background(), withdrawHash, PhaseReadyToFinalize)
	require.NoError(t, err)
	assert.Equal(t, PhaseReadyToFinalize, phase)
	assert.Equal(t, 4, sdk.calls)
}

func TestWaitForPhase_AlreadyPast(t *testing.T) {
	sdk := &sequenceSDK{phases: []Phase{PhaseFinalized}}

	phase, err := newTestAdapter(sdk, nil).WaitForPhase(context.Background(), withdrawHash, PhaseL2Included)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinalized, phase)
	assert.Equal(t, 1, sdk.calls)
}

func TestWaitForPhase_FinalizeFailed(t *testing.T) {
	sdk := &sequenceSDK{phases: []Phase{PhaseFinalizing, PhaseFinalizeFailed}}

	_, err := newTestAdapter(sdk, nil).WaitForPhase(context.Background(), withdrawHash, PhaseFinalized)
	assert.ErrorIs(t, err, ErrFinalizeFailed)
}

func TestWaitForPhase_GivesUp(t *testing.T) {
	sdk := &sequenceSDK{phases: []Phase{PhasePending}}

	phase, err := newTestAdapter(sdk, nil).WaitForPhase(context.Background(), withdrawHash, PhaseFinalized)
	assert.Error(t, err)
	assert.Equal(t, PhasePending, phase)
}

func TestWaitForPhase_ContextCancelled(t *testing.T) {
	sdk := &sequenceSDK{phases: []Phase{PhasePending}}
	adapter := NewAdapter(sdk, nil, zap.NewNop().Sugar(), WithPolling(time.Millisecond, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.WaitForPhase(ctx, withdrawHash, PhaseFinalized)
	assert.Error(t, err)
}

func TestAttemptFinalize(t *testing.T) {
	tests := []struct {
		phase     Phase
		submitted bool
		wantErr   error
	}{
		{PhaseFinalized, false, nil},
		{PhaseFinalizing, false, nil},
		{PhaseUnknown, false, nil},
		{PhaseReadyToFinalize, true, nil},
		{PhaseFinalizeFailed, true, nil},
		{PhasePending, false, ErrNotReady},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			sdk := &sequenceSDK{phases: []Phase{tt.phase}}

			err := newTestAdapter(sdk, nil).AttemptFinalize(context.Background(), withdrawHash)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.submitted, len(sdk.finalized) == 1)
		})
	}
}

func TestAttemptFinalize_SubmitError(t *testing.T) {
	sdk := &MockWithdrawals{}
	sdk.On("Status", mock.Anything, withdrawHash).Return(PhaseReadyToFinalize, nil)
	sdk.On("TryFinalize", mock.Anything, withdrawHash).Return(common.Hash{}, errors.New("nonce too low"))

	err := newTestAdapter(sdk, nil).AttemptFinalize(context.Background(), withdrawHash)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
}
