package onchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"github.com/shadowlend/shadowlend-backend/pkg/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var shadow = common.HexToAddress("0x2222222222222222222222222222222222222222")

type fakeL1 struct {
	accountCalls atomic.Int32
	oracleErr    error
	ethPrice     *big.Int
}

func (f *fakeL1) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	selector := msg.Data[:4]
	switch {
	case *msg.To == chain.AavePool && bytes.Equal(selector, chain.PoolABI.Methods["getUserAccountData"].ID):
		f.accountCalls.Add(1)
		return chain.PoolABI.Methods["getUserAccountData"].Outputs.Pack(
			big.NewInt(400_000_000_000), big.NewInt(100_000_000_000), big.NewInt(200_000_000_000),
			big.NewInt(8_250), big.NewInt(8_000), big.NewInt(0),
		)
	case *msg.To == chain.AaveOracle:
		if f.oracleErr != nil {
			return nil, f.oracleErr
		}
		args, err := chain.OracleABI.Methods["getAssetPrice"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		price := big.NewInt(100_000_000)
		if args[0].(common.Address) == chain.AaveWethToken {
			price = f.ethPrice
		}
		return chain.OracleABI.Methods["getAssetPrice"].Outputs.Pack(price)
	case *msg.To == chain.AToken:
		return chain.ERC20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	}
	return nil, errors.New("unexpected call")
}

func newService(t *testing.T, l1 *fakeL1) *PositionService {
	kv := memory.New(0)
	t.Cleanup(func() { kv.Close() })
	return NewPositionService(l1, store.NewCache(kv, zap.NewNop().Sugar(), nil), zap.NewNop().Sugar())
}

func TestPosition(t *testing.T) {
	l1 := &fakeL1{ethPrice: big.NewInt(412_345_678_901)}
	svc := newService(t, l1)

	data, err := svc.Position(context.Background(), shadow)
	require.NoError(t, err)
	assert.Equal(t, 0, data.TotalCollateralBase.Cmp(big.NewInt(400_000_000_000)))
	assert.Equal(t, 0, data.UserBorrowCapBase.Cmp(big.NewInt(300_000_000_000)))
	assert.Equal(t, "2000000000000000000000", data.MaxAdditionalGho.String())
	assert.False(t, data.BorrowCapReached)

	// cached
	again, err := svc.Position(context.Background(), shadow)
	require.NoError(t, err)
	assert.Equal(t, 0, again.TotalDebtBase.Cmp(data.TotalDebtBase))
	assert.Equal(t, int32(1), l1.accountCalls.Load())
}

func TestPosition_OracleFailure(t *testing.T) {
	svc := newService(t, &fakeL1{oracleErr: errors.New("oracle down")})
	_, err := svc.Position(context.Background(), shadow)
	assert.Error(t, err)
}

func TestEthPriceUSD(t *testing.T) {
	svc := newService(t, &fakeL1{ethPrice: big.NewInt(412_345_678_901)})
	assert.Equal(t, "4123.45", svc.EthPriceUSD(context.Background()).String())

	failing := newService(t, &fakeL1{oracleErr: errors.New("oracle down")})
	assert.True(t, FallbackEthPriceUSD.Equal(failing.EthPriceUSD(context.Background())))
}

func TestSuppliedBalance(t *testing.T) {
	svc := newService(t, &fakeL1{})
	balance, err := svc.SuppliedBalance(context.Background(), shadow)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}
