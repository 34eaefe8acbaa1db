package bundle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNTVAssetID(t *testing.T) {
	id, err := EncodeNTVAssetID(chain.L1ChainIDBig(), chain.GhoToken)
	require.NoError(t, err)

	// abi.encode of static types is three 32-byte words
	var buf []byte
	buf = append(buf, common.LeftPadBytes(chain.L1ChainIDBig().Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(chain.L2NativeTokenVault.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(chain.GhoToken.Bytes(), 32)...)
	assert.Equal(t, crypto.Keccak256Hash(buf), id)
}

func TestEncodeBridgeBurnData(t *testing.T) {
	data, err := EncodeBridgeBurnData(big.NewInt(42), l2Account, chain.GhoToken)
	require.NoError(t, err)
	require.Len(t, data, 96)
	assert.Equal(t, int64(42), new(big.Int).SetBytes(data[:32]).Int64())
	assert.Equal(t, l2Account, common.BytesToAddress(data[32:64]))
}

func TestAssetRouterDepositDataRoundTrip(t *testing.T) {
	assetID := common.HexToHash("0x1234")
	transfer := []byte{1, 2, 3, 4}

	data, err := EncodeAssetRouterDepositData(assetID, transfer)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), data[0])

	gotID, gotTransfer, err := DecodeAssetRouterDepositData(data)
	require.NoError(t, err)
	assert.Equal(t, assetID, gotID)
	assert.Equal(t, transfer, gotTransfer)

	_, _, err = DecodeAssetRouterDepositData([]byte{0x02})
	assert.ErrorIs(t, err, ErrMalformedCalldata)
}

func TestBridgeOpCarriesSecondBridgeCalldata(t *testing.T) {
	op, err := bridgeOp(chain.GhoToken, big.NewInt(7), l2Account)
	require.NoError(t, err)
	assert.Equal(t, chain.Bridgehub, op.Target)

	method := chain.BridgehubABI.Methods["requestL2TransactionTwoBridges"]
	args, err := method.Inputs.Unpack(op.Data[4:])
	require.NoError(t, err)

	req := *abi.ConvertType(args[0], new(bridgeRequest)).(*bridgeRequest)
	assert.Equal(t, chain.L2ChainIDBig(), req.ChainId)
	assert.Equal(t, BridgeMintValue, req.MintValue)
	assert.Equal(t, chain.L1AssetRouter, req.SecondBridgeAddress)
	assert.Equal(t, l2Account, req.RefundRecipient)

	_, transfer, err := DecodeAssetRouterDepositData(req.SecondBridgeCalldata)
	require.NoError(t, err)
	assert.Equal(t, int64(7), new(big.Int).SetBytes(transfer[:32]).Int64())
}
