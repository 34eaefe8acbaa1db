package bundle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
)

// assetRouterEncodingVersion prefixes second-bridge calldata for the asset router.
const assetRouterEncodingVersion = 0x01

var (
	uint256Type = chain.MustType("uint256")
	addressType = chain.MustType("address")
	bytes32Type = chain.MustType("bytes32")
	bytesType   = chain.MustType("bytes")
)

// EncodeNTVAssetID returns keccak256(abi.encode(chainId, L2NativeTokenVault, token)).
func EncodeNTVAssetID(chainID *big.Int, token common.Address) (common.Hash, error) {
	args := abi.Arguments{{Type: uint256Type}, {Type: addressType}, {Type: addressType}}
	encoded, err := args.Pack(chainID, chain.L2NativeTokenVault, token)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode asset id: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// EncodeBridgeBurnData returns abi.encode(amount, receiver, token).
func EncodeBridgeBurnData(amount *big.Int, receiver, token common.Address) ([]byte, error) {
	args := abi.Arguments{{Type: uint256Type}, {Type: addressType}, {Type: addressType}}
	encoded, err := args.Pack(amount, receiver, token)
	if err != nil {
		return nil, fmt.Errorf("encode burn data: %w", err)
	}
	return encoded, nil
}

// EncodeAssetRouterDepositData returns 0x01 ‖ abi.encode(assetId, transferData).
func EncodeAssetRouterDepositData(assetID common.Hash, transferData []byte) ([]byte, error) {
	args := abi.Arguments{{Type: bytes32Type}, {Type: bytesType}}
	encoded, err := args.Pack(assetID, transferData)
	if err != nil {
		return nil, fmt.Errorf("encode deposit data: %w", err)
	}
	return append([]byte{assetRouterEncodingVersion}, encoded...), nil
}

// DecodeAssetRouterDepositData reverses EncodeAssetRouterDepositData.
func DecodeAssetRouterDepositData(data []byte) (common.Hash, []byte, error) {
	if len(data) < 1 || data[0] != assetRouterEncodingVersion {
		return common.Hash{}, nil, fmt.Errorf("%w: unexpected encoding version", ErrMalformedCalldata)
	}
	args := abi.Arguments{{Type: bytes32Type}, {Type: bytesType}}
	out, err := args.Unpack(data[1:])
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("%w: %v", ErrMalformedCalldata, err)
	}
	assetID, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("%w: asset id", ErrMalformedCalldata)
	}
	transfer, ok := out[1].([]byte)
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("%w: transfer data", ErrMalformedCalldata)
	}
	return common.Hash(assetID), transfer, nil
}
