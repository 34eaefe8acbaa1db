package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Chain ids
const (
	L2ChainID uint64 = 8022833  // zkSync OS testnet
	L1ChainID uint64 = 11155111 // Sepolia
)

// Contract addresses on the L2 and on Sepolia.
var (
	L2InteropCenter    = common.HexToAddress("0xc64315efbdcD90B71B0687E37ea741DE0E6cEFac")
	L1InteropHandler   = common.HexToAddress("0xB0dD4151fdcCaAC990F473533C15BcF8CE10b1de")
	AaveWethGateway    = common.HexToAddress("0x387d311e47e80b498169e6fb51d3193167d89F7D")
	AaveWethToken      = common.HexToAddress("0xC558DBdd856501FCd9aaF1E62eae57A9F0629a3c")
	AToken             = common.HexToAddress("0x5b071b590a59395fE4025A0Ccc1FcC931AAc1830")
	AaveOracle         = common.HexToAddress("0x2da88497588bf89281816106C7259e31AF45a663")
	AavePool           = common.HexToAddress("0x6Ae43d3271ff6888e7Fc43Fd7321a503ff738951")
	GhoToken           = common.HexToAddress("0xc4bF5CbDaBE595361438F8c6a187bDc330539c60")
	L2GhoToken         = common.HexToAddress("0xcA9EBBd747D02f57d523eCaA8f9dFC4E7e4C428D")
	L1NativeTokenVault = common.HexToAddress("0xF8d4A5195737043f45F998539D5C62Eee02E3426")
	Bridgehub          = common.HexToAddress("0xc4FD2580C3487bba18D63f50301020132342fdbD")
	L1AssetRouter      = common.HexToAddress("0xB5d9C3F41E434b91295BD7962db5c873cEcCE2be")
	ChainMailbox       = common.HexToAddress("0x02B1ac1Cf0A592aefD3C2246B2431388365dB272")
)

// System contracts at fixed addresses on the L2.
var (
	L2NativeTokenVault = common.HexToAddress("0x0000000000000000000000000000000000010004")
	L1Messenger        = common.HexToAddress("0x0000000000000000000000000000000000008008")
	L2BaseToken        = common.HexToAddress("0x000000000000000000000000000000000000800A")
)

// ETHAddress is the placeholder token address used for the base token.
var ETHAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

func L2ChainIDBig() *big.Int { return new(big.Int).SetUint64(L2ChainID) }

func L1ChainIDBig() *big.Int { return new(big.Int).SetUint64(L1ChainID) }
