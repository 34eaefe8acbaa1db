package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const poolABI = `[
	{"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},
		{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},
		{"name":"onBehalfOf","type":"address"}],"outputs":[]},
	{"type":"function","name":"getUserAccountData","stateMutability":"view","inputs":[
		{"name":"user","type":"address"}],"outputs":[
		{"name":"totalCollateralBase","type":"uint256"},{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},{"name":"healthFactor","type":"uint256"}]}
]`

const wrappedTokenGatewayABI = `[
	{"type":"function","name":"depositETH","stateMutability":"payable","inputs":[
		{"name":"pool","type":"address"},{"name":"onBehalfOf","type":"address"},
		{"name":"referralCode","type":"uint16"}],"outputs":[]}
]`

const erc20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc4626ABI = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[
		{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],
		"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"convertToShares","stateMutability":"view","inputs":[
		{"name":"assets","type":"uint256"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]}
]`

const bridgehubABI = `[
	{"type":"function","name":"requestL2TransactionTwoBridges","stateMutability":"payable","inputs":[
		{"name":"_request","type":"tuple","components":[
			{"name":"chainId","type":"uint256"},{"name":"mintValue","type":"uint256"},
			{"name":"l2Value","type":"uint256"},{"name":"l2GasLimit","type":"uint256"},
			{"name":"l2GasPerPubdataByteLimit","type":"uint256"},{"name":"refundRecipient","type":"address"},
			{"name":"secondBridgeAddress","type":"address"},{"name":"secondBridgeValue","type":"uint256"},
			{"name":"secondBridgeCalldata","type":"bytes"}]}],
		"outputs":[{"name":"canonicalTxHash","type":"bytes32"}]}
]`

const interopCenterABI = `[
	{"type":"function","name":"sendBundleToL1","stateMutability":"payable","inputs":[
		{"name":"ops","type":"tuple[]","components":[
			{"name":"target","type":"address"},{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"}]}],"outputs":[]},
	{"type":"function","name":"l1ShadowAccount","stateMutability":"view","inputs":[
		{"name":"l2Account","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

const interopHandlerABI = `[
	{"type":"function","name":"receiveInteropFromL2","stateMutability":"nonpayable","inputs":[
		{"name":"_finalizeParams","type":"tuple","components":[
			{"name":"chainId","type":"uint256"},{"name":"l2BatchNumber","type":"uint256"},
			{"name":"l2MessageIndex","type":"uint256"},{"name":"l2Sender","type":"address"},
			{"name":"l2TxNumberInBatch","type":"uint16"},{"name":"message","type":"bytes"},
			{"name":"merkleProof","type":"bytes32[]"}]}],"outputs":[]}
]`

const oracleABI = `[
	{"type":"function","name":"getAssetPrice","stateMutability":"view","inputs":[
		{"name":"asset","type":"address"}],"outputs":[{"name":"price","type":"uint256"}]}
]`

const baseTokenABI = `[
	{"type":"function","name":"withdraw","stateMutability":"payable","inputs":[
		{"name":"_l1Receiver","type":"address"}],"outputs":[]}
]`

const assetRouterABI = `[
	{"type":"function","name":"L1_NULLIFIER","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"address"}]}
]`

const nullifierABI = `[
	{"type":"function","name":"finalizeDeposit","stateMutability":"nonpayable","inputs":[
		{"name":"_finalizeWithdrawalParams","type":"tuple","components":[
			{"name":"chainId","type":"uint256"},{"name":"l2BatchNumber","type":"uint256"},
			{"name":"l2MessageIndex","type":"uint256"},{"name":"l2Sender","type":"address"},
			{"name":"l2TxNumberInBatch","type":"uint16"},{"name":"message","type":"bytes"},
			{"name":"merkleProof","type":"bytes32[]"}]}],"outputs":[]},
	{"type":"function","name":"isWithdrawalFinalized","stateMutability":"view","inputs":[
		{"name":"_chainId","type":"uint256"},{"name":"_l2BatchNumber","type":"uint256"},
		{"name":"_l2MessageIndex","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Parsed contract ABIs.
var (
	PoolABI                = mustParse("IPool", poolABI)
	WrappedTokenGatewayABI = mustParse("IWrappedTokenGatewayV3", wrappedTokenGatewayABI)
	ERC20ABI               = mustParse("IERC20", erc20ABI)
	ERC4626ABI             = mustParse("IERC4626", erc4626ABI)
	BridgehubABI           = mustParse("IL1Bridgehub", bridgehubABI)
	InteropCenterABI       = mustParse("L2InteropCenter", interopCenterABI)
	InteropHandlerABI      = mustParse("L1InteropHandler", interopHandlerABI)
	OracleABI              = mustParse("AaveOracle", oracleABI)
	BaseTokenABI           = mustParse("L2BaseToken", baseTokenABI)
	AssetRouterABI         = mustParse("L1AssetRouter", assetRouterABI)
	NullifierABI           = mustParse("L1Nullifier", nullifierABI)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid %s abi: %v", name, err))
	}
	return parsed
}

// MustType builds an abi.Type from a solidity type name.
func MustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid type: %s: %v", t, err))
	}
	return typ
}

// FinalizeParams mirrors FinalizeL1DepositParams, shared by
// L1Nullifier.finalizeDeposit and L1InteropHandler.receiveInteropFromL2.
type FinalizeParams struct {
	ChainId           *big.Int
	L2BatchNumber     *big.Int
	L2MessageIndex    *big.Int
	L2Sender          common.Address
	L2TxNumberInBatch uint16
	Message           []byte
	MerkleProof       [][32]byte
}
