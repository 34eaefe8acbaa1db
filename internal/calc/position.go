package calc

import (
	"errors"
	"math/big"

	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shopspring/decimal"
)

var ErrZeroSupply = errors.New("net APY is undefined without supply")

// Rate assumptions used for net APY.
var (
	SupplyRate = decimal.RequireFromString("0.0185")
	BorrowRate = decimal.RequireFromString("0.0620")
)

// BorrowCapThreshold is the usage percentage at which borrowing is disabled.
const BorrowCapThreshold = 99.99

// BridgeFeeETH is the mint value of a borrow bundle in ETH.
var (
	BridgeFeeETH      = decimal.RequireFromString("0.00135")
	bridgeGasOverhead = decimal.RequireFromString("0.03")
)

// EffectiveBalance counts in-flight value as already settled.
func EffectiveBalance(onChain *big.Int, pending ledger.Summary) *big.Int {
	return new(big.Int).Add(orZero(onChain), orZero(pending.TotalValueFinalizing))
}

// NetAPY is (supply × SupplyRate − borrowed × BorrowRate) / supply.
func NetAPY(supplyUSD, borrowedUSD decimal.Decimal) (decimal.Decimal, error) {
	if supplyUSD.IsZero() {
		return decimal.Zero, ErrZeroSupply
	}
	earned := supplyUSD.Mul(SupplyRate)
	owed := borrowedUSD.Mul(BorrowRate)
	return earned.Sub(owed).Div(supplyUSD), nil
}

// BorrowCapUsage is debt / (debt + available) as a percentage truncated to
// two decimals.
func BorrowCapUsage(debt, available *big.Int) float64 {
	capBase := new(big.Int).Add(orZero(debt), orZero(available))
	if capBase.Sign() == 0 {
		return 0
	}
	bps := new(big.Int).Mul(orZero(debt), basisPoints)
	bps.Quo(bps, capBase)
	f, _ := new(big.Float).SetInt(bps).Float64()
	return f / 100
}

func BorrowCapReached(debt, available *big.Int) bool {
	return BorrowCapUsage(debt, available) >= BorrowCapThreshold
}

// MaxAdditionalGho converts the available headroom to GHO units (18
// decimals) at the oracle price. A zero price yields zero.
func MaxAdditionalGho(available, ghoPrice *big.Int) *big.Int {
	if ghoPrice == nil || ghoPrice.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(orZero(available), tokenUnit)
	return out.Quo(out, ghoPrice)
}

// FormatBaseUSD turns an 8-decimal oracle price into dollars, truncated to
// cents.
func FormatBaseUSD(price *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(orZero(price), -8).Truncate(2)
}

// NetWorthUSD is collateral minus debt in dollars.
func NetWorthUSD(collateralBase, debtBase *big.Int) decimal.Decimal {
	net := new(big.Int).Sub(orZero(collateralBase), orZero(debtBase))
	return decimal.NewFromBigInt(net, -8)
}

// BorrowGasEstimateUSD prices the bridging fee of a borrow plus a fixed L2
// overhead, rounded to cents.
func BorrowGasEstimateUSD(ethPrice decimal.Decimal) decimal.Decimal {
	return BridgeFeeETH.Mul(ethPrice).Add(bridgeGasOverhead).Round(2)
}

// WeiToEther renders an 18-decimal amount.
func WeiToEther(wei *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(orZero(wei), -18)
}

// EtherToWei parses a decimal amount into 18-decimal units, truncating any
// excess precision.
func EtherToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).Truncate(0).BigInt()
}
