package calc

import (
	"math"
	"math/big"
)

var (
	basisPoints = big.NewInt(10_000)
	hfScale     = big.NewInt(1_000_000)
	tokenUnit   = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	baseUnit    = big.NewInt(100_000_000)
)

// DisplayInfiniteHF is the health factor from which a position is reported
// as having no meaningful liquidation risk (infinite).
const DisplayInfiniteHF = 1_000_000

// AaveData is a snapshot of getUserAccountData for one account. Base amounts
// carry 8 decimals; thresholds are basis points.
type AaveData struct {
	TotalCollateralBase         *big.Int `json:"totalCollateralBase"`
	TotalDebtBase               *big.Int `json:"totalDebtBase"`
	AvailableBorrowsBase        *big.Int `json:"availableBorrowsBase"`
	UserBorrowCapBase           *big.Int `json:"userBorrowCapBase"`
	BorrowCapReached            bool     `json:"borrowCapReached"`
	MaxAdditionalGho            *big.Int `json:"maxAdditionalGho"`
	GhoPriceInBase              *big.Int `json:"ghoPriceInBase"`
	CurrentLiquidationThreshold *big.Int `json:"currentLiquidationThreshold"`
	LTV                         *big.Int `json:"ltv"`
	HealthFactor                *big.Int `json:"healthFactor"`
}

// NewAaveData derives the borrow cap fields from the raw account data and
// the GHO oracle price.
func NewAaveData(collateral, debt, available, liquidationThreshold, ltv, healthFactor, ghoPrice *big.Int) AaveData {
	return AaveData{
		TotalCollateralBase:         orZero(collateral),
		TotalDebtBase:               orZero(debt),
		AvailableBorrowsBase:        orZero(available),
		UserBorrowCapBase:           new(big.Int).Add(orZero(debt), orZero(available)),
		BorrowCapReached:            BorrowCapReached(debt, available),
		MaxAdditionalGho:            MaxAdditionalGho(available, ghoPrice),
		GhoPriceInBase:              orZero(ghoPrice),
		CurrentLiquidationThreshold: orZero(liquidationThreshold),
		LTV:                         orZero(ltv),
		HealthFactor:                orZero(healthFactor),
	}
}

// CurrentHealthFactor is collateral × threshold / (debt × 10000), or +Inf
// without debt.
func CurrentHealthFactor(d AaveData) float64 {
	return healthFactor(d.TotalCollateralBase, d.CurrentLiquidationThreshold, orZero(d.TotalDebtBase))
}

// ProjectedHealthFactor applies the same formula after borrowing
// additionalGho more (18 decimals), priced through the oracle.
func ProjectedHealthFactor(d AaveData, additionalGho *big.Int) float64 {
	addDebt := new(big.Int).Mul(orZero(additionalGho), orZero(d.GhoPriceInBase))
	addDebt.Quo(addDebt, tokenUnit)
	debt := new(big.Int).Add(orZero(d.TotalDebtBase), addDebt)
	return healthFactor(d.TotalCollateralBase, d.CurrentLiquidationThreshold, debt)
}

func healthFactor(collateral, threshold, debt *big.Int) float64 {
	if debt.Sign() == 0 {
		return math.Inf(1)
	}
	num := new(big.Int).Mul(orZero(collateral), orZero(threshold))
	num.Mul(num, hfScale)
	den := new(big.Int).Mul(debt, basisPoints)
	scaled := new(big.Int).Quo(num, den)

	f, _ := new(big.Float).SetInt(scaled).Float64()
	return f / float64(hfScale.Int64())
}

type Risk string

const (
	RiskSafe    Risk = "safe"
	RiskWarning Risk = "warning"
	RiskDanger  Risk = "danger"
)

// RiskBand classifies a health factor. nil means no position.
func RiskBand(hf *float64) Risk {
	switch {
	case hf == nil || *hf >= 3:
		return RiskSafe
	case *hf >= 1.1:
		return RiskWarning
	default:
		return RiskDanger
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
