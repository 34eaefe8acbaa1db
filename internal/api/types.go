package api

import (
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// OKResponse is the body of the /api endpoints.
type OKResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type PriceResponse struct {
	OK       bool    `json:"ok"`
	EthPrice float64 `json:"ethPrice"`
	Cached   bool    `json:"cached"`
	Stale    bool    `json:"stale,omitempty"`
}

type ShadowAccountDTO struct {
	Address string `json:"address"`
	Shadow  string `json:"shadow"`
}

// BundleRequest amounts are decimal strings in whole units (ETH or GHO).
type BundleRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	// Bridge selects deposit-and-bridge, which needs a wrapper vault.
	Bridge bool `json:"bridge,omitempty"`
}

type TxDTO struct {
	ChainID uint64 `json:"chainId"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
	Gas     uint64 `json:"gas,omitempty"`
}

type OpDTO struct {
	Target string `json:"target"`
	Value  string `json:"value"`
	Data   string `json:"data"`
}

// BundleTxDTO is the unsigned pair of transactions for one operation: the
// withdrawal that funds the shadow account and the bundle it executes.
type BundleTxDTO struct {
	Kind       string  `json:"kind"`
	Shadow     string  `json:"shadow"`
	Withdrawal *TxDTO  `json:"withdrawal,omitempty"`
	Bundle     TxDTO   `json:"bundle"`
	Ops        []OpDTO `json:"ops"`
	MintValue  string  `json:"mintValue"`
}

type OperationRequest struct {
	Kind         string `json:"kind"`
	WithdrawHash string `json:"withdrawHash"`
	BundleHash   string `json:"bundleHash"`
}

type PendingDTO struct {
	Address string         `json:"address"`
	Kind    ledger.Kind    `json:"kind"`
	Entries []ledger.Entry `json:"entries"`
}

type SummaryDTO struct {
	Address              string      `json:"address"`
	Kind                 ledger.Kind `json:"kind"`
	TotalValueFinalizing string      `json:"totalValueFinalizing"`
	CountFinalizing      int         `json:"countFinalizing"`
}

type PositionDTO struct {
	Address                string        `json:"address"`
	Shadow                 string        `json:"shadow"`
	Aave                   calc.AaveData `json:"aave"`
	HealthFactor           *float64      `json:"healthFactor"` // null when there is no debt
	ProjectedHealthFactor  *float64      `json:"projectedHealthFactor,omitempty"`
	Risk                   calc.Risk     `json:"risk"`
	SuppliedWei            string        `json:"suppliedWei"`
	PendingDepositWei      string        `json:"pendingDepositWei"`
	EffectiveCollateralWei string        `json:"effectiveCollateralWei"`
	PendingBorrowGho       string        `json:"pendingBorrowGho"`
	BorrowCapUsage         float64       `json:"borrowCapUsage"`
	NetAPY                 *string       `json:"netApy"`
	NetWorthUSD            string        `json:"netWorthUsd"`
	EthPriceUSD            string        `json:"ethPriceUsd"`
	BorrowGasEstimateUSD   string        `json:"borrowGasEstimateUsd"`
}

type PhaseDTO struct {
	Hash  string `json:"hash"`
	Phase string `json:"phase"`
}
