package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single live price update.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TsMs   int64           `json:"ts"` // milliseconds since epoch
}

// Provider is a source of spot prices.
type Provider interface {
	// LatestPrice returns the USD price of symbol. symbol is provider
	// specific, see Registry.
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// LiveProvider streams ticks until ctx is done or the connection drops.
type LiveProvider interface {
	Provider
	SubscribeLive(ctx context.Context, symbol string, out chan<- Tick) error
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Reconnects  int       `json:"reconnects"`
}
