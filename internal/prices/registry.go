package prices

import (
	"fmt"
	"strings"
)

// PairETHUSD is the only pair the price endpoint serves.
const PairETHUSD = "ETH/USD"

// Registry maps UI pairs to provider symbols, per provider.
type Registry struct {
	mappings map[string]map[string]string // provider -> UI pair -> symbol
}

// NewRegistry creates a registry with the default mappings.
func NewRegistry() *Registry {
	r := &Registry{
		mappings: make(map[string]map[string]string),
	}

	r.AddMapping("alchemy", PairETHUSD, "ETH")
	r.AddMapping("binance", PairETHUSD, "ETHUSDT")
	r.AddMapping("mock", PairETHUSD, "ETH")

	return r
}

func (r *Registry) AddMapping(provider, uiPair, providerSymbol string) {
	provider = strings.ToLower(provider)
	if r.mappings[provider] == nil {
		r.mappings[provider] = make(map[string]string)
	}
	r.mappings[provider][strings.ToUpper(uiPair)] = providerSymbol
}

// Symbol returns the symbol provider uses for uiPair.
func (r *Registry) Symbol(provider, uiPair string) (string, error) {
	symbol, ok := r.mappings[strings.ToLower(provider)][strings.ToUpper(uiPair)]
	if !ok {
		return "", fmt.Errorf("no mapping found for pair %s on %s", uiPair, provider)
	}
	return symbol, nil
}
