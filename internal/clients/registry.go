// Package clients wires one exchange.Client per configured exchange into
// the narrow ClientSource/FeeSource interfaces internal/executor,
// internal/rebalance and internal/arbitrage each declare independently.
// Grounded on internal/exchange.Registry's name-keyed construction, but
// over Client rather than Provider.
package clients

import (
	"github.com/arbengine/arbengine/internal/arbitrage"
	"github.com/arbengine/arbengine/internal/exchange"
)

// Registry resolves a Client by exchange name.
type Registry struct {
	entries map[string]exchange.Client
}

// NewRegistry builds a Registry from one Client per configured exchange.
func NewRegistry(clients ...exchange.Client) *Registry {
	r := &Registry{entries: make(map[string]exchange.Client, len(clients))}
	for _, c := range clients {
		r.entries[c.Exchange()] = c
	}
	return r
}

// Client implements internal/executor.ClientSource and
// internal/rebalance.ClientSource.
func (r *Registry) Client(exchangeName string) (exchange.Client, bool) {
	c, ok := r.entries[exchangeName]
	if !ok {
		return nil, false
	}
	return c, true
}

// Fees implements internal/arbitrage.FeeSource. Balance caps
// (AvailableQuote/AvailableBase) are left zero/uncapped: §4.E treats an
// unset cap as "no balance-based limit", and live balances are fetched
// separately by internal/rebalance rather than duplicated here.
func (r *Registry) Fees(exchangeName string) arbitrage.FeeQuote {
	c, ok := r.entries[exchangeName]
	if !ok {
		return arbitrage.FeeQuote{}
	}
	return arbitrage.FeeQuote{
		MakerFee: c.MakerFee(),
		TakerFee: c.TakerFee(),
	}
}
