package exchange

import "github.com/arbengine/arbengine/internal/model"

// Registry holds every configured exchange's Provider, keyed by exchange
// name, so the detector can gather every exchange's view of a symbol in one
// call (§4.F step 1).
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from a set of providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Exchange()] = p
	}
	return r
}

// Exchanges lists the configured exchange names.
func (r *Registry) Exchanges() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// SnapshotsFor returns every exchange's current book for symbol, omitting
// exchanges with no snapshot yet.
func (r *Registry) SnapshotsFor(symbol string) map[string]model.OrderBookSnapshot {
	out := make(map[string]model.OrderBookSnapshot, len(r.providers))
	for name, p := range r.providers {
		if snap, ok := p.Snapshot(symbol); ok {
			out[name] = snap
		}
	}
	return out
}

// ProviderStatuses reports every configured provider's connection health,
// for the admin health endpoint (§4.B's getConnectionStatus).
func (r *Registry) ProviderStatuses() []ConnectionStatus {
	out := make([]ConnectionStatus, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.ConnectionStatus())
	}
	return out
}
