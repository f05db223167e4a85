// Package exchange defines the BookProvider and ExchangeClient
// abstractions the rest of the engine trades through (§4.B, §4.C), plus the
// concrete streaming/polling and sandbox implementations.
package exchange

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbengine/arbengine/internal/broadcast"
	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

// Broadcaster pushes a top-of-book tick to ReceiveMarketPrices subscribers
// (§6's BookProvider, §4.B). A nil Broadcaster is fine; providers just skip
// the push.
type Broadcaster interface {
	BroadcastMarketPrices(tick broadcast.MarketPriceTick)
}

// Provider supplies the latest known order book for a symbol on one
// exchange. Implementations own their own refresh loop; Snapshot is a cheap,
// non-blocking read of whatever was last observed (§4.B).
type Provider interface {
	Exchange() string
	Snapshot(symbol string) (model.OrderBookSnapshot, bool)
	Run(ctx context.Context) error

	// ConnectionStatus reports the provider's own view of its feed health
	// (§4.B's getConnectionStatus, §6's BookProvider interface).
	ConnectionStatus() ConnectionStatus
}

// ConnectionState is a Provider's feed health, named in §4.B/§6.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
	StateError        ConnectionState = "Error"
)

// ConnectionStatus is the payload getConnectionStatus() returns.
type ConnectionStatus struct {
	Name         string
	State        ConnectionState
	LastUpdate   time.Time
	ErrorMessage string
}

// bookStore is an atomic-pointer-per-symbol cache shared by both the
// streaming and polling providers. Readers never block a writer and vice
// versa (§4.B, §5).
type bookStore struct {
	books map[string]*atomic.Pointer[model.OrderBookSnapshot]
}

func newBookStore(symbols []string) *bookStore {
	s := &bookStore{books: make(map[string]*atomic.Pointer[model.OrderBookSnapshot], len(symbols))}
	for _, sym := range symbols {
		s.books[sym] = &atomic.Pointer[model.OrderBookSnapshot]{}
	}
	return s
}

func (s *bookStore) set(symbol string, snap model.OrderBookSnapshot) {
	p, ok := s.books[symbol]
	if !ok {
		return
	}
	p.Store(&snap)
}

func (s *bookStore) get(symbol string) (model.OrderBookSnapshot, bool) {
	p, ok := s.books[symbol]
	if !ok {
		return model.OrderBookSnapshot{}, false
	}
	snap := p.Load()
	if snap == nil {
		return model.OrderBookSnapshot{}, false
	}
	return *snap, true
}

// PollingProvider refreshes books on a fixed interval via a Fetcher. It is
// the fallback path for exchanges without a usable streaming feed, and the
// only path available to the sandbox (§4.B, §4.D).
type PollingProvider struct {
	exchange string
	interval time.Duration
	fetcher  Fetcher
	store    *bookStore
	bus      *bus.Bus
	bcast    Broadcaster
	log      zerolog.Logger

	status atomic.Pointer[ConnectionStatus]
}

// Fetcher retrieves one symbol's current book. Real exchanges implement it
// over REST; the sandbox implements it over its in-memory state.
type Fetcher interface {
	FetchBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error)
}

// NewPollingProvider builds a provider that polls every interval for each of
// symbols and republishes to bus after every successful fetch, whether or
// not the book changed.
func NewPollingProvider(exchangeName string, symbols []string, interval time.Duration, fetcher Fetcher, b *bus.Bus, bcast Broadcaster, log zerolog.Logger) *PollingProvider {
	p := &PollingProvider{
		exchange: exchangeName,
		interval: interval,
		fetcher:  fetcher,
		store:    newBookStore(symbols),
		bus:      b,
		bcast:    bcast,
		log:      log.With().Str("component", "polling_provider").Str("exchange", exchangeName).Logger(),
	}
	p.status.Store(&ConnectionStatus{Name: exchangeName, State: StateConnecting})
	return p
}

func (p *PollingProvider) Exchange() string { return p.exchange }

func (p *PollingProvider) Snapshot(symbol string) (model.OrderBookSnapshot, bool) {
	return p.store.get(symbol)
}

// ConnectionStatus reports Connected once at least one poll has succeeded
// this run, Error if every symbol failed on the most recent poll.
func (p *PollingProvider) ConnectionStatus() ConnectionStatus {
	return *p.status.Load()
}

// Run polls every configured symbol on a ticker until ctx is cancelled. A
// fetch error for one symbol is logged and skipped; it never aborts the loop
// (§7: providers degrade to stale data rather than crash the process).
func (p *PollingProvider) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("polling provider stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *PollingProvider) pollAll(ctx context.Context) {
	anyOK := false
	var lastErr error
	for symbol := range p.store.books {
		snap, err := p.fetcher.FetchBook(ctx, symbol)
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("book fetch failed, keeping stale snapshot")
			lastErr = err
			continue
		}
		if !snap.Valid() {
			p.log.Warn().Str("symbol", symbol).Msg("crossed book rejected")
			continue
		}
		p.store.set(symbol, snap)
		p.bus.PublishMarketUpdate(symbol)
		if p.bcast != nil && len(snap.Bids) > 0 && len(snap.Asks) > 0 {
			p.bcast.BroadcastMarketPrices(broadcast.MarketPriceTick{
				Symbol:   symbol,
				Exchange: p.exchange,
				BestBid:  snap.Bids[0].Price,
				BestAsk:  snap.Asks[0].Price,
			})
		}
		anyOK = true
	}

	now := time.Now().UTC()
	switch {
	case anyOK:
		p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateConnected, LastUpdate: now})
	case lastErr != nil:
		p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateError, LastUpdate: now, ErrorMessage: lastErr.Error()})
	}
}
