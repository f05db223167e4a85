package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arbengine/arbengine/internal/broadcast"
	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

const (
	dialTimeout        = 15 * time.Second
	baseReconnectDelay = 5 * time.Second // §4.B: 5s floor on reconnect backoff
	maxReconnectDelay  = 2 * time.Minute
)

// Decoder turns one raw depth-update message into a snapshot. Exchanges
// differ wildly in wire format; each real exchange provides its own.
type Decoder interface {
	Decode(raw json.RawMessage) (symbol string, snap model.OrderBookSnapshot, err error)
}

// StreamingProvider maintains a long-lived websocket connection per
// exchange, reconnecting with exponential backoff on drop (§4.B). Grounded
// on the reconnect-loop shape of a websocket market-data client: dial,
// read-loop, and a supervising goroutine that redials on failure.
type StreamingProvider struct {
	exchange string
	url      string
	decoder  Decoder
	store    *bookStore
	bus      *bus.Bus
	bcast    Broadcaster
	log      zerolog.Logger

	status atomic.Pointer[ConnectionStatus]
}

// NewStreamingProvider builds a provider that dials url and applies decoder
// to every inbound message.
func NewStreamingProvider(exchangeName, url string, symbols []string, decoder Decoder, b *bus.Bus, bcast Broadcaster, log zerolog.Logger) *StreamingProvider {
	p := &StreamingProvider{
		exchange: exchangeName,
		url:      url,
		decoder:  decoder,
		store:    newBookStore(symbols),
		bus:      b,
		bcast:    bcast,
		log:      log.With().Str("component", "streaming_provider").Str("exchange", exchangeName).Logger(),
	}
	p.status.Store(&ConnectionStatus{Name: exchangeName, State: StateDisconnected})
	return p
}

func (p *StreamingProvider) Exchange() string { return p.exchange }

func (p *StreamingProvider) Snapshot(symbol string) (model.OrderBookSnapshot, bool) {
	return p.store.get(symbol)
}

// ConnectionStatus reports the current websocket feed health (§4.B).
func (p *StreamingProvider) ConnectionStatus() ConnectionStatus {
	return *p.status.Load()
}

// Run connects and reads until ctx is cancelled, reconnecting with capped
// exponential backoff on any read/dial error (§4.B, §7).
func (p *StreamingProvider) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.runOnce(ctx); err != nil {
			attempt++
			delay := backoff(attempt)
			p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateError, LastUpdate: time.Now().UTC(), ErrorMessage: err.Error()})
			p.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("stream disconnected, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(float64(baseReconnectDelay) * math.Pow(1.6, float64(attempt-1)))
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func (p *StreamingProvider) runOnce(ctx context.Context) error {
	p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateConnecting})
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, p.url, nil)
	cancel()
	if err != nil {
		p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateError, LastUpdate: time.Now().UTC(), ErrorMessage: err.Error()})
		return fmt.Errorf("dial %s: %w", p.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateConnected, LastUpdate: time.Now().UTC()})
	p.log.Info().Msg("stream connected")
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		symbol, snap, err := p.decoder.Decode(raw)
		if err != nil {
			p.log.Warn().Err(err).Msg("malformed message, dropped")
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
		p.status.Store(&ConnectionStatus{Name: p.exchange, State: StateConnected, LastUpdate: time.Now().UTC()})
	}
}
