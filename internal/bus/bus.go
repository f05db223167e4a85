// Package bus wires the typed, unbounded, single-producer/many-consumer
// channels that connect every stage of the pipeline: market data ->
// detection -> trade candidates -> execution -> transactions -> statistics
// (§4.A). Channels here are "unbounded" in the sense that producers never
// block on a slow consumer for long — each is given a generous buffer sized
// for bursts, and a full buffer is treated as backpressure, not an error.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/arbengine/arbengine/internal/model"
)

const defaultBuffer = 1024

// Bus is the process-wide channel topology. It is created once at startup
// and shared by reference (§4.A, §9) — no component owns it.
type Bus struct {
	MarketUpdate       chan string
	TradeCh            chan model.ArbitrageOpportunity
	PassiveRebalanceCh chan model.ArbitrageOpportunity
	EventCh            chan model.ArbitrageEvent
	TransactionCh      chan model.Transaction
	StrategyUpdateCh   chan model.StrategyUpdate

	log       zerolog.Logger
	closeOnce sync.Once
}

// New creates a Bus with all channels allocated.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		MarketUpdate:       make(chan string, defaultBuffer),
		TradeCh:            make(chan model.ArbitrageOpportunity, defaultBuffer),
		PassiveRebalanceCh: make(chan model.ArbitrageOpportunity, defaultBuffer),
		EventCh:            make(chan model.ArbitrageEvent, defaultBuffer),
		TransactionCh:      make(chan model.Transaction, defaultBuffer),
		StrategyUpdateCh:   make(chan model.StrategyUpdate, 16),
		log:                log.With().Str("component", "bus").Logger(),
	}
}

// Close initiates shutdown: every channel is closed exactly once. Readers
// are expected to drain remaining buffered values and exit on closure
// rather than treat it as an error (§4.A close semantics).
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.log.Info().Msg("closing channel bus")
		close(b.MarketUpdate)
		close(b.TradeCh)
		close(b.PassiveRebalanceCh)
		close(b.EventCh)
		close(b.TransactionCh)
		close(b.StrategyUpdateCh)
	})
}

// PublishMarketUpdate emits a symbol into MarketUpdate, logging and
// dropping rather than blocking forever if the channel is saturated —
// market data is a "latest wins" stream, a dropped tick is harmless.
func (b *Bus) PublishMarketUpdate(symbol string) {
	select {
	case b.MarketUpdate <- symbol:
	default:
		b.log.Warn().Str("symbol", symbol).Msg("market update dropped, consumer saturated")
	}
}
