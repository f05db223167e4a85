// Package executor implements the OrderExecutor (§4.H): preflight checks,
// leg dispatch under the Sequential or Concurrent strategy, recovery on a
// one-sided fill, PnL computation, and transaction recording.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// stalenessWindow matches the detector's (§4.H step 2 references the same
// 500ms limit as §4.F).
const stalenessWindow = 500 * time.Millisecond

// fallbackTakerFeeFraction is applied to a leg's notional when the exchange
// reports a zero fee (§4.H PnL: "0.1% taker fallback").
const fallbackTakerFeeFraction = 0.001

// SafetyReader reports whether the kill-switch currently blocks trading.
type SafetyReader interface {
	IsKillSwitchTriggered() bool
}

// ClientSource resolves the live ExchangeClient for an exchange name.
type ClientSource interface {
	Client(exchangeName string) (exchange.Client, bool)
}

// Broadcaster pushes a completed transaction to connected UI clients
// (component O, §6 ReceiveTransaction). Fire-and-forget: errors are logged,
// never returned to the caller.
type Broadcaster interface {
	BroadcastTransaction(model.Transaction)
}

// Executor is the OrderExecutor.
type Executor struct {
	bus      *bus.Bus
	registry *exchange.Registry
	clients  ClientSource
	safety   SafetyReader
	bcast    Broadcaster
	log      zerolog.Logger
}

// New builds an Executor.
func New(b *bus.Bus, registry *exchange.Registry, clients ClientSource, safety SafetyReader, bcast Broadcaster, log zerolog.Logger) *Executor {
	return &Executor{
		bus:      b,
		registry: registry,
		clients:  clients,
		safety:   safety,
		bcast:    bcast,
		log:      log.With().Str("component", "order_executor").Logger(),
	}
}

// Execute runs the full preflight + dispatch + recording pipeline for one
// opportunity (§4.H public contract). It returns true iff the trade
// completed as a full Success.
func (e *Executor) Execute(ctx context.Context, opp model.ArbitrageOpportunity, minProfitThreshold decimal.Decimal, strategy model.ExecutionStrategy) bool {
	if ok, reason := e.preflight(opp, minProfitThreshold); !ok {
		e.log.Warn().Str("opportunity_id", opp.ID).Str("reason", reason).Msg("trade aborted in preflight")
		return false
	}

	buyClient, ok := e.clients.Client(opp.BuyExchange)
	if !ok {
		e.log.Error().Str("exchange", opp.BuyExchange).Msg("no client configured for buy exchange")
		return false
	}
	sellClient, ok := e.clients.Client(opp.SellExchange)
	if !ok {
		e.log.Error().Str("exchange", opp.SellExchange).Msg("no client configured for sell exchange")
		return false
	}

	var txn model.Transaction
	var success bool
	switch strategy {
	case model.StrategyConcurrent:
		txn, success = e.runConcurrent(ctx, opp, buyClient, sellClient)
	default:
		txn, success = e.runSequential(ctx, opp, buyClient, sellClient)
	}

	e.record(txn)
	return success
}

// preflight implements §4.H's three ordered checks. Any failure aborts
// without side effects.
func (e *Executor) preflight(opp model.ArbitrageOpportunity, minProfitThreshold decimal.Decimal) (bool, string) {
	if e.safety != nil && e.safety.IsKillSwitchTriggered() {
		return false, "kill-switch triggered"
	}

	snapshots := e.registry.SnapshotsFor(opp.Symbol)
	now := time.Now().UTC()
	for _, ex := range []string{opp.BuyExchange, opp.SellExchange} {
		snap, ok := snapshots[ex]
		if !ok {
			continue
		}
		if snap.Stale(now, stalenessWindow) {
			e.log.Warn().Str("opportunity_id", opp.ID).Msg("Trade aborted: Stale data")
			return false, "stale data"
		}
	}

	buySnap, buyOK := snapshots[opp.BuyExchange]
	sellSnap, sellOK := snapshots[opp.SellExchange]
	if buyOK && sellOK && len(buySnap.Asks) > 0 && len(sellSnap.Bids) > 0 {
		currentSpreadPct := sellSnap.Bids[0].Price.Sub(buySnap.Asks[0].Price).Div(buySnap.Asks[0].Price).Mul(decimal.NewFromInt(100))
		if currentSpreadPct.LessThan(minProfitThreshold) {
			return false, "slippage: spread narrowed below threshold"
		}
	} else {
		e.log.Warn().Str("opportunity_id", opp.ID).Msg("slippage re-check skipped, current prices unavailable")
	}

	return true, ""
}

func legFee(reported, notional decimal.Decimal) decimal.Decimal {
	if reported.GreaterThan(decimal.Zero) {
		return reported
	}
	return notional.Mul(decimal.NewFromFloat(fallbackTakerFeeFraction))
}

func (e *Executor) newTransaction(opp model.ArbitrageOpportunity, strategy model.ExecutionStrategy) model.Transaction {
	return model.Transaction{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         model.TransactionArbitrage,
		Asset:        opp.Symbol,
		Pair:         opp.Symbol,
		BuyExchange:  opp.BuyExchange,
		SellExchange: opp.SellExchange,
		Strategy:     strategy,
	}
}

func (e *Executor) record(txn model.Transaction) {
	select {
	case e.bus.TransactionCh <- txn:
	default:
		e.log.Warn().Str("transaction_id", txn.ID).Msg("transaction dropped, stats consumer saturated")
	}
	if e.bcast != nil {
		e.bcast.BroadcastTransaction(txn)
	}
}

func orderErr(resp model.OrderResponse, err error) string {
	if err != nil {
		return err.Error()
	}
	return resp.ErrorMessage
}
