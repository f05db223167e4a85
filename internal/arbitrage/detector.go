package arbitrage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// stalenessWindow is the maximum snapshot age the detector will act on
// (§4.F step 2) and the executor re-checks before committing (§4.H step 2).
const stalenessWindow = 500 * time.Millisecond

// recentListCap bounds the UI-facing deduplicated recent-opportunity list
// (§4.F dedup, §9 "simple mutex suffices since the size cap is 100").
const recentListCap = 100

// FeeSource resolves the current maker/taker fee quote for an exchange,
// including any balance-cap inputs (§4.E).
type FeeSource interface {
	Fees(exchangeName string) FeeQuote
}

// StateReader is the slice of AppState the detector consults: sandbox mode,
// the externalized minimum notional (§9 open question), and per-pair
// threshold overrides.
type StateReader interface {
	IsSandboxMode() bool
	MinNotionalUSD() decimal.Decimal
	PairThreshold(symbol string) (decimal.Decimal, bool)
}

// Broadcaster pushes a newly-qualified trade candidate to the UI (§4.F:
// "is broadcast to UI"). A nil Broadcaster is fine; NewDetector accepts nil
// and route simply skips the push.
type Broadcaster interface {
	BroadcastOpportunity(opp model.ArbitrageOpportunity)
}

// Detector is the event-driven ArbitrageDetector (§4.F). It consumes
// bus.MarketUpdate, prices every ordered pair of configured exchanges for
// the updated symbol, emits an ArbitrageEvent on EventCh for every result
// inside the heatmap clamp, and additionally routes the result to TradeCh or
// PassiveRebalanceCh depending on profitability.
type Detector struct {
	bus      *bus.Bus
	registry *exchange.Registry
	calc     *Calculator
	fees     FeeSource
	state    StateReader
	bcast    Broadcaster
	log      zerolog.Logger

	thresholdMu     sync.RWMutex
	globalThreshold decimal.Decimal
	thresholdReason string

	recentMu sync.Mutex
	recent   map[string]model.ArbitrageOpportunity // key: symbol|buyEx|sellEx
	recentOrder []string
}

// NewDetector builds a Detector wired to registry for book snapshots and
// fees for fee quotes, starting with defaultThreshold until the first
// StrategyUpdate arrives.
func NewDetector(b *bus.Bus, registry *exchange.Registry, calc *Calculator, fees FeeSource, state StateReader, bcast Broadcaster, defaultThreshold decimal.Decimal, log zerolog.Logger) *Detector {
	return &Detector{
		bus:             b,
		registry:        registry,
		calc:            calc,
		fees:            fees,
		state:           state,
		bcast:           bcast,
		log:             log.With().Str("component", "arbitrage_detector").Logger(),
		globalThreshold: defaultThreshold,
		thresholdReason: "Balanced conditions (startup default)",
		recent:          make(map[string]model.ArbitrageOpportunity),
	}
}

// Run consumes MarketUpdate and StrategyUpdateCh until ctx is cancelled or
// the bus channels close.
func (d *Detector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case symbol, ok := <-d.bus.MarketUpdate:
			if !ok {
				return nil
			}
			d.handleMarketUpdate(ctx, symbol)
		case update, ok := <-d.bus.StrategyUpdateCh:
			if !ok {
				return nil
			}
			d.applyStrategyUpdate(update)
		}
	}
}

func (d *Detector) applyStrategyUpdate(update model.StrategyUpdate) {
	d.thresholdMu.Lock()
	d.globalThreshold = update.MinProfitThreshold
	d.thresholdReason = update.Reason
	d.thresholdMu.Unlock()
	d.log.Info().Str("reason", update.Reason).Str("threshold", update.MinProfitThreshold.String()).Msg("effective threshold updated")
}

// EffectiveThreshold implements internal/executor.ThresholdSource: the
// executor re-validates against the same per-pair-or-global threshold the
// detector used to originate the trade candidate.
func (d *Detector) EffectiveThreshold(symbol string) decimal.Decimal {
	return d.effectiveThreshold(symbol)
}

func (d *Detector) effectiveThreshold(symbol string) decimal.Decimal {
	if d.state != nil {
		if t, ok := d.state.PairThreshold(symbol); ok {
			return t
		}
	}
	d.thresholdMu.RLock()
	defer d.thresholdMu.RUnlock()
	return d.globalThreshold
}

func (d *Detector) handleMarketUpdate(ctx context.Context, symbol string) {
	snapshots := d.registry.SnapshotsFor(symbol)
	if len(snapshots) < 2 {
		return
	}

	now := time.Now().UTC()
	for ex, snap := range snapshots {
		if snap.Stale(now, stalenessWindow) {
			d.log.Warn().Str("symbol", symbol).Str("exchange", ex).Msg("Stale order book detected")
			return
		}
	}

	exchanges := make([]string, 0, len(snapshots))
	for ex := range snapshots {
		exchanges = append(exchanges, ex)
	}

	sandbox := d.state != nil && d.state.IsSandboxMode()
	threshold := d.effectiveThreshold(symbol)
	minNotional := decimal.NewFromInt(10)
	if d.state != nil {
		minNotional = d.state.MinNotionalUSD()
	}

	for _, buyEx := range exchanges {
		for _, sellEx := range exchanges {
			if buyEx == sellEx {
				continue
			}
			opp, ok := d.calc.Evaluate(snapshots[buyEx], snapshots[sellEx], d.fees.Fees(buyEx), d.fees.Fees(sellEx))
			if !ok {
				continue
			}
			opp.IsSandbox = sandbox
			opp.Timestamp = now
			d.route(ctx, opp, threshold, minNotional, sandbox)
		}
	}
}

func (d *Detector) route(ctx context.Context, opp model.ArbitrageOpportunity, threshold, minNotional decimal.Decimal, sandbox bool) {
	spreadPctFraction := opp.NetProfitPct.Div(decimal.NewFromInt(100))

	if spreadPctFraction.GreaterThan(decimal.NewFromFloat(-0.005)) && spreadPctFraction.LessThanOrEqual(decimal.NewFromFloat(0.10)) {
		event := model.ArbitrageEvent{
			ID:            opp.ID,
			Pair:          opp.Symbol,
			Direction:     firstLetter(opp.BuyExchange) + "→" + firstLetter(opp.SellExchange),
			Spread:        spreadPctFraction,
			SpreadPercent: opp.NetProfitPct,
			DepthBuy:      opp.BuyDepth,
			DepthSell:     opp.SellDepth,
			Timestamp:     opp.Timestamp,
			DayOfWeek:     opp.Timestamp.Weekday().String()[:3],
			Hour:          opp.Timestamp.Hour(),
		}
		select {
		case d.bus.EventCh <- event:
		default:
			d.log.Warn().Str("symbol", opp.Symbol).Msg("event dropped, stats consumer saturated")
		}
	}

	notionalUSD := opp.AvgBuyPrice.Mul(opp.Volume)
	qualifiesNotional := notionalUSD.GreaterThanOrEqual(minNotional) || sandbox
	floor := decimal.Zero
	if sandbox {
		floor = decimal.NewFromFloat(-0.5)
	}

	switch {
	case opp.NetProfitPct.GreaterThanOrEqual(threshold) && qualifiesNotional && opp.NetProfitPct.GreaterThan(floor):
		d.remember(opp)
		if d.bcast != nil {
			d.bcast.BroadcastOpportunity(opp)
		}
		select {
		case d.bus.TradeCh <- opp:
		default:
			d.log.Warn().Str("symbol", opp.Symbol).Msg("trade candidate dropped, executor saturated")
		}
	case opp.NetProfitPct.GreaterThanOrEqual(decimal.NewFromFloat(0.01)):
		select {
		case d.bus.PassiveRebalanceCh <- opp:
		default:
			d.log.Warn().Str("symbol", opp.Symbol).Msg("passive candidate dropped, rebalancer saturated")
		}
	}
}

// remember upserts opp into the deduplicated recent list keyed by
// (symbol, buyEx, sellEx), evicting the oldest entry once the cap is
// reached (§4.F dedup).
func (d *Detector) remember(opp model.ArbitrageOpportunity) {
	key := opp.Symbol + "|" + opp.BuyExchange + "|" + opp.SellExchange
	d.recentMu.Lock()
	defer d.recentMu.Unlock()
	if _, exists := d.recent[key]; !exists {
		if len(d.recentOrder) >= recentListCap {
			oldest := d.recentOrder[0]
			d.recentOrder = d.recentOrder[1:]
			delete(d.recent, oldest)
		}
		d.recentOrder = append(d.recentOrder, key)
	}
	d.recent[key] = opp
}

// Recent returns a snapshot of the deduplicated recent-opportunity list.
func (d *Detector) Recent() []model.ArbitrageOpportunity {
	d.recentMu.Lock()
	defer d.recentMu.Unlock()
	out := make([]model.ArbitrageOpportunity, 0, len(d.recent))
	for _, key := range d.recentOrder {
		out = append(out, d.recent[key])
	}
	return out
}

func firstLetter(exchangeName string) string {
	if exchangeName == "" {
		return ""
	}
	return strings.ToUpper(exchangeName[:1])
}
