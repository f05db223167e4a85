// Package arbitrage computes and detects cross-exchange opportunities from
// the latest order books (§4.E, §4.F).
package arbitrage

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// decimalPlaces is the rounding precision applied to computed volumes (§4.E
// step 2: "rounded to 8 decimals").
const decimalPlaces = 8

// noiseFloor discards opportunities whose net percent is below this floor;
// it is not a trading threshold, only a sanity clamp on pathological input
// (§4.E step 7).
var noiseFloor = decimal.NewFromInt(-1)

// FeeQuote carries one exchange's maker/taker fee fractions and, optionally,
// its available balance for volume-capping (§4.E step 2).
type FeeQuote struct {
	MakerFee       float64
	TakerFee       float64
	AvailableQuote decimal.Decimal // for the buy side; zero/unset = uncapped
	AvailableBase  decimal.Decimal // for the sell side; zero/unset = uncapped
}

func (f FeeQuote) fee(useTaker bool) decimal.Decimal {
	if useTaker {
		return decimal.NewFromFloat(f.TakerFee)
	}
	return decimal.NewFromFloat(f.MakerFee)
}

// Calculator prices the arbitrage available between a buy-side and a
// sell-side order book (§4.E). The detector drives it once per ordered pair
// of configured exchanges.
type Calculator struct {
	safeBalanceMultiplier decimal.Decimal
	useTakerFees          func() bool
	log                   zerolog.Logger
}

// NewCalculator builds a Calculator. useTakerFees is read on every call so
// the caller can flip AppState.UseTakerFees at runtime without rebuilding
// the calculator.
func NewCalculator(safeBalanceMultiplier decimal.Decimal, useTakerFees func() bool, log zerolog.Logger) *Calculator {
	return &Calculator{
		safeBalanceMultiplier: safeBalanceMultiplier,
		useTakerFees:          useTakerFees,
		log:                   log.With().Str("component", "arbitrage_calculator").Logger(),
	}
}

func totalLiquidity(levels []model.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Qty)
	}
	return total
}

// walkVolume consumes price levels up to volume total quantity, returning
// the total notional spent/received and the volume actually filled (which
// may be less than requested if the book runs out of depth).
func walkVolume(levels []model.PriceLevel, volume decimal.Decimal) (notional, filled decimal.Decimal) {
	remaining := volume
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(lvl.Qty, remaining)
		notional = notional.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	return notional, filled
}

// balanceCappedVolume applies the safe-balance cap from §4.E step 2:
// safeBalanceMultiplier × min(quoteBalance/buyPrice, baseBalance).
func (c *Calculator) balanceCappedVolume(buyPrice decimal.Decimal, buyFee, sellFee FeeQuote) (decimal.Decimal, bool) {
	capped := false
	limit := decimal.NewFromInt(1 << 32) // effectively unbounded sentinel
	if !buyFee.AvailableQuote.IsZero() {
		byQuote := buyFee.AvailableQuote.Div(buyPrice)
		limit = decimal.Min(limit, byQuote)
		capped = true
	}
	if !sellFee.AvailableBase.IsZero() {
		limit = decimal.Min(limit, sellFee.AvailableBase)
		capped = true
	}
	if !capped {
		return decimal.Zero, false
	}
	return limit.Mul(c.safeBalanceMultiplier), true
}

// Evaluate prices buying on buyBook's exchange and selling on sellBook's
// exchange, following §4.E's walk-the-book algorithm.
func (c *Calculator) Evaluate(buyBook, sellBook model.OrderBookSnapshot, buyFee, sellFee FeeQuote) (model.ArbitrageOpportunity, bool) {
	if len(buyBook.Asks) == 0 || len(sellBook.Bids) == 0 {
		return model.ArbitrageOpportunity{}, false
	}
	if buyBook.Exchange == sellBook.Exchange {
		return model.ArbitrageOpportunity{}, false
	}

	maxVolume := decimal.Min(totalLiquidity(buyBook.Asks), totalLiquidity(sellBook.Bids))
	if cap, ok := c.balanceCappedVolume(buyBook.Asks[0].Price, buyFee, sellFee); ok {
		maxVolume = decimal.Min(maxVolume, cap)
	}
	maxVolume = maxVolume.Round(decimalPlaces)
	if maxVolume.LessThanOrEqual(decimal.Zero) {
		return model.ArbitrageOpportunity{}, false
	}

	buyCost, filled := walkVolume(buyBook.Asks, maxVolume)
	if filled.IsZero() {
		return model.ArbitrageOpportunity{}, false
	}
	avgBuyPrice := buyCost.Div(filled)

	sellProceeds, sellFilled := walkVolume(sellBook.Bids, filled)
	if sellFilled.IsZero() {
		return model.ArbitrageOpportunity{}, false
	}
	avgSellPrice := sellProceeds.Div(sellFilled)
	if sellFilled.LessThan(filled) {
		filled = sellFilled
	}

	useTaker := c.useTakerFees == nil || c.useTakerFees()
	buyFeePct := buyFee.fee(useTaker).Mul(decimal.NewFromInt(100))
	sellFeePct := sellFee.fee(useTaker).Mul(decimal.NewFromInt(100))

	grossPct := avgSellPrice.Sub(avgBuyPrice).Div(avgBuyPrice).Mul(decimal.NewFromInt(100))
	netPct := grossPct.Sub(buyFeePct).Sub(sellFeePct)

	if netPct.LessThan(noiseFloor) {
		return model.ArbitrageOpportunity{}, false
	}

	return model.ArbitrageOpportunity{
		ID:             uuid.NewString(),
		Symbol:         buyBook.Symbol,
		BuyExchange:    buyBook.Exchange,
		SellExchange:   sellBook.Exchange,
		AvgBuyPrice:    avgBuyPrice,
		AvgSellPrice:   avgSellPrice,
		BuyDepth:       totalLiquidity(buyBook.Asks),
		SellDepth:      totalLiquidity(sellBook.Bids),
		Volume:         filled,
		BuyFee:         buyFee.fee(useTaker),
		SellFee:        sellFee.fee(useTaker),
		GrossProfitPct: grossPct,
		NetProfitPct:   netPct,
		Status:         model.StatusReceived,
	}, true
}
