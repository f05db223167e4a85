package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// runSequential implements §4.H's Sequential strategy: leg2's requested
// quantity is leg1's *executed* quantity, observed only after leg1
// completes (single-task happens-before ordering, §5).
func (e *Executor) runSequential(ctx context.Context, opp model.ArbitrageOpportunity, buyClient, sellClient exchange.Client) (model.Transaction, bool) {
	txn := e.newTransaction(opp, model.StrategySequential)

	buyResp, err := buyClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideBuy, model.PriceLevel{Qty: opp.Volume})
	txn.BuyOrderID = buyResp.OrderID
	txn.BuyOrderStatus = buyResp.Status
	if err != nil || !buyResp.Status.Filled() {
		e.log.Warn().Str("opportunity_id", opp.ID).Str("error", orderErr(buyResp, err)).Msg("leg1 buy failed")
		txn.Status = model.StatusFailed
		return txn, false
	}

	sellVolume := buyResp.ExecutedQty
	txn.Amount = sellVolume
	if remainder := opp.Volume.Sub(sellVolume); remainder.IsPositive() {
		e.log.Info().Str("symbol", opp.Symbol).Str("remainder", remainder.String()).Msg("partial fill: unmatched buy-side remainder left as inventory")
	}

	sellResp, err := sellClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideSell, model.PriceLevel{Qty: sellVolume})
	txn.SellOrderID = sellResp.OrderID
	txn.SellOrderStatus = sellResp.Status

	if err == nil && sellResp.Status.Filled() {
		e.fillSuccess(&txn, buyResp, sellResp)
		return txn, true
	}

	e.log.Error().Str("opportunity_id", opp.ID).Str("error", orderErr(sellResp, err)).Msg("leg2 sell failed, attempting recovery")
	recovery, recErr := buyClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideSell, model.PriceLevel{Qty: sellVolume})
	if recErr == nil && recovery.Status == model.OrderFilled {
		txn.RecoveryOrderID = recovery.OrderID
		txn.IsRecovered = true
		txn.Status = model.StatusRecovered
		txn.RealizedProfit = decimal.Zero
		return txn, false
	}

	e.log.Error().Str("opportunity_id", opp.ID).Msg("One-Sided Fill (CRITICAL): recovery failed after leg2 failure")
	txn.Status = model.StatusOneSided
	return txn, false
}

func (e *Executor) fillSuccess(txn *model.Transaction, buyResp, sellResp model.OrderResponse) {
	buyCost := buyResp.AvgPrice.Mul(buyResp.ExecutedQty)
	sellProceeds := sellResp.AvgPrice.Mul(sellResp.ExecutedQty)
	buyFee := legFee(buyResp.Fee, buyCost)
	sellFee := legFee(sellResp.Fee, sellProceeds)
	totalFees := buyFee.Add(sellFee)

	txn.BuyCost = buyCost
	txn.SellProceeds = sellProceeds
	txn.TotalFees = totalFees
	txn.RealizedProfit = sellProceeds.Sub(buyCost).Sub(totalFees)
	txn.Status = model.StatusSuccess
	txn.Amount = sellResp.ExecutedQty
}
