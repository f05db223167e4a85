package executor

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// runConcurrent implements §4.H's Concurrent strategy: both legs are issued
// in parallel and awaited together (§5: "the executor awaits both legs
// before deciding status").
func (e *Executor) runConcurrent(ctx context.Context, opp model.ArbitrageOpportunity, buyClient, sellClient exchange.Client) (model.Transaction, bool) {
	txn := e.newTransaction(opp, model.StrategyConcurrent)

	var buyResp, sellResp model.OrderResponse
	var buyErr, sellErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyResp, buyErr = buyClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideBuy, model.PriceLevel{Qty: opp.Volume})
	}()
	go func() {
		defer wg.Done()
		sellResp, sellErr = sellClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideSell, model.PriceLevel{Qty: opp.Volume})
	}()
	wg.Wait()

	txn.BuyOrderID = buyResp.OrderID
	txn.BuyOrderStatus = buyResp.Status
	txn.SellOrderID = sellResp.OrderID
	txn.SellOrderStatus = sellResp.Status

	buyOK := buyErr == nil && buyResp.Status.Filled()
	sellOK := sellErr == nil && sellResp.Status.Filled()

	switch {
	case buyOK && sellOK:
		e.fillSuccess(&txn, buyResp, sellResp)
		return txn, true

	case buyOK && !sellOK:
		e.log.Error().Str("opportunity_id", opp.ID).Str("error", orderErr(sellResp, sellErr)).Msg("sell leg failed, recovering buy leg")
		recovery, recErr := buyClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideSell, model.PriceLevel{Qty: buyResp.ExecutedQty})
		return e.concurrentRecoveryOutcome(txn, recovery, recErr)

	case sellOK && !buyOK:
		e.log.Error().Str("opportunity_id", opp.ID).Str("error", orderErr(buyResp, buyErr)).Msg("buy leg failed, recovering sell leg")
		recovery, recErr := sellClient.PlaceMarketOrder(ctx, opp.Symbol, exchange.SideBuy, model.PriceLevel{Qty: sellResp.ExecutedQty})
		return e.concurrentRecoveryOutcome(txn, recovery, recErr)

	default:
		txn.Status = model.StatusFailed
		return txn, false
	}
}

func (e *Executor) concurrentRecoveryOutcome(txn model.Transaction, recovery model.OrderResponse, recErr error) (model.Transaction, bool) {
	txn.Amount = recovery.OriginalQty
	if recErr == nil && recovery.Status == model.OrderFilled {
		txn.RecoveryOrderID = recovery.OrderID
		txn.IsRecovered = true
		txn.Status = model.StatusRecovered
		txn.RealizedProfit = decimal.Zero
		return txn, false
	}
	txn.Status = model.StatusOneSided
	return txn, false
}
