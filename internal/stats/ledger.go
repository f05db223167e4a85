package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/arbengine/arbengine/internal/model"
)

// RecentTransactions implements internal/safety.TransactionSource: the most
// recent limit transactions of any type, newest first.
func (e *Engine) RecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	rows, err := e.ledgerDB.QueryContext(ctx, `
		SELECT id, timestamp, type, asset, pair, amount, buy_exchange, sell_exchange,
			buy_order_id, sell_order_id, buy_order_status, sell_order_status,
			recovery_order_id, strategy, buy_cost, sell_proceeds, total_fees,
			realized_profit, status, is_recovered
		FROM transactions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// TransactionsSince implements internal/safety.TransactionSource: every
// transaction recorded at or after since.
func (e *Engine) TransactionsSince(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	rows, err := e.ledgerDB.QueryContext(ctx, `
		SELECT id, timestamp, type, asset, pair, amount, buy_exchange, sell_exchange,
			buy_order_id, sell_order_id, buy_order_status, sell_order_status,
			recovery_order_id, strategy, buy_cost, sell_proceeds, total_fees,
			realized_profit, status, is_recovered
		FROM transactions WHERE timestamp >= ? ORDER BY timestamp ASC`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var out []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var timestampMillis int64
		var typ, buyStatus, sellStatus, strategy, status string
		var recoveryOrderID sql.NullString
		if err := rows.Scan(
			&txn.ID, &timestampMillis, &typ, &txn.Asset, &txn.Pair,
			scanDecimal(&txn.Amount), &txn.BuyExchange, &txn.SellExchange,
			&txn.BuyOrderID, &txn.SellOrderID, &buyStatus, &sellStatus,
			&recoveryOrderID, &strategy, scanDecimal(&txn.BuyCost), scanDecimal(&txn.SellProceeds),
			scanDecimal(&txn.TotalFees), scanDecimal(&txn.RealizedProfit), &status, &txn.IsRecovered,
		); err != nil {
			return nil, err
		}
		txn.Timestamp = time.UnixMilli(timestampMillis).UTC()
		txn.Type = model.TransactionType(typ)
		txn.BuyOrderStatus = model.OrderStatus(buyStatus)
		txn.SellOrderStatus = model.OrderStatus(sellStatus)
		txn.RecoveryOrderID = recoveryOrderID.String
		txn.Strategy = model.ExecutionStrategy(strategy)
		txn.Status = model.OpportunityStatus(status)
		out = append(out, txn)
	}
	return out, rows.Err()
}
