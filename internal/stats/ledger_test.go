package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/model"
)

func sampleTransaction(id string, ts time.Time, status model.OpportunityStatus, profit float64) model.Transaction {
	return model.Transaction{
		ID:              id,
		Timestamp:       ts,
		Type:            model.TransactionArbitrage,
		Asset:           "BTC-USD",
		Pair:            "BTC-USD",
		Amount:          decimal.NewFromInt(1),
		BuyExchange:     "Binance",
		SellExchange:    "Coinbase",
		BuyOrderID:      "b-" + id,
		SellOrderID:     "s-" + id,
		BuyOrderStatus:  model.OrderFilled,
		SellOrderStatus: model.OrderFilled,
		Strategy:        model.StrategySequential,
		BuyCost:         decimal.NewFromInt(100),
		SellProceeds:    decimal.NewFromInt(100),
		TotalFees:       decimal.Zero,
		RealizedProfit:  decimal.NewFromFloat(profit),
		Status:          status,
	}
}

func TestRecentTransactionsOrdersNewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	require.NoError(t, insertTransaction(ctx, e.ledgerDB, sampleTransaction("t1", base, model.StatusSuccess, 5)))
	require.NoError(t, insertTransaction(ctx, e.ledgerDB, sampleTransaction("t2", base.Add(time.Minute), model.StatusFailed, 0)))

	txns, err := e.RecentTransactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "t2", txns[0].ID)
	assert.Equal(t, "t1", txns[1].ID)
	assert.Equal(t, model.StatusFailed, txns[0].Status)
}

func TestTransactionsSinceExcludesOlder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

	require.NoError(t, insertTransaction(ctx, e.ledgerDB, sampleTransaction("old", base.Add(-48*time.Hour), model.StatusSuccess, 5)))
	require.NoError(t, insertTransaction(ctx, e.ledgerDB, sampleTransaction("new", base, model.StatusSuccess, 10)))

	txns, err := e.TransactionsSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "new", txns[0].ID)
	assert.True(t, txns[0].RealizedProfit.Equal(decimal.NewFromFloat(10)))
}
