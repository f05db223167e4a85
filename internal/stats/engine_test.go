package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()
	eventsDB := openTestDB(t, testEventsSchema)
	statsDB := openTestDB(t, testStatsSchema)
	ledgerDB := openTestDB(t, testLedgerSchema)
	b := bus.New(testLogger())
	return New(eventsDB, statsDB, ledgerDB, b, testLogger()), b
}

func sampleEvent(id string, spreadPercent float64, hour int, day string) model.ArbitrageEvent {
	return model.ArbitrageEvent{
		ID:            id,
		Pair:          "BTC-USD",
		Direction:     "A->B",
		Spread:        decimal.NewFromFloat(spreadPercent / 100),
		SpreadPercent: decimal.NewFromFloat(spreadPercent),
		DepthBuy:      decimal.NewFromInt(100),
		DepthSell:     decimal.NewFromInt(200),
		Timestamp:     time.Date(2026, 1, 5, hour, 0, 0, 0, time.UTC),
		DayOfWeek:     day,
		Hour:          hour,
	}
}

func TestProcessEventPersistsAndAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.ProcessEvent(ctx, sampleEvent("e1", 1.5, 10, "Mon"))
	e.ProcessEvent(ctx, sampleEvent("e2", 2.5, 10, "Mon"))

	report, err := e.GetStats(ctx)
	require.NoError(t, err)

	pair, ok := report.Summary.Pairs["BTC-USD"]
	require.True(t, ok)
	assert.EqualValues(t, 2, pair.Count)
	assert.True(t, pair.AvgSpread.Equal(decimal.NewFromFloat(2.0)), "got %s", pair.AvgSpread)
	assert.True(t, pair.MaxSpread.Equal(decimal.NewFromFloat(2.5)))
}

func TestProcessEventBuildsHeatmapCell(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.ProcessEvent(ctx, sampleEvent("e1", 1.0, 14, "Tue"))
	e.ProcessEvent(ctx, sampleEvent("e2", 3.0, 14, "Tue"))

	var count int64
	var avg decimal.Decimal
	row := e.statsDB.QueryRowContext(ctx, `SELECT event_count, avg_spread_percent FROM heatmap_cells WHERE id = ?`, "Tue-14")
	require.NoError(t, row.Scan(&count, scanDecimal(&avg)))
	assert.EqualValues(t, 2, count)
	assert.True(t, avg.Equal(decimal.NewFromFloat(2.0)))
}

func TestRunConsumesEventChannel(t *testing.T) {
	e, b := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx) //nolint:errcheck

	b.EventCh <- sampleEvent("e1", 1.0, 9, "Wed")

	require.Eventually(t, func() bool {
		var count int64
		row := e.statsDB.QueryRowContext(context.Background(), `SELECT event_count FROM aggregated_metrics WHERE id = ?`, "Pair:BTC-USD")
		return row.Scan(&count) == nil && count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInsertTransactionViaChannel(t *testing.T) {
	e, b := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	b.TransactionCh <- model.Transaction{
		ID:             "t1",
		Timestamp:      time.Now(),
		Type:           model.TransactionArbitrage,
		Pair:           "BTC-USD",
		Status:         model.StatusSuccess,
		RealizedProfit: decimal.NewFromFloat(10),
	}

	require.Eventually(t, func() bool {
		var id string
		row := e.ledgerDB.QueryRowContext(context.Background(), `SELECT id FROM transactions WHERE id = 't1'`)
		return row.Scan(&id) == nil
	}, time.Second, 10*time.Millisecond)
}
