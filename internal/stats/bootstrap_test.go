package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrapMergesWithExistingRows(t *testing.T) {
	eventsDB := openTestDB(t, testEventsSchema)
	statsDB := openTestDB(t, testStatsSchema)
	ctx := context.Background()

	// Seed 3 existing aggregate rows representing prior state.
	_, err := statsDB.ExecContext(ctx, `
		INSERT INTO aggregated_metrics (id, category, key, event_count, sum_spread_percent, max_spread_percent, sum_depth, last_updated, version)
		VALUES ('Pair:BTC-USD', 'Pair', 'BTC-USD', 10, '20', '3.5', '1500', 0, 1),
		       ('Hour:Mon-10', 'Hour', 'Mon-10', 5, '10', '2.5', '750', 0, 1),
		       ('Global:Total', 'Global', 'Total', 10, '20', '3.5', '1500', 0, 1)`)
	require.NoError(t, err)
	_, err = statsDB.ExecContext(ctx, `
		INSERT INTO heatmap_cells (id, event_count, avg_spread_percent, max_spread_percent, direction_bias, volatility_score, version)
		VALUES ('Mon-10', 5, '2.0', '2.5', 'A->B', 0, 1)`)
	require.NoError(t, err)

	// Seed 100 historical events, all in the Mon-10 bucket for a predictable merge.
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		_, err := eventsDB.ExecContext(ctx, `
			INSERT INTO arbitrage_events (id, pair, direction, spread, spread_percent, depth_buy, depth_sell, timestamp, day_of_week, hour)
			VALUES (?, 'BTC-USD', 'A->B', '0.01', '1.0', '100', '100', ?, 'Mon', 10)`,
			idFor(i), base.Add(time.Duration(i)*time.Second).UnixMilli())
		require.NoError(t, err)
	}

	b := NewBootstrap(eventsDB, statsDB, testLogger())
	require.NoError(t, b.Run(ctx))

	var count int64
	var sumSpread, maxSpread decimal.Decimal
	row := statsDB.QueryRowContext(ctx, `SELECT event_count, sum_spread_percent, max_spread_percent FROM aggregated_metrics WHERE id = 'Pair:BTC-USD'`)
	require.NoError(t, row.Scan(&count, scanDecimal(&sumSpread), scanDecimal(&maxSpread)))
	assert.EqualValues(t, 110, count) // 10 existing + 100 new
	assert.True(t, sumSpread.Equal(decimal.NewFromFloat(120)), "got %s", sumSpread) // 20 + 100*1.0
	assert.True(t, maxSpread.Equal(decimal.NewFromFloat(3.5)))                      // max(3.5, 1.0)

	var heatmapCount int64
	var heatmapAvg decimal.Decimal
	row = statsDB.QueryRowContext(ctx, `SELECT event_count, avg_spread_percent FROM heatmap_cells WHERE id = 'Mon-10'`)
	require.NoError(t, row.Scan(&heatmapCount, scanDecimal(&heatmapAvg)))
	assert.EqualValues(t, 105, heatmapCount) // 5 existing + 100 new
	// weighted mean: (2.0*5 + 1.0*100) / 105
	expected := decimal.NewFromFloat(2.0).Mul(decimal.NewFromInt(5)).
		Add(decimal.NewFromFloat(1.0).Mul(decimal.NewFromInt(100))).
		Div(decimal.NewFromInt(105))
	assert.True(t, heatmapAvg.Sub(expected).Abs().LessThan(decimal.NewFromFloat(0.0001)), "got %s want %s", heatmapAvg, expected)
}

func TestBootstrapIdempotentOnRerun(t *testing.T) {
	eventsDB := openTestDB(t, testEventsSchema)
	statsDB := openTestDB(t, testStatsSchema)
	ctx := context.Background()

	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_, err := eventsDB.ExecContext(ctx, `
			INSERT INTO arbitrage_events (id, pair, direction, spread, spread_percent, depth_buy, depth_sell, timestamp, day_of_week, hour)
			VALUES (?, 'BTC-USD', 'A->B', '0.01', '1.0', '100', '100', ?, 'Mon', 10)`,
			idFor(i), base.Add(time.Duration(i)*time.Second).UnixMilli())
		require.NoError(t, err)
	}

	b := NewBootstrap(eventsDB, statsDB, testLogger())
	require.NoError(t, b.Run(ctx))
	require.NoError(t, b.Run(ctx)) // re-run against the same, unchanged events table

	var count int64
	row := statsDB.QueryRowContext(ctx, `SELECT event_count FROM aggregated_metrics WHERE id = 'Pair:BTC-USD'`)
	require.NoError(t, row.Scan(&count))
	assert.EqualValues(t, 10, count, "re-running bootstrap with no new events must not double-count")
}

func idFor(i int) string {
	const letters = "0123456789abcdefghijklmnopqrstuvwxyz"
	return "evt-" + string(letters[i%len(letters)]) + string(letters[(i/len(letters))%len(letters)])
}
