package stats

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const testEventsSchema = `
CREATE TABLE arbitrage_events (
	id TEXT PRIMARY KEY, pair TEXT NOT NULL, direction TEXT NOT NULL,
	spread TEXT NOT NULL, spread_percent TEXT NOT NULL,
	depth_buy TEXT NOT NULL, depth_sell TEXT NOT NULL,
	timestamp INTEGER NOT NULL, day_of_week TEXT NOT NULL, hour INTEGER NOT NULL
);`

const testStatsSchema = `
CREATE TABLE aggregated_metrics (
	id TEXT PRIMARY KEY, category TEXT NOT NULL, key TEXT NOT NULL,
	event_count INTEGER NOT NULL DEFAULT 0, sum_spread_percent TEXT NOT NULL DEFAULT '0',
	max_spread_percent TEXT NOT NULL DEFAULT '0', sum_depth TEXT NOT NULL DEFAULT '0',
	last_updated INTEGER NOT NULL, version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE heatmap_cells (
	id TEXT PRIMARY KEY, event_count INTEGER NOT NULL DEFAULT 0,
	avg_spread_percent TEXT NOT NULL DEFAULT '0', max_spread_percent TEXT NOT NULL DEFAULT '0',
	direction_bias TEXT NOT NULL DEFAULT '', volatility_score REAL NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE bootstrap_watermark (
	id INTEGER PRIMARY KEY CHECK (id = 1), last_timestamp INTEGER NOT NULL DEFAULT 0,
	last_event_id TEXT NOT NULL DEFAULT ''
);`

const testLedgerSchema = `
CREATE TABLE transactions (
	id TEXT PRIMARY KEY, timestamp INTEGER NOT NULL, type TEXT NOT NULL,
	asset TEXT NOT NULL, pair TEXT NOT NULL, amount TEXT NOT NULL,
	buy_exchange TEXT NOT NULL, sell_exchange TEXT NOT NULL,
	buy_order_id TEXT NOT NULL, sell_order_id TEXT NOT NULL,
	buy_order_status TEXT NOT NULL, sell_order_status TEXT NOT NULL,
	recovery_order_id TEXT, strategy TEXT NOT NULL,
	buy_cost TEXT NOT NULL, sell_proceeds TEXT NOT NULL, total_fees TEXT NOT NULL,
	realized_profit TEXT NOT NULL, status TEXT NOT NULL, is_recovered INTEGER NOT NULL DEFAULT 0
);`

func openTestDB(t *testing.T, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1) // :memory: is per-connection; keep the pool to one
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
