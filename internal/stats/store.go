package stats

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// errConflict signals an optimistic-concurrency version mismatch; callers
// retry via withRetry rather than treating it as a hard failure.
var errConflict = errors.New("stats: version conflict")

func insertEvent(ctx context.Context, db *sql.DB, event model.ArbitrageEvent) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO arbitrage_events
			(id, pair, direction, spread, spread_percent, depth_buy, depth_sell, timestamp, day_of_week, hour)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Pair, event.Direction,
		event.Spread.String(), event.SpreadPercent.String(),
		event.DepthBuy.String(), event.DepthSell.String(),
		event.Timestamp.UnixMilli(), event.DayOfWeek, event.Hour,
	)
	return err
}

func insertTransaction(ctx context.Context, db *sql.DB, txn model.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions
			(id, timestamp, type, asset, pair, amount, buy_exchange, sell_exchange,
			 buy_order_id, sell_order_id, buy_order_status, sell_order_status,
			 recovery_order_id, strategy, buy_cost, sell_proceeds, total_fees,
			 realized_profit, status, is_recovered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.Timestamp.UnixMilli(), string(txn.Type), txn.Asset, txn.Pair,
		txn.Amount.String(), txn.BuyExchange, txn.SellExchange,
		txn.BuyOrderID, txn.SellOrderID, string(txn.BuyOrderStatus), string(txn.SellOrderStatus),
		txn.RecoveryOrderID, string(txn.Strategy), txn.BuyCost.String(), txn.SellProceeds.String(),
		txn.TotalFees.String(), txn.RealizedProfit.String(), string(txn.Status), txn.IsRecovered,
	)
	return err
}

// upsertHeatmapWithRetry applies the §4.I heatmap merge rule:
//
//	avgSpread ← (avg*count + spreadPercent) / (count+1); count++; max ← max(max, spreadPercent)
//
// guarded by the row's version column for optimistic concurrency.
func (e *Engine) upsertHeatmapWithRetry(ctx context.Context, event model.ArbitrageEvent) error {
	id := heatmapID(event)
	return withRetry(ctx, func() error {
		return e.upsertHeatmapOnce(ctx, id, event)
	})
}

func (e *Engine) upsertHeatmapOnce(ctx context.Context, id string, event model.ArbitrageEvent) error {
	tx, err := e.statsDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int64
	var avg, max decimal.Decimal
	var bias string
	var version int64
	row := tx.QueryRowContext(ctx, `SELECT event_count, avg_spread_percent, max_spread_percent, direction_bias, version FROM heatmap_cells WHERE id = ?`, id)
	err = row.Scan(&count, scanDecimal(&avg), scanDecimal(&max), &bias, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		count, avg, max, bias, version = 0, decimal.Zero, decimal.Zero, "", 0
	case err != nil:
		return err
	}

	newCount := count + 1
	newAvg := avg.Mul(decimal.NewFromInt(count)).Add(event.SpreadPercent).Div(decimal.NewFromInt(newCount))
	newMax := max
	if event.SpreadPercent.GreaterThan(newMax) {
		newMax = event.SpreadPercent
	}
	newBias := event.Direction
	// volatility_score here is a last-write cache only; the authoritative
	// value used by the Calendar read surface and StrategyController is
	// computed at read time (countScore needs the max across all hours,
	// which a single-cell write can't see). See volatilityScoreFor in read.go.
	score := volatilityScoreFor(newCount, 1, newAvg, decimal.Zero)

	var res sql.Result
	if version == 0 && count == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO heatmap_cells (id, event_count, avg_spread_percent, max_spread_percent, direction_bias, volatility_score, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO NOTHING`,
			id, newCount, newAvg.String(), newMax.String(), newBias, score)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errConflict
		}
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE heatmap_cells SET event_count=?, avg_spread_percent=?, max_spread_percent=?,
				direction_bias=?, volatility_score=?, version=version+1
			WHERE id=? AND version=?`,
			newCount, newAvg.String(), newMax.String(), newBias, score, id, version)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errConflict
		}
	}
	return tx.Commit()
}

// upsertAggregateWithRetry applies the §4.I aggregate merge rule for one
// category/key row.
func (e *Engine) upsertAggregateWithRetry(ctx context.Context, category model.MetricCategory, key string, event model.ArbitrageEvent) error {
	return withRetry(ctx, func() error {
		return e.upsertAggregateOnce(ctx, category, key, event)
	})
}

func (e *Engine) upsertAggregateOnce(ctx context.Context, category model.MetricCategory, key string, event model.ArbitrageEvent) error {
	id := string(category) + ":" + key
	tx, err := e.statsDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int64
	var sumSpread, maxSpread, sumDepth decimal.Decimal
	var version int64
	row := tx.QueryRowContext(ctx, `SELECT event_count, sum_spread_percent, max_spread_percent, sum_depth, version FROM aggregated_metrics WHERE id = ?`, id)
	err = row.Scan(&count, scanDecimal(&sumSpread), scanDecimal(&maxSpread), scanDecimal(&sumDepth), &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		count, sumSpread, maxSpread, sumDepth, version = 0, decimal.Zero, decimal.Zero, decimal.Zero, 0
	case err != nil:
		return err
	}

	avgDepth := event.DepthBuy.Add(event.DepthSell).Div(decimal.NewFromInt(2))
	newCount := count + 1
	newSumSpread := sumSpread.Add(event.SpreadPercent)
	newSumDepth := sumDepth.Add(avgDepth)
	newMax := maxSpread
	if event.SpreadPercent.GreaterThan(newMax) {
		newMax = event.SpreadPercent
	}
	now := event.Timestamp.UnixMilli()

	var res sql.Result
	if version == 0 && count == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO aggregated_metrics (id, category, key, event_count, sum_spread_percent, max_spread_percent, sum_depth, last_updated, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO NOTHING`,
			id, string(category), key, newCount, newSumSpread.String(), newMax.String(), newSumDepth.String(), now)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errConflict
		}
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE aggregated_metrics SET event_count=?, sum_spread_percent=?, max_spread_percent=?,
				sum_depth=?, last_updated=?, version=version+1
			WHERE id=? AND version=?`,
			newCount, newSumSpread.String(), newMax.String(), newSumDepth.String(), now, id, version)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errConflict
		}
	}
	return tx.Commit()
}

// scanDecimal adapts decimal.Decimal to database/sql's Scan by returning a
// sql.Scanner that parses the column's text (or NULL, as zero) straight into
// dst during Scan.
func scanDecimal(dst *decimal.Decimal) *decimalScanner {
	return &decimalScanner{dst: dst}
}

type decimalScanner struct {
	dst *decimal.Decimal
}

func (s *decimalScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.dst = decimal.Zero
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*s.dst = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*s.dst = d
		return nil
	default:
		return errors.New("stats: unsupported decimal column type")
	}
}
