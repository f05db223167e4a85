package stats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
	"github.com/arbengine/arbengine/internal/utils"
)

// bootstrapBatchSize is the §4.J replay batch: "streams events ... in
// batches of 5,000-10,000".
const bootstrapBatchSize = 8000

// bootstrapSaveBatch is the §4.J merge-save batch: "merge-saves in DB
// batches of roughly 500".
const bootstrapSaveBatch = 500

// Bootstrap is StatsBootstrap (§4.J): a one-shot replay of every persisted
// event into fresh in-memory AggregatedMetric/HeatmapCell caches, merged
// into the stats database. Safe to re-run: a bootstrap_watermark row records
// the last (timestamp, id) folded in, so a rerun replays only events after
// it and a rerun with no new events merges nothing.
type Bootstrap struct {
	eventsDB *sql.DB
	statsDB  *sql.DB
	log      zerolog.Logger
}

// NewBootstrap builds a Bootstrap over the events and stats databases.
func NewBootstrap(eventsDB, statsDB *sql.DB, log zerolog.Logger) *Bootstrap {
	return &Bootstrap{eventsDB: eventsDB, statsDB: statsDB, log: log.With().Str("component", "stats_bootstrap").Logger()}
}

type aggregateAccumulator struct {
	count     int64
	sumSpread decimal.Decimal
	maxSpread decimal.Decimal
	sumDepth  decimal.Decimal
}

type heatmapAccumulator struct {
	count int64
	avg   decimal.Decimal
	max   decimal.Decimal
	bias  string
}

// Run streams every arbitrage_events row after the stored watermark,
// ordered (timestamp, id), building
// in-memory aggregate/heatmap caches, and merge-saves them into the stats
// database in batches.
func (b *Bootstrap) Run(ctx context.Context) error {
	timer := utils.NewTimer("stats_bootstrap_replay", b.log)
	defer timer.Stop()

	aggregates := make(map[string]*aggregateAccumulator)
	heatmaps := make(map[string]*heatmapAccumulator)

	lastTimestamp, lastID, err := b.loadWatermark(ctx)
	if err != nil {
		return err
	}
	b.log.Info().Int64("resume_after_timestamp", lastTimestamp).Str("resume_after_id", lastID).Msg("starting replay")

	for {
		rows, err := b.eventsDB.QueryContext(ctx, `
			SELECT id, pair, direction, spread_percent, depth_buy, depth_sell, timestamp, day_of_week, hour
			FROM arbitrage_events
			WHERE (timestamp > ?) OR (timestamp = ? AND id > ?)
			ORDER BY timestamp ASC, id ASC
			LIMIT ?`, lastTimestamp, lastTimestamp, lastID, bootstrapBatchSize)
		if err != nil {
			return err
		}

		n := 0
		for rows.Next() {
			var id, pair, direction, dayOfWeek string
			var spreadPercent, depthBuy, depthSell decimal.Decimal
			var timestamp int64
			var hour int
			if err := rows.Scan(&id, &pair, &direction, scanDecimal(&spreadPercent), scanDecimal(&depthBuy), scanDecimal(&depthSell), &timestamp, &dayOfWeek, &hour); err != nil {
				rows.Close()
				return err
			}
			n++
			lastTimestamp, lastID = timestamp, id

			accumulate(aggregates, heatmaps, pair, direction, dayOfWeek, hour, spreadPercent, depthBuy, depthSell)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if n < bootstrapBatchSize {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if len(aggregates) == 0 && len(heatmaps) == 0 {
		b.log.Info().Msg("no new events since last bootstrap, nothing to merge")
		return nil
	}

	b.log.Info().Int("aggregate_rows", len(aggregates)).Int("heatmap_rows", len(heatmaps)).Msg("replay complete, merge-saving")
	if err := b.save(ctx, aggregates, heatmaps); err != nil {
		return err
	}
	return b.saveWatermark(ctx, lastTimestamp, lastID)
}

func (b *Bootstrap) loadWatermark(ctx context.Context) (int64, string, error) {
	var ts int64
	var id string
	row := b.statsDB.QueryRowContext(ctx, `SELECT last_timestamp, last_event_id FROM bootstrap_watermark WHERE id = 1`)
	err := row.Scan(&ts, &id)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return ts, id, nil
}

func (b *Bootstrap) saveWatermark(ctx context.Context, timestamp int64, eventID string) error {
	_, err := b.statsDB.ExecContext(ctx, `
		INSERT INTO bootstrap_watermark (id, last_timestamp, last_event_id) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_timestamp=excluded.last_timestamp, last_event_id=excluded.last_event_id`,
		timestamp, eventID)
	return err
}

func accumulate(aggregates map[string]*aggregateAccumulator, heatmaps map[string]*heatmapAccumulator, pair, direction, dayOfWeek string, hour int, spreadPercent, depthBuy, depthSell decimal.Decimal) {
	avgDepth := depthBuy.Add(depthSell).Div(decimal.NewFromInt(2))
	hourKey := fmt.Sprintf("%s-%02d", dayOfWeek, hour)

	for _, ck := range []struct {
		category model.MetricCategory
		key      string
	}{
		{model.CategoryPair, pair},
		{model.CategoryHour, hourKey},
		{model.CategoryDay, dayLong(dayOfWeek)},
		{model.CategoryDirection, direction},
		{model.CategoryGlobal, model.GlobalKey},
	} {
		id := string(ck.category) + ":" + ck.key
		a, ok := aggregates[id]
		if !ok {
			a = &aggregateAccumulator{}
			aggregates[id] = a
		}
		a.count++
		a.sumSpread = a.sumSpread.Add(spreadPercent)
		a.sumDepth = a.sumDepth.Add(avgDepth)
		if spreadPercent.GreaterThan(a.maxSpread) {
			a.maxSpread = spreadPercent
		}
	}

	h, ok := heatmaps[hourKey]
	if !ok {
		h = &heatmapAccumulator{}
		heatmaps[hourKey] = h
	}
	h.avg = h.avg.Mul(decimal.NewFromInt(h.count)).Add(spreadPercent).Div(decimal.NewFromInt(h.count + 1))
	h.count++
	if spreadPercent.GreaterThan(h.max) {
		h.max = spreadPercent
	}
	h.bias = direction
}

// save merge-saves the in-memory caches into the stats database in batches
// of bootstrapSaveBatch rows, using summation/max for aggregates and
// weighted-mean merge for heatmap cells (§4.J).
func (b *Bootstrap) save(ctx context.Context, aggregates map[string]*aggregateAccumulator, heatmaps map[string]*heatmapAccumulator) error {
	ids := make([]string, 0, len(aggregates))
	for id := range aggregates {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += bootstrapSaveBatch {
		end := start + bootstrapSaveBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := b.saveAggregateBatch(ctx, ids[start:end], aggregates); err != nil {
			return err
		}
	}

	hourKeys := make([]string, 0, len(heatmaps))
	for k := range heatmaps {
		hourKeys = append(hourKeys, k)
	}
	for start := 0; start < len(hourKeys); start += bootstrapSaveBatch {
		end := start + bootstrapSaveBatch
		if end > len(hourKeys) {
			end = len(hourKeys)
		}
		if err := b.saveHeatmapBatch(ctx, hourKeys[start:end], heatmaps); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrap) saveAggregateBatch(ctx context.Context, ids []string, aggregates map[string]*aggregateAccumulator) error {
	tx, err := b.statsDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		acc := aggregates[id]
		category, key := splitAggregateID(id)

		var existingCount int64
		var existingSum, existingMax, existingDepth decimal.Decimal
		var version int64
		row := tx.QueryRowContext(ctx, `SELECT event_count, sum_spread_percent, max_spread_percent, sum_depth, version FROM aggregated_metrics WHERE id = ?`, id)
		err := row.Scan(&existingCount, scanDecimal(&existingSum), scanDecimal(&existingMax), scanDecimal(&existingDepth), &version)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		mergedCount := existingCount + acc.count
		mergedSum := existingSum.Add(acc.sumSpread)
		mergedDepth := existingDepth.Add(acc.sumDepth)
		mergedMax := existingMax
		if acc.maxSpread.GreaterThan(mergedMax) {
			mergedMax = acc.maxSpread
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aggregated_metrics (id, category, key, event_count, sum_spread_percent, max_spread_percent, sum_depth, last_updated, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				event_count=excluded.event_count,
				sum_spread_percent=excluded.sum_spread_percent,
				max_spread_percent=excluded.max_spread_percent,
				sum_depth=excluded.sum_depth,
				version=aggregated_metrics.version+1`,
			id, string(category), key, mergedCount, mergedSum.String(), mergedMax.String(), mergedDepth.String(), version+1,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func splitAggregateID(id string) (model.MetricCategory, string) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return model.MetricCategory(id[:i]), id[i+1:]
		}
	}
	return "", id
}

func (b *Bootstrap) saveHeatmapBatch(ctx context.Context, hourKeys []string, heatmaps map[string]*heatmapAccumulator) error {
	tx, err := b.statsDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range hourKeys {
		acc := heatmaps[id]

		var existingCount int64
		var existingAvg, existingMax decimal.Decimal
		var version int64
		row := tx.QueryRowContext(ctx, `SELECT event_count, avg_spread_percent, max_spread_percent, version FROM heatmap_cells WHERE id = ?`, id)
		err := row.Scan(&existingCount, scanDecimal(&existingAvg), scanDecimal(&existingMax), &version)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		mergedCount := existingCount + acc.count
		mergedAvg := acc.avg
		if mergedCount > 0 {
			mergedAvg = existingAvg.Mul(decimal.NewFromInt(existingCount)).
				Add(acc.avg.Mul(decimal.NewFromInt(acc.count))).
				Div(decimal.NewFromInt(mergedCount))
		}
		mergedMax := existingMax
		if acc.max.GreaterThan(mergedMax) {
			mergedMax = acc.max
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO heatmap_cells (id, event_count, avg_spread_percent, max_spread_percent, direction_bias, volatility_score, version)
			VALUES (?, ?, ?, ?, ?, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				event_count=excluded.event_count,
				avg_spread_percent=excluded.avg_spread_percent,
				max_spread_percent=excluded.max_spread_percent,
				direction_bias=excluded.direction_bias,
				version=heatmap_cells.version+1`,
			id, mergedCount, mergedAvg.String(), mergedMax.String(), acc.bias, version+1,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
