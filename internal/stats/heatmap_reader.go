package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// recentSpreadSeriesLen bounds RecentHourlySpreads to the current day's
// cells up to and including the current hour — enough for the
// controller's EMA smoothing without a cross-day join.
const recentSpreadSeriesLen = 24

// CurrentHourCell implements internal/strategy.HeatmapReader: it looks up
// the heatmap_cells row for the current UTC day/hour and the maximum
// event_count across every cell, for the controller's countScore
// normalization (§4.G, §4.I).
func (e *Engine) CurrentHourCell() (model.HeatmapCell, int64, decimal.Decimal, bool) {
	ctx := context.Background()
	now := time.Now().UTC()
	id := fmt.Sprintf("%s-%02d", now.Weekday().String()[:3], now.Hour())

	var count int64
	var avg, max decimal.Decimal
	var bias string
	row := e.statsDB.QueryRowContext(ctx, `
		SELECT event_count, avg_spread_percent, max_spread_percent, direction_bias
		FROM heatmap_cells WHERE id = ?`, id)
	if err := row.Scan(&count, scanDecimal(&avg), scanDecimal(&max), &bias); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			e.log.Warn().Err(err).Str("cell_id", id).Msg("failed to read current hour cell")
		}
		return model.HeatmapCell{}, 0, decimal.Zero, false
	}

	maxHourlyCount, err := e.maxHeatmapCount(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read max heatmap count")
		return model.HeatmapCell{}, 0, decimal.Zero, false
	}

	avgDepth, err := e.avgDepthForKey(ctx, id)
	if err != nil {
		e.log.Warn().Err(err).Str("cell_id", id).Msg("failed to read current hour depth")
		avgDepth = decimal.Zero
	}

	score := volatilityScoreFor(count, maxHourlyCount, avg, avgDepth)
	cell := model.HeatmapCell{
		ID:               id,
		EventCount:       count,
		AvgSpreadPercent: avg,
		MaxSpreadPercent: max,
		DirectionBias:    bias,
		VolatilityScore:  score,
	}
	return cell, maxHourlyCount, avgDepth, true
}

func (e *Engine) maxHeatmapCount(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := e.statsDB.QueryRowContext(ctx, `SELECT MAX(event_count) FROM heatmap_cells`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (e *Engine) avgDepthForKey(ctx context.Context, key string) (decimal.Decimal, error) {
	var count int64
	var sumDepth decimal.Decimal
	row := e.statsDB.QueryRowContext(ctx, `
		SELECT event_count, sum_depth FROM aggregated_metrics WHERE category = ? AND key = ?`,
		string(model.CategoryHour), key)
	if err := row.Scan(&count, scanDecimal(&sumDepth)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if count == 0 {
		return decimal.Zero, nil
	}
	return sumDepth.Div(decimal.NewFromInt(count)), nil
}

// RecentHourlySpreads implements internal/strategy.HeatmapReader: it
// returns today's hourly average-spread series up to the current hour, for
// the controller's purely diagnostic EMA trend line.
func (e *Engine) RecentHourlySpreads() []float64 {
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Weekday().String()[:3]

	rows, err := e.statsDB.QueryContext(ctx, `
		SELECT id, avg_spread_percent FROM heatmap_cells WHERE id LIKE ? AND id <= ? ORDER BY id`,
		day+"-%", fmt.Sprintf("%s-%02d", day, now.Hour()))
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read recent hourly spreads")
		return nil
	}
	defer rows.Close()

	out := make([]float64, 0, recentSpreadSeriesLen)
	for rows.Next() {
		var id string
		var avg decimal.Decimal
		if err := rows.Scan(&id, scanDecimal(&avg)); err != nil {
			e.log.Warn().Err(err).Msg("failed to scan hourly spread row")
			continue
		}
		f, _ := avg.Float64()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		e.log.Warn().Err(err).Msg("failed to iterate hourly spread rows")
	}
	if len(out) > recentSpreadSeriesLen {
		out = out[len(out)-recentSpreadSeriesLen:]
	}
	return out
}
