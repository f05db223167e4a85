package stats

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/arbengine/arbengine/internal/model"
)

// PairStat is the per-pair row of Report.Summary.Pairs.
type PairStat struct {
	Count     int64
	AvgSpread decimal.Decimal // percent
	MaxSpread decimal.Decimal // percent
}

// DirectionStat is the per-direction row of Report.Summary.DirectionDistribution.
type DirectionStat struct {
	Count int64
}

// CalendarCell is the read-time detail for one (day, hour) heatmap bucket,
// with volatilityScore recomputed against the current maxHourlyCount (§4.I).
type CalendarCell struct {
	EventCount      int64
	AvgSpreadPercent decimal.Decimal
	MaxSpreadPercent decimal.Decimal
	DirectionBias    string
	VolatilityScore  float64
	Zone             model.ActivityZone
}

// Summary groups the category rollups exposed by getStats.
type Summary struct {
	Pairs                 map[string]PairStat
	Hours                 map[int]PairStat
	Days                  map[string]PairStat
	DirectionDistribution map[string]DirectionStat
}

// Report is the full getStats read surface (§4.I).
type Report struct {
	Summary             Summary
	Calendar            map[string]map[int]CalendarCell
	AvgSeriesDuration    float64
	TotalRealizedProfit  decimal.Decimal
	SuccessRate          float64
	ProfitabilityRate    float64
}

// recentEventsForSeries bounds how many of the most recent events are
// scanned to compute AvgSeriesDuration (§4.I: "recent 500-1000 events").
const recentEventsForSeries = 1000

// GetStats assembles the full read surface over the stats/events/ledger
// databases.
func (e *Engine) GetStats(ctx context.Context) (Report, error) {
	pairs, err := e.rollupByCategory(ctx, model.CategoryPair)
	if err != nil {
		return Report{}, err
	}
	hourRows, err := e.rollupByCategory(ctx, model.CategoryHour)
	if err != nil {
		return Report{}, err
	}
	days, err := e.rollupByCategory(ctx, model.CategoryDay)
	if err != nil {
		return Report{}, err
	}
	directions, err := e.rollupDirections(ctx)
	if err != nil {
		return Report{}, err
	}

	hours := make(map[int]PairStat, len(hourRows))
	for key, stat := range hourRows {
		h, err := hourFromKey(key)
		if err != nil {
			continue
		}
		hours[h] = stat
	}

	calendar, err := e.buildCalendar(ctx)
	if err != nil {
		return Report{}, err
	}

	avgSeriesDuration, err := e.avgSeriesDuration(ctx)
	if err != nil {
		return Report{}, err
	}

	totalProfit, successRate, profitabilityRate, err := e.profitSummary(ctx)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Summary: Summary{
			Pairs:                 pairs,
			Hours:                 hours,
			Days:                  toPairStatByDayName(days),
			DirectionDistribution: directions,
		},
		Calendar:            calendar,
		AvgSeriesDuration:   avgSeriesDuration,
		TotalRealizedProfit: totalProfit,
		SuccessRate:         successRate,
		ProfitabilityRate:   profitabilityRate,
	}, nil
}

func toPairStatByDayName(m map[string]PairStat) map[string]PairStat { return m }

func hourFromKey(key string) (int, error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 {
		return 0, errConflict
	}
	return strconv.Atoi(parts[1])
}

func (e *Engine) rollupByCategory(ctx context.Context, category model.MetricCategory) (map[string]PairStat, error) {
	rows, err := e.statsDB.QueryContext(ctx, `
		SELECT key, event_count, sum_spread_percent, max_spread_percent
		FROM aggregated_metrics WHERE category = ?`, string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]PairStat)
	for rows.Next() {
		var key string
		var count int64
		var sumSpread, maxSpread decimal.Decimal
		if err := rows.Scan(&key, &count, scanDecimal(&sumSpread), scanDecimal(&maxSpread)); err != nil {
			return nil, err
		}
		avg := decimal.Zero
		if count > 0 {
			avg = sumSpread.Div(decimal.NewFromInt(count))
		}
		out[key] = PairStat{Count: count, AvgSpread: avg, MaxSpread: maxSpread}
	}
	return out, rows.Err()
}

func (e *Engine) rollupDirections(ctx context.Context) (map[string]DirectionStat, error) {
	byKey, err := e.rollupByCategory(ctx, model.CategoryDirection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]DirectionStat, len(byKey))
	for k, v := range byKey {
		out[k] = DirectionStat{Count: v.Count}
	}
	return out, nil
}

// buildCalendar joins heatmap_cells with the matching Hour aggregate (for
// depth) and recomputes volatilityScore with the true maxHourlyCount (§4.I).
func (e *Engine) buildCalendar(ctx context.Context) (map[string]map[int]CalendarCell, error) {
	rows, err := e.statsDB.QueryContext(ctx, `SELECT id, event_count, avg_spread_percent, max_spread_percent, direction_bias FROM heatmap_cells`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type raw struct {
		id               string
		day              string
		hour             int
		count            int64
		avg, max         decimal.Decimal
		bias             string
	}
	var cells []raw
	var maxHourlyCount int64
	for rows.Next() {
		var id, bias string
		var count int64
		var avg, max decimal.Decimal
		if err := rows.Scan(&id, &count, scanDecimal(&avg), scanDecimal(&max), &bias); err != nil {
			return nil, err
		}
		day, hour, err := splitHeatmapID(id)
		if err != nil {
			continue
		}
		if count > maxHourlyCount {
			maxHourlyCount = count
		}
		cells = append(cells, raw{id: id, day: day, hour: hour, count: count, avg: avg, max: max, bias: bias})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	depthByHourKey, err := e.rollupByCategory(ctx, model.CategoryHour)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]decimal.Decimal, len(depthByHourKey))
	rawDepthRows, err := e.statsDB.QueryContext(ctx, `SELECT key, event_count, sum_depth FROM aggregated_metrics WHERE category = ?`, string(model.CategoryHour))
	if err != nil {
		return nil, err
	}
	defer rawDepthRows.Close()
	for rawDepthRows.Next() {
		var key string
		var count int64
		var sumDepth decimal.Decimal
		if err := rawDepthRows.Scan(&key, &count, scanDecimal(&sumDepth)); err != nil {
			return nil, err
		}
		avgDepth := decimal.Zero
		if count > 0 {
			avgDepth = sumDepth.Div(decimal.NewFromInt(count))
		}
		depth[key] = avgDepth
	}
	if err := rawDepthRows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]map[int]CalendarCell)
	for _, c := range cells {
		avgDepth := depth[c.id]
		score := volatilityScoreFor(c.count, maxHourlyCount, c.avg, avgDepth)
		cell := CalendarCell{
			EventCount:       c.count,
			AvgSpreadPercent: c.avg,
			MaxSpreadPercent: c.max,
			DirectionBias:    c.bias,
			VolatilityScore:  score,
			Zone:             model.HeatmapCell{VolatilityScore: score}.Zone(),
		}
		if out[c.day] == nil {
			out[c.day] = make(map[int]CalendarCell)
		}
		out[c.day][c.hour] = cell
	}
	return out, nil
}

func splitHeatmapID(id string) (day string, hour int, err error) {
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		return "", 0, errConflict
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, err
	}
	return parts[0], h, nil
}

// volatilityScoreFor implements §4.I's weighted-sum formula:
// 0.4·countScore + 0.3·spreadScore + 0.2·depthScore + 0.1·stabilityScore.
func volatilityScoreFor(count, maxHourlyCount int64, avgSpreadPercent, avgDepth decimal.Decimal) float64 {
	countScore := 0.0
	if maxHourlyCount > 0 {
		countScore = float64(count) / float64(maxHourlyCount)
	}
	spreadScore := avgSpreadPercent.Div(decimal.NewFromInt(100)).Div(decimal.NewFromFloat(0.01))
	if spreadScore.GreaterThan(decimal.NewFromInt(1)) {
		spreadScore = decimal.NewFromInt(1)
	}
	depthScore := avgDepth.Div(decimal.NewFromInt(1000))
	if depthScore.GreaterThan(decimal.NewFromInt(1)) {
		depthScore = decimal.NewFromInt(1)
	}
	const stabilityScoreDefault = 0.5 // §9 open question: see internal/strategy.controller.go
	spreadF, _ := spreadScore.Float64()
	depthF, _ := depthScore.Float64()
	return clamp01(0.4*countScore + 0.3*spreadF + 0.2*depthF + 0.1*stabilityScoreDefault)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// avgSeriesDuration scans the most recent events in time order and returns
// the mean run-length of consecutive equal-direction events (§4.I).
func (e *Engine) avgSeriesDuration(ctx context.Context) (float64, error) {
	rows, err := e.eventsDB.QueryContext(ctx, `
		SELECT direction FROM arbitrage_events ORDER BY timestamp DESC, id DESC LIMIT ?`, recentEventsForSeries)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var directions []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return 0, err
		}
		directions = append(directions, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(directions) == 0 {
		return 0, nil
	}

	// Events were read most-recent-first; walk oldest-first to count runs
	// in chronological order.
	for i, j := 0, len(directions)-1; i < j; i, j = i+1, j-1 {
		directions[i], directions[j] = directions[j], directions[i]
	}

	var runLengths []float64
	runLen := 1
	for i := 1; i < len(directions); i++ {
		if directions[i] == directions[i-1] {
			runLen++
			continue
		}
		runLengths = append(runLengths, float64(runLen))
		runLen = 1
	}
	runLengths = append(runLengths, float64(runLen))

	return stat.Mean(runLengths, nil), nil
}

// profitSummary computes TotalRealizedProfit, SuccessRate and
// ProfitabilityRate over Arbitrage-typed transactions (§4.I).
func (e *Engine) profitSummary(ctx context.Context) (decimal.Decimal, float64, float64, error) {
	rows, err := e.ledgerDB.QueryContext(ctx, `
		SELECT status, realized_profit FROM transactions WHERE type = ?`, string(model.TransactionArbitrage))
	if err != nil {
		return decimal.Zero, 0, 0, err
	}
	defer rows.Close()

	total := decimal.Zero
	var n, successes, profitable int64
	for rows.Next() {
		var status string
		var profit decimal.Decimal
		if err := rows.Scan(&status, scanDecimal(&profit)); err != nil {
			return decimal.Zero, 0, 0, err
		}
		n++
		total = total.Add(profit)
		if model.OpportunityStatus(status) == model.StatusSuccess || model.OpportunityStatus(status) == model.StatusRecovered {
			successes++
		}
		if profit.IsPositive() {
			profitable++
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, 0, err
	}
	if n == 0 {
		return total, 0, 0, nil
	}
	return total, float64(successes) / float64(n), float64(profitable) / float64(n), nil
}

var _ sql.Scanner = (*decimalScanner)(nil)
