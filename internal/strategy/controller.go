// Package strategy implements the StrategyController (§4.G): a recurring
// job that recomputes the effective minimum-profit threshold from the
// current hour's heatmap activity and pushes the decision onto
// bus.StrategyUpdateCh, closing the feedback loop with the detector.
package strategy

import (
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

// stabilityScoreDefault is the constant stabilityScore term (§9 open
// question 3). No component derives a stability value from direction
// run-lengths; the stats read surface uses the same 0.5.
const stabilityScoreDefault = 0.5

// HeatmapReader is the slice of StatsEngine's read surface the controller
// needs: the current hour's aggregate, the busiest hour's count (for
// normalizing countScore), and a short trailing series of hourly average
// spreads used only to smooth the logged trend (not the decision itself).
type HeatmapReader interface {
	CurrentHourCell() (cell model.HeatmapCell, maxHourlyCount int64, avgDepth decimal.Decimal, ok bool)
	RecentHourlySpreads() []float64
}

// SettingsReader is the slice of AppState the controller consults.
type SettingsReader interface {
	IsSmartStrategyEnabled() bool
	ManualThreshold() decimal.Decimal
}

// Broadcaster pushes a recomputed threshold decision to the UI (§4.F:
// "...is broadcast to UI"). A nil Broadcaster is fine; Run simply skips the
// push.
type Broadcaster interface {
	BroadcastStrategyUpdate(update model.StrategyUpdate)
}

// Controller is the StrategyController. It implements scheduler.Job so it
// can be registered on a 15-minute cron schedule (§4.G).
type Controller struct {
	bus      *bus.Bus
	heatmap  HeatmapReader
	settings SettingsReader
	bcast    Broadcaster
	log      zerolog.Logger
}

// NewController builds a Controller.
func NewController(b *bus.Bus, heatmap HeatmapReader, settings SettingsReader, bcast Broadcaster, log zerolog.Logger) *Controller {
	return &Controller{
		bus:      b,
		heatmap:  heatmap,
		settings: settings,
		bcast:    bcast,
		log:      log.With().Str("component", "strategy_controller").Logger(),
	}
}

// Name implements scheduler.Job.
func (c *Controller) Name() string { return "strategy_controller_recompute" }

// Run implements scheduler.Job: it computes a decision and pushes it (§4.G).
func (c *Controller) Run() error {
	update := c.Recompute()
	if c.bcast != nil {
		c.bcast.BroadcastStrategyUpdate(update)
	}
	select {
	case c.bus.StrategyUpdateCh <- update:
	default:
		c.log.Warn().Msg("strategy update dropped, detector channel saturated")
	}
	return nil
}

// Recompute implements the decision rule without touching the bus, so tests
// and an explicit-trigger admin endpoint can call it directly.
func (c *Controller) Recompute() model.StrategyUpdate {
	if !c.settings.IsSmartStrategyEnabled() {
		return model.StrategyUpdate{
			MinProfitThreshold: c.settings.ManualThreshold(),
			Reason:             "Manual Mode",
			VolatilityScore:    0,
		}
	}

	score := c.volatilityScore()
	c.logTrend(score)

	switch {
	case score >= 0.7:
		return model.StrategyUpdate{
			MinProfitThreshold: decimal.NewFromFloat(0.05),
			Reason:             "High activity — tightening threshold to capture more opportunities",
			VolatilityScore:    score,
		}
	case score < 0.2:
		return model.StrategyUpdate{
			MinProfitThreshold: decimal.NewFromFloat(0.15),
			Reason:             "Quiet market — widening threshold to avoid marginal trades",
			VolatilityScore:    score,
		}
	default:
		return model.StrategyUpdate{
			MinProfitThreshold: decimal.NewFromFloat(0.10),
			Reason:             "Balanced conditions — default threshold",
			VolatilityScore:    score,
		}
	}
}

func (c *Controller) volatilityScore() float64 {
	cell, maxHourlyCount, avgDepth, ok := c.heatmap.CurrentHourCell()
	if !ok || maxHourlyCount == 0 {
		return 0
	}

	countScore := clamp01(float64(cell.EventCount) / float64(maxHourlyCount))

	avgSpreadFraction := cell.AvgSpreadPercent.Div(decimal.NewFromInt(100))
	spreadScore := clamp01(avgSpreadFraction.Div(decimal.NewFromFloat(0.01)).InexactFloat64())

	depthScore := clamp01(avgDepth.Div(decimal.NewFromInt(1000)).InexactFloat64())

	volatility := 0.4*countScore + 0.3*spreadScore + 0.2*depthScore + 0.1*stabilityScoreDefault
	return clamp01(volatility)
}

// logTrend runs an EMA over the recent hourly-spread series purely as a
// diagnostic signal in the log line; it never feeds the decision rule.
func (c *Controller) logTrend(score float64) {
	series := c.heatmap.RecentHourlySpreads()
	if len(series) < 2 {
		c.log.Info().Float64("volatility_score", score).Msg("recomputed strategy threshold")
		return
	}
	ema := talib.Ema(series, len(series)/2)
	trend := ema[len(ema)-1]
	c.log.Info().Float64("volatility_score", score).Float64("spread_ema", trend).Msg("recomputed strategy threshold")
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
