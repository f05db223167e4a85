package rebalance

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

// absoluteProfitFloor is §4.L's hard gate: an opportunity below this net
// percent is never passively accepted regardless of skew incentive.
var absoluteProfitFloor = decimal.NewFromFloat(0.01)

// discountFloor is §4.K's "max(0.05%, ...)" lower bound on the discounted
// threshold.
var discountFloor = decimal.NewFromFloat(0.05)

// discountRate is §4.K's 0.4%-per-incentive-point discount coefficient.
var discountRate = decimal.NewFromFloat(0.4)

// DeviationSource resolves the current per-asset, per-exchange deviation.
type DeviationSource interface {
	Deviation(asset, exchangeName string) (model.InventoryDeviation, bool)
}

// PassiveSettings exposes the gates and the user's manual threshold.
type PassiveSettings interface {
	IsAutoTradeEnabled() bool
	IsKillSwitchTriggered() bool
	ManualThreshold() decimal.Decimal
	MinRebalanceSkewThreshold() decimal.Decimal
	ExecutionStrategy() model.ExecutionStrategy
	AssetForSymbol(symbol string) string
}

// Executor is the subset of internal/executor.Executor the PassiveRebalancer
// needs: execute one opportunity against a caller-supplied threshold.
type Executor interface {
	Execute(ctx context.Context, opp model.ArbitrageOpportunity, minProfitThreshold decimal.Decimal, strategy model.ExecutionStrategy) bool
}

// PassiveRebalancer is component L (§4.L): it accepts opportunities below
// the standard trade threshold when executing them would also correct
// cross-exchange inventory skew. Grounded on the same channel-consumer loop
// idiom as internal/executor.Run, reusing the Executor it feeds rather than
// duplicating order-placement logic.
type PassiveRebalancer struct {
	bus       *bus.Bus
	deviation DeviationSource
	settings  PassiveSettings
	executor  Executor
}

// NewPassive builds a PassiveRebalancer.
func NewPassive(b *bus.Bus, deviation DeviationSource, settings PassiveSettings, executor Executor) *PassiveRebalancer {
	return &PassiveRebalancer{bus: b, deviation: deviation, settings: settings, executor: executor}
}

// Run consumes bus.PassiveRebalanceCh until ctx is cancelled.
func (p *PassiveRebalancer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-p.bus.PassiveRebalanceCh:
			if !ok {
				return nil
			}
			p.consider(ctx, opp)
		}
	}
}

func (p *PassiveRebalancer) consider(ctx context.Context, opp model.ArbitrageOpportunity) {
	if p.settings.IsKillSwitchTriggered() || !p.settings.IsAutoTradeEnabled() {
		return
	}
	if opp.NetProfitPct.LessThan(absoluteProfitFloor) {
		return
	}

	threshold := p.discountedThreshold(opp)
	if opp.NetProfitPct.LessThan(threshold) {
		return
	}
	p.executor.Execute(ctx, opp, threshold, p.settings.ExecutionStrategy())
}

// discountedThreshold implements §4.K's passive-rebalance discount.
func (p *PassiveRebalancer) discountedThreshold(opp model.ArbitrageOpportunity) decimal.Decimal {
	userThreshold := p.settings.ManualThreshold()
	asset := p.settings.AssetForSymbol(opp.Symbol)

	sellDev, sellOK := p.deviation.Deviation(asset, opp.SellExchange)
	buyDev, buyOK := p.deviation.Deviation(asset, opp.BuyExchange)
	if !sellOK || !buyOK {
		return userThreshold
	}

	t := p.settings.MinRebalanceSkewThreshold()
	incentive := decimal.Zero
	switch {
	case sellDev.Deviation.GreaterThan(t) && buyDev.Deviation.LessThan(t.Neg()):
		incentive = sellDev.Deviation.Add(buyDev.Deviation.Abs())
	case sellDev.Deviation.GreaterThan(t.Mul(decimal.NewFromInt(2))):
		incentive = sellDev.Deviation
	}
	if incentive.IsZero() {
		return userThreshold
	}

	discounted := userThreshold.Sub(discountRate.Mul(incentive))
	if discounted.LessThan(discountFloor) {
		return discountFloor
	}
	return discounted
}
