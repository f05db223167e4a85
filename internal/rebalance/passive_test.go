package rebalance

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/model"
)

type fakeDeviationSource struct {
	m map[string]map[string]model.InventoryDeviation
}

func (f fakeDeviationSource) Deviation(asset, exchangeName string) (model.InventoryDeviation, bool) {
	byExchange, ok := f.m[asset]
	if !ok {
		return model.InventoryDeviation{}, false
	}
	d, ok := byExchange[exchangeName]
	return d, ok
}

type fakePassiveSettings struct {
	autoTrade     bool
	killSwitch    bool
	manualThresh  decimal.Decimal
	skewThreshold decimal.Decimal
	asset         string
}

func (f fakePassiveSettings) IsAutoTradeEnabled() bool                    { return f.autoTrade }
func (f fakePassiveSettings) IsKillSwitchTriggered() bool                 { return f.killSwitch }
func (f fakePassiveSettings) ManualThreshold() decimal.Decimal            { return f.manualThresh }
func (f fakePassiveSettings) MinRebalanceSkewThreshold() decimal.Decimal  { return f.skewThreshold }
func (f fakePassiveSettings) ExecutionStrategy() model.ExecutionStrategy  { return model.StrategySequential }
func (f fakePassiveSettings) AssetForSymbol(symbol string) string         { return f.asset }

type fakeExecutor struct {
	called    bool
	threshold decimal.Decimal
}

func (f *fakeExecutor) Execute(ctx context.Context, opp model.ArbitrageOpportunity, minProfitThreshold decimal.Decimal, strategy model.ExecutionStrategy) bool {
	f.called = true
	f.threshold = minProfitThreshold
	return true
}

func TestPassiveRebalancerDiscountsThresholdWhenBothSidesHelp(t *testing.T) {
	b := bus.New(zerolog.Nop())
	deviations := fakeDeviationSource{m: map[string]map[string]model.InventoryDeviation{
		"BTC": {
			"A": {Deviation: decimal.NewFromFloat(-0.3)}, // buy-exchange: negative
			"B": {Deviation: decimal.NewFromFloat(0.3)},  // sell-exchange: positive
		},
	}}
	settings := fakePassiveSettings{autoTrade: true, manualThresh: decimal.NewFromFloat(0.5), skewThreshold: decimal.NewFromFloat(0.10), asset: "BTC"}
	exec := &fakeExecutor{}
	p := NewPassive(b, deviations, settings, exec)

	opp := model.ArbitrageOpportunity{Symbol: "BTC-USD", BuyExchange: "A", SellExchange: "B", NetProfitPct: decimal.NewFromFloat(0.2)}
	p.consider(context.Background(), opp)

	require.True(t, exec.called)
	// incentive = 0.3 + 0.3 = 0.6; discount = 0.5 - 0.4*0.6 = 0.26
	assert.True(t, exec.threshold.Equal(decimal.NewFromFloat(0.26)), "got %s", exec.threshold)
}

func TestPassiveRebalancerSkipsWhenKillSwitchTripped(t *testing.T) {
	b := bus.New(zerolog.Nop())
	exec := &fakeExecutor{}
	p := NewPassive(b, fakeDeviationSource{}, fakePassiveSettings{autoTrade: true, killSwitch: true}, exec)

	p.consider(context.Background(), model.ArbitrageOpportunity{NetProfitPct: decimal.NewFromFloat(1)})
	assert.False(t, exec.called)
}

func TestPassiveRebalancerSkipsBelowAbsoluteFloor(t *testing.T) {
	b := bus.New(zerolog.Nop())
	exec := &fakeExecutor{}
	p := NewPassive(b, fakeDeviationSource{}, fakePassiveSettings{autoTrade: true}, exec)

	p.consider(context.Background(), model.ArbitrageOpportunity{NetProfitPct: decimal.NewFromFloat(0.005)})
	assert.False(t, exec.called)
}

func TestPassiveRebalancerNoIncentiveUsesUserThreshold(t *testing.T) {
	b := bus.New(zerolog.Nop())
	deviations := fakeDeviationSource{m: map[string]map[string]model.InventoryDeviation{
		"BTC": {"A": {Deviation: decimal.Zero}, "B": {Deviation: decimal.Zero}},
	}}
	settings := fakePassiveSettings{autoTrade: true, manualThresh: decimal.NewFromFloat(0.3), skewThreshold: decimal.NewFromFloat(0.10), asset: "BTC"}
	exec := &fakeExecutor{}
	p := NewPassive(b, deviations, settings, exec)

	opp := model.ArbitrageOpportunity{Symbol: "BTC-USD", BuyExchange: "A", SellExchange: "B", NetProfitPct: decimal.NewFromFloat(0.2)}
	p.consider(context.Background(), opp)

	assert.False(t, exec.called) // 0.2 < userThreshold 0.3, no incentive to discount it
}
