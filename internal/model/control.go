package model

import "github.com/shopspring/decimal"

// StrategyUpdate is pushed by the StrategyController whenever the effective
// minimum-profit threshold changes (§4.G).
type StrategyUpdate struct {
	MinProfitThreshold decimal.Decimal
	Reason             string
	VolatilityScore    float64
}

// RebalanceProposal is emitted by the RebalancingService when an asset's
// cross-exchange skew exceeds the configured threshold (§4.K).
type RebalanceProposal struct {
	Asset            string
	Amount           decimal.Decimal
	Direction        string // "FromExchange → ToExchange"
	EstimatedFee     decimal.Decimal
	CostPercentage   decimal.Decimal
	IsViable         bool
	TrendDescription string
}
