// Package model defines the core domain types shared across the arbitrage
// engine: trading pairs, order books, opportunities, events, transactions and
// the aggregates derived from them. See §3 of the specification.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair is a semantic (base, quote) identifier, immutable for the life
// of the process. Per-exchange symbol renderings are resolved separately
// (e.g. BTC-USD on Coinbase vs BTCUSDT on Binance).
type TradingPair struct {
	Base  string
	Quote string
}

// String renders the canonical "BASE-QUOTE" form used as map keys and in
// logs; it is not necessarily any one exchange's wire symbol.
func (p TradingPair) String() string {
	return p.Base + "-" + p.Quote
}

// PriceLevel is one (price, quantity) rung of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookSnapshot is a single exchange's view of one symbol's book.
// Owned by its BookProvider; readers must treat it as read-only and obtain
// a fresh reference on every read (atomic.Pointer swap) rather than mutate
// the one they hold.
type OrderBookSnapshot struct {
	Exchange   string
	Symbol     string
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
	LastUpdate time.Time    // UTC
}

// Valid reports whether the inner-spread invariant holds: bids[0].Price <
// asks[0].Price when both sides are non-empty.
func (s *OrderBookSnapshot) Valid() bool {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return true
	}
	return s.Bids[0].Price.LessThan(s.Asks[0].Price)
}

// Stale reports whether the snapshot is older than maxAge relative to now.
func (s *OrderBookSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// OpportunityStatus is the lifecycle state of a detected opportunity as it
// flows through the executor's state machine (§4.H).
type OpportunityStatus string

const (
	StatusReceived  OpportunityStatus = "Received"
	StatusRejected  OpportunityStatus = "Rejected"
	StatusExecuting OpportunityStatus = "Executing"
	StatusSuccess   OpportunityStatus = "Success"
	StatusFailed    OpportunityStatus = "Failed"
	StatusRecovered OpportunityStatus = "Recovered"
	StatusOneSided  OpportunityStatus = "One-Sided Fill (CRITICAL)"
)

// ArbitrageOpportunity is one detection sample, immutable once produced.
type ArbitrageOpportunity struct {
	ID             string
	Symbol         string
	BuyExchange    string
	SellExchange   string
	AvgBuyPrice    decimal.Decimal
	AvgSellPrice   decimal.Decimal
	BuyDepth       decimal.Decimal
	SellDepth      decimal.Decimal
	Volume         decimal.Decimal
	BuyFee         decimal.Decimal // fraction, e.g. 0.001 = 0.1%
	SellFee        decimal.Decimal
	GrossProfitPct decimal.Decimal
	NetProfitPct   decimal.Decimal
	IsSandbox      bool
	Timestamp      time.Time
	Status         OpportunityStatus
}

// ArbitrageEvent is the compact, persisted derivative of an opportunity used
// to drive statistics and the heatmap (§3, §4.I).
type ArbitrageEvent struct {
	ID            string
	Pair          string
	Direction     string // e.g. "B→C"
	Spread        decimal.Decimal // fractional
	SpreadPercent decimal.Decimal
	DepthBuy      decimal.Decimal
	DepthSell     decimal.Decimal
	Timestamp     time.Time // UTC
	DayOfWeek     string    // "Mon".."Sun"
	Hour          int       // 0-23
}

// TransactionType distinguishes arbitrage trades from rebalancing trades.
type TransactionType string

const (
	TransactionArbitrage TransactionType = "Arbitrage"
	TransactionRebalance TransactionType = "Rebalance"
)

// ExecutionStrategy is the leg-dispatch strategy the executor used.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "Sequential"
	StrategyConcurrent ExecutionStrategy = "Concurrent"
)

// Transaction is one attempted trade outcome (§3).
type Transaction struct {
	ID               string
	Timestamp        time.Time // UTC
	Type             TransactionType
	Asset            string
	Pair             string
	Amount           decimal.Decimal
	BuyExchange      string
	SellExchange     string
	BuyOrderID       string
	SellOrderID      string
	BuyOrderStatus   OrderStatus
	SellOrderStatus  OrderStatus
	RecoveryOrderID  string
	Strategy         ExecutionStrategy
	BuyCost          decimal.Decimal
	SellProceeds     decimal.Decimal
	TotalFees        decimal.Decimal
	RealizedProfit   decimal.Decimal
	Status           OpportunityStatus
	IsRecovered      bool
}

// MetricCategory is the keying dimension for AggregatedMetric rows.
type MetricCategory string

const (
	CategoryPair      MetricCategory = "Pair"
	CategoryHour      MetricCategory = "Hour"
	CategoryDay       MetricCategory = "Day"
	CategoryDirection MetricCategory = "Direction"
	CategoryGlobal    MetricCategory = "Global"
)

// GlobalKey is the single row key used for the Global category.
const GlobalKey = "Total"

// AggregatedMetric is a time-independent summary keyed "<category>:<key>",
// updated in place per event (§3, §4.I).
type AggregatedMetric struct {
	Category         MetricCategory
	Key              string
	EventCount       int64
	SumSpreadPercent decimal.Decimal
	MaxSpreadPercent decimal.Decimal
	SumDepth         decimal.Decimal
	LastUpdated      time.Time
	Version          int64 // optimistic-concurrency token
}

// ID renders the row's primary key "<category>:<key>".
func (m AggregatedMetric) ID() string {
	return string(m.Category) + ":" + m.Key
}

// ActivityZone classifies an hour's heatmap cell by volatility score.
type ActivityZone string

const (
	ZoneHighActivity ActivityZone = "high_activity"
	ZoneNormal       ActivityZone = "normal"
	ZoneLowActivity  ActivityZone = "low_activity"
)

// HeatmapCell aggregates events observed in one (dayOfWeek, hour) bucket.
type HeatmapCell struct {
	ID               string // "<DayShort>-<HH>"
	EventCount       int64
	AvgSpreadPercent decimal.Decimal
	MaxSpreadPercent decimal.Decimal
	DirectionBias    string
	VolatilityScore  float64
	Version          int64
}

// Zone classifies the cell using the spec's volatility-score thresholds.
func (c HeatmapCell) Zone() ActivityZone {
	switch {
	case c.VolatilityScore >= 0.7:
		return ZoneHighActivity
	case c.VolatilityScore >= 0.4:
		return ZoneNormal
	default:
		return ZoneLowActivity
	}
}

// Balance is one asset's free balance on one exchange.
type Balance struct {
	Exchange string
	Asset    string
	Free     decimal.Decimal
}

// InventoryDeviation is the §4.K per-asset, per-exchange skew measurement.
type InventoryDeviation struct {
	Asset      string
	Exchange   string
	Deviation  decimal.Decimal // in [-1, 1]
	LegacySkew *decimal.Decimal `json:",omitempty"` // two-exchange legacy reading, nil unless both legacy exchanges present
}
