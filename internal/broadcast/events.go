package broadcast

import (
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// BroadcastOpportunity pushes a newly-detected opportunity (§4.F) to
// ReceiveOpportunity subscribers.
func (h *Hub) BroadcastOpportunity(opp model.ArbitrageOpportunity) {
	h.publish(TopicOpportunity, opp)
}

// BroadcastTransaction pushes a completed or failed transaction (§4.H) to
// ReceiveTransaction subscribers. Satisfies executor.Broadcaster.
func (h *Hub) BroadcastTransaction(txn model.Transaction) {
	h.publish(TopicTransaction, txn)
}

// BroadcastStrategyUpdate pushes a StrategyController threshold change
// (§4.G) to ReceiveStrategyUpdate subscribers.
func (h *Hub) BroadcastStrategyUpdate(update model.StrategyUpdate) {
	h.publish(TopicStrategyUpdate, update)
}

// MarketPriceTick is the payload ReceiveMarketPrices pushes: the latest
// best bid/ask per exchange for one symbol.
type MarketPriceTick struct {
	Symbol   string          `msgpack:"symbol"`
	Exchange string          `msgpack:"exchange"`
	BestBid  decimal.Decimal `msgpack:"bestBid"`
	BestAsk  decimal.Decimal `msgpack:"bestAsk"`
}

// BroadcastMarketPrices pushes a top-of-book tick to ReceiveMarketPrices
// subscribers.
func (h *Hub) BroadcastMarketPrices(tick MarketPriceTick) {
	h.publish(TopicMarketPrices, tick)
}

// BroadcastSandboxModeUpdate pushes the new sandbox-mode flag to
// ReceiveSandboxModeUpdate subscribers.
func (h *Hub) BroadcastSandboxModeUpdate(enabled bool) {
	h.publish(TopicSandboxModeUpdate, enabled)
}

// SafetyUpdate is the payload ReceiveSafetyUpdate pushes: the current
// kill-switch state and why, if tripped.
type SafetyUpdate struct {
	KillSwitchTriggered bool   `msgpack:"killSwitchTriggered"`
	Reason              string `msgpack:"reason"`
}

// BroadcastSafetyUpdate pushes a kill-switch trip or reset (§4.M) to
// ReceiveSafetyUpdate subscribers.
func (h *Hub) BroadcastSafetyUpdate(update SafetyUpdate) {
	h.publish(TopicSafetyUpdate, update)
}

// BroadcastAutoTradeUpdate pushes the new auto-trade flag to
// ReceiveAutoTradeUpdate subscribers.
func (h *Hub) BroadcastAutoTradeUpdate(enabled bool) {
	h.publish(TopicAutoTradeUpdate, enabled)
}

// BroadcastAutoRebalanceUpdate pushes the new auto-rebalance flag to
// ReceiveAutoRebalanceUpdate subscribers.
func (h *Hub) BroadcastAutoRebalanceUpdate(enabled bool) {
	h.publish(TopicAutoRebalanceUpdate, enabled)
}

// PairThresholdUpdate is the payload ReceivePairThresholdUpdate pushes.
type PairThresholdUpdate struct {
	Symbol    string          `msgpack:"symbol"`
	Threshold decimal.Decimal `msgpack:"threshold"`
}

// BroadcastPairThresholdUpdate pushes a per-pair threshold override change
// to ReceivePairThresholdUpdate subscribers.
func (h *Hub) BroadcastPairThresholdUpdate(update PairThresholdUpdate) {
	h.publish(TopicPairThresholdUpdate, update)
}

// BroadcastRebalanceUpdate pushes a RebalancingService proposal (§4.K) to
// ReceiveRebalanceUpdate subscribers.
func (h *Hub) BroadcastRebalanceUpdate(proposal model.RebalanceProposal) {
	h.publish(TopicRebalanceUpdate, proposal)
}

// WalletUpdate is the payload ReceiveWalletUpdate pushes.
type WalletUpdate struct {
	Asset    string `msgpack:"asset"`
	Exchange string `msgpack:"exchange"`
	Address  string `msgpack:"address"`
}

// BroadcastWalletUpdate pushes a deposit-address override change to
// ReceiveWalletUpdate subscribers.
func (h *Hub) BroadcastWalletUpdate(update WalletUpdate) {
	h.publish(TopicWalletUpdate, update)
}
