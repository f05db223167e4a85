package state

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/broadcast"
	"github.com/arbengine/arbengine/internal/model"
)

// The methods below satisfy, in aggregate, every consumer-defined settings
// interface in the engine: arbitrage.StateReader, strategy.SettingsReader,
// executor.SafetyReader, executor.StrategySource, rebalance.SkewSettings,
// rebalance.PassiveSettings and safety.Settings. AppState never imports
// those packages itself (it would invert the dependency direction); each
// consumer declares the narrow slice of AppState it needs and AppState
// simply happens to implement all of them.

// IsSandboxMode reports whether trade execution is routed to exchange
// sandbox/testnet clients instead of live ones.
func (s *AppState) IsSandboxMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsSandboxMode
}

// SetSandboxMode toggles sandbox routing and persists the change.
func (s *AppState) SetSandboxMode(enabled bool) {
	s.mu.Lock()
	s.doc.IsSandboxMode = enabled
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastSandboxModeUpdate(enabled)
	}
}

// MinNotionalUSD is the $10 floor (§9 open question 4) below which an
// opportunity is never acted on regardless of spread.
func (s *AppState) MinNotionalUSD() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.MinNotionalUSD
}

// PairThreshold returns a per-pair profit-threshold override, if one has
// been set via the admin surface.
func (s *AppState) PairThreshold(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.doc.PairThresholds[symbol]
	return t, ok
}

// SetPairThreshold sets or clears a per-pair override. A zero threshold
// clears the override rather than storing a zero value.
func (s *AppState) SetPairThreshold(symbol string, threshold decimal.Decimal) {
	s.mu.Lock()
	if threshold.IsZero() {
		delete(s.doc.PairThresholds, symbol)
	} else {
		s.doc.PairThresholds[symbol] = threshold
	}
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastPairThresholdUpdate(broadcast.PairThresholdUpdate{Symbol: symbol, Threshold: threshold})
	}
}

// IsSmartStrategyEnabled reports whether StrategyController is allowed to
// move the effective threshold off the manual value.
func (s *AppState) IsSmartStrategyEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsSmartStrategyEnabled
}

// SetSmartStrategyEnabled toggles smart-strategy mode.
func (s *AppState) SetSmartStrategyEnabled(enabled bool) {
	s.mu.Lock()
	s.doc.IsSmartStrategyEnabled = enabled
	s.save()
	s.mu.Unlock()
}

// ManualThreshold is the user-set minimum-profit percentage used when
// smart strategy is disabled, and as the discount-formula baseline
// otherwise.
func (s *AppState) ManualThreshold() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.MinProfitThreshold
}

// SetManualThreshold updates the manual minimum-profit percentage.
func (s *AppState) SetManualThreshold(threshold decimal.Decimal) {
	s.mu.Lock()
	s.doc.MinProfitThreshold = threshold
	s.save()
	s.mu.Unlock()
}

// IsAutoTradeEnabled reports whether the executor and passive rebalancer
// are allowed to place live orders.
func (s *AppState) IsAutoTradeEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsAutoTradeEnabled
}

// SetAutoTradeEnabled toggles auto-trade.
func (s *AppState) SetAutoTradeEnabled(enabled bool) {
	s.mu.Lock()
	s.doc.IsAutoTradeEnabled = enabled
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastAutoTradeUpdate(enabled)
	}
}

// IsAutoRebalanceEnabled reports whether RebalancingService proposals may
// be acted on automatically rather than only surfaced to an operator.
func (s *AppState) IsAutoRebalanceEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsAutoRebalanceEnabled
}

// SetAutoRebalanceEnabled toggles auto-rebalance.
func (s *AppState) SetAutoRebalanceEnabled(enabled bool) {
	s.mu.Lock()
	s.doc.IsAutoRebalanceEnabled = enabled
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastAutoRebalanceUpdate(enabled)
	}
}

// IsKillSwitchTriggered reports whether SafetyMonitor has halted trading.
func (s *AppState) IsKillSwitchTriggered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsSafetyKillSwitchTrigger
}

// TripKillSwitch sets the kill-switch, disables auto-trade, and records why,
// satisfying safety.Settings. Per §4.M: "set isSafetyKillSwitchTriggered=true,
// persist, disable auto-trade, and broadcast the event." ctx is accepted for
// interface symmetry with other mutating calls; the write itself is
// synchronous and local.
func (s *AppState) TripKillSwitch(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.doc.IsSafetyKillSwitchTrigger = true
	s.doc.KillSwitchReason = reason
	s.doc.IsAutoTradeEnabled = false
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastSafetyUpdate(broadcast.SafetyUpdate{KillSwitchTriggered: true, Reason: reason})
		bcast.BroadcastAutoTradeUpdate(false)
	}
	return nil
}

// ResetKillSwitch clears the kill-switch, typically via an admin endpoint
// after an operator has reviewed the tripped reason.
func (s *AppState) ResetKillSwitch() {
	s.mu.Lock()
	s.doc.IsSafetyKillSwitchTrigger = false
	s.doc.KillSwitchReason = ""
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastSafetyUpdate(broadcast.SafetyUpdate{KillSwitchTriggered: false, Reason: ""})
	}
}

// KillSwitchReason returns why the kill-switch last tripped, empty if it
// has never tripped or has since been reset.
func (s *AppState) KillSwitchReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.KillSwitchReason
}

// MaxConsecutiveLosses is the SafetyMonitor consecutive-loss limit.
func (s *AppState) MaxConsecutiveLosses() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.MaxConsecutiveLosses
}

// SetMaxConsecutiveLosses updates the consecutive-loss limit.
func (s *AppState) SetMaxConsecutiveLosses(n int) {
	s.mu.Lock()
	s.doc.MaxConsecutiveLosses = n
	s.save()
	s.mu.Unlock()
}

// MaxDrawdownUSD is the SafetyMonitor 24h rolling drawdown limit.
func (s *AppState) MaxDrawdownUSD() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.MaxDrawdownUSD
}

// SetMaxDrawdownUSD updates the drawdown limit.
func (s *AppState) SetMaxDrawdownUSD(usd decimal.Decimal) {
	s.mu.Lock()
	s.doc.MaxDrawdownUSD = usd
	s.save()
	s.mu.Unlock()
}

// MinRebalanceSkewThreshold is the deviation above which RebalancingService
// proposes a transfer, and the passive-rebalance discount baseline T.
func (s *AppState) MinRebalanceSkewThreshold() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.MinRebalanceSkewThreshold
}

// SetMinRebalanceSkewThreshold updates the skew threshold.
func (s *AppState) SetMinRebalanceSkewThreshold(threshold decimal.Decimal) {
	s.mu.Lock()
	s.doc.MinRebalanceSkewThreshold = threshold
	s.save()
	s.mu.Unlock()
}

// ExecutionStrategy is the leg-dispatch strategy (Sequential/Concurrent)
// the executor and passive rebalancer use.
func (s *AppState) ExecutionStrategy() model.ExecutionStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ExecutionStrategy
}

// SetExecutionStrategy updates the leg-dispatch strategy.
func (s *AppState) SetExecutionStrategy(strategy model.ExecutionStrategy) {
	s.mu.Lock()
	s.doc.ExecutionStrategy = strategy
	s.save()
	s.mu.Unlock()
}

// UseTakerFees reports whether the fee model should always use taker fees
// (vs. maker/taker blended by order type), per §4.H's runtime toggle.
func (s *AppState) UseTakerFees() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.UseTakerFees
}

// SetUseTakerFees toggles the fee model.
func (s *AppState) SetUseTakerFees(use bool) {
	s.mu.Lock()
	s.doc.UseTakerFees = use
	s.save()
	s.mu.Unlock()
}

// SafeBalanceMultiplier scales down the balance the executor is willing to
// use per trade, leaving headroom against price movement between quote and
// fill.
func (s *AppState) SafeBalanceMultiplier() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.SafeBalanceMultiplier
}

// SetSafeBalanceMultiplier updates the balance-usage multiplier.
func (s *AppState) SetSafeBalanceMultiplier(multiplier decimal.Decimal) {
	s.mu.Lock()
	s.doc.SafeBalanceMultiplier = multiplier
	s.save()
	s.mu.Unlock()
}

// AssetForSymbol maps a trading-pair symbol (e.g. "BTC-USD") to the base
// asset ("BTC") the RebalancingService tracks deviations for. Falls back
// to an admin-configured override map, then to a best-effort split on the
// first "-".
func (s *AppState) AssetForSymbol(symbol string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if asset, ok := s.doc.AssetBySymbol[symbol]; ok {
		return asset
	}
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i]
		}
	}
	return symbol
}

// SetAssetForSymbol records an explicit symbol-to-asset mapping override.
func (s *AppState) SetAssetForSymbol(symbol, asset string) {
	s.mu.Lock()
	s.doc.AssetBySymbol[symbol] = asset
	s.save()
	s.mu.Unlock()
}

// WalletOverride returns the operator-configured deposit address for an
// asset on a given exchange, used by the admin surface to steer
// RebalancingService transfer instructions away from default addresses.
func (s *AppState) WalletOverride(asset, exchangeName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byExchange, ok := s.doc.WalletOverrides[asset]
	if !ok {
		return "", false
	}
	addr, ok := byExchange[exchangeName]
	return addr, ok
}

// SetWalletOverride sets or clears a deposit-address override. An empty
// address clears the entry.
func (s *AppState) SetWalletOverride(asset, exchangeName, address string) {
	s.mu.Lock()
	if address == "" {
		if byExchange, ok := s.doc.WalletOverrides[asset]; ok {
			delete(byExchange, exchangeName)
		}
	} else {
		byExchange, ok := s.doc.WalletOverrides[asset]
		if !ok {
			byExchange = make(map[string]string)
			s.doc.WalletOverrides[asset] = byExchange
		}
		byExchange[exchangeName] = address
	}
	s.save()
	bcast := s.bcast
	s.mu.Unlock()
	if bcast != nil {
		bcast.BroadcastWalletUpdate(broadcast.WalletUpdate{Asset: asset, Exchange: exchangeName, Address: address})
	}
}
