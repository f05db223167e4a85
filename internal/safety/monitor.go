// Package safety implements SafetyMonitor (§4.M): a scheduled check that
// trips a process-wide kill-switch when recent trading performance crosses
// a consecutive-loss or 24h-drawdown limit.
package safety

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// checkInterval is §4.M's cadence: "runs every 30s".
const checkInterval = 30 * time.Second

// TransactionSource supplies the recent transaction history the two checks
// need.
type TransactionSource interface {
	RecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	TransactionsSince(ctx context.Context, since time.Time) ([]model.Transaction, error)
}

// Settings exposes the configured limits and the mutation/broadcast hooks
// tripping requires.
type Settings interface {
	IsAutoTradeEnabled() bool
	IsKillSwitchTriggered() bool
	MaxConsecutiveLosses() int
	MaxDrawdownUSD() decimal.Decimal
	TripKillSwitch(ctx context.Context, reason string) error
}

// Monitor is the SafetyMonitor. It implements scheduler.Job so
// cmd/arbengine can register it on a 30s cron schedule alongside
// StrategyController, per §5's "one SafetyMonitor loop" wording.
type Monitor struct {
	transactions TransactionSource
	settings     Settings
	log          zerolog.Logger
}

// New builds a Monitor.
func New(transactions TransactionSource, settings Settings, log zerolog.Logger) *Monitor {
	return &Monitor{transactions: transactions, settings: settings, log: log.With().Str("component", "safety_monitor").Logger()}
}

// Name satisfies scheduler.Job.
func (m *Monitor) Name() string { return "safety_monitor" }

// Run satisfies scheduler.Job: performs one check cycle.
func (m *Monitor) Run() error {
	return m.Check(context.Background())
}

// Interval exposes checkInterval for callers wiring a ticker directly
// instead of going through the cron scheduler.
func (m *Monitor) Interval() time.Duration { return checkInterval }

// Check runs both §4.M checks once. Safe to call directly (e.g. from an
// admin endpoint) as well as on a schedule.
func (m *Monitor) Check(ctx context.Context) error {
	if !m.settings.IsAutoTradeEnabled() || m.settings.IsKillSwitchTriggered() {
		return nil
	}

	if tripped, reason, err := m.checkConsecutiveLosses(ctx); err != nil {
		return err
	} else if tripped {
		return m.trip(ctx, reason)
	}

	if tripped, reason, err := m.checkDrawdown(ctx); err != nil {
		return err
	} else if tripped {
		return m.trip(ctx, reason)
	}

	return nil
}

// checkConsecutiveLosses implements §4.M step 1: "inspect the last
// maxConsecutiveLosses transactions; if all are Failed or Partial, trip."
// "Partial" has no direct model status; a one-sided recovery fill
// (StatusOneSided) is the closest equivalent, since it is the other
// outcome that leaves the books in a loss-making state.
func (m *Monitor) checkConsecutiveLosses(ctx context.Context) (bool, string, error) {
	limit := m.settings.MaxConsecutiveLosses()
	if limit <= 0 {
		return false, "", nil
	}
	txns, err := m.transactions.RecentTransactions(ctx, limit)
	if err != nil {
		return false, "", err
	}
	if len(txns) < limit {
		return false, "", nil
	}
	for _, txn := range txns {
		if txn.Status != model.StatusFailed && txn.Status != model.StatusOneSided {
			return false, "", nil
		}
	}
	return true, "consecutive loss limit reached: last " + strconv.Itoa(limit) + " transactions all failed or one-sided", nil
}

// checkDrawdown implements §4.M step 2: sum profit of successful
// transactions in the last 24h; trip if below -maxDrawdownUsd.
func (m *Monitor) checkDrawdown(ctx context.Context) (bool, string, error) {
	maxDrawdown := m.settings.MaxDrawdownUSD()
	if maxDrawdown.IsZero() {
		return false, "", nil
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	txns, err := m.transactions.TransactionsSince(ctx, since)
	if err != nil {
		return false, "", err
	}

	total := decimal.Zero
	for _, txn := range txns {
		if txn.Status != model.StatusSuccess {
			continue
		}
		total = total.Add(txn.RealizedProfit)
	}

	if total.LessThan(maxDrawdown.Neg()) {
		return true, "24h drawdown " + total.String() + " exceeds limit -" + maxDrawdown.String(), nil
	}
	return false, "", nil
}

func (m *Monitor) trip(ctx context.Context, reason string) error {
	m.log.Error().Str("reason", reason).Msg("tripping safety kill-switch")
	return m.settings.TripKillSwitch(ctx, reason)
}
