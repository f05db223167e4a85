package safety

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/model"
)

type fakeTransactions struct {
	recent []model.Transaction
	since  []model.Transaction
}

func (f fakeTransactions) RecentTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	if limit >= len(f.recent) {
		return f.recent, nil
	}
	return f.recent[:limit], nil
}

func (f fakeTransactions) TransactionsSince(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	return f.since, nil
}

type fakeSafetySettings struct {
	autoTrade       bool
	killSwitch      bool
	maxLosses       int
	maxDrawdown     decimal.Decimal
	tripped         bool
	trippedReason   string
}

func (f *fakeSafetySettings) IsAutoTradeEnabled() bool         { return f.autoTrade }
func (f *fakeSafetySettings) IsKillSwitchTriggered() bool      { return f.killSwitch }
func (f *fakeSafetySettings) MaxConsecutiveLosses() int        { return f.maxLosses }
func (f *fakeSafetySettings) MaxDrawdownUSD() decimal.Decimal  { return f.maxDrawdown }
func (f *fakeSafetySettings) TripKillSwitch(ctx context.Context, reason string) error {
	f.tripped = true
	f.trippedReason = reason
	return nil
}

func TestCheckTripsOnConsecutiveLosses(t *testing.T) {
	txns := fakeTransactions{recent: []model.Transaction{
		{Status: model.StatusFailed},
		{Status: model.StatusOneSided},
		{Status: model.StatusFailed},
	}}
	settings := &fakeSafetySettings{autoTrade: true, maxLosses: 3}
	m := New(txns, settings, zerolog.Nop())

	require.NoError(t, m.Check(context.Background()))
	assert.True(t, settings.tripped)
	assert.Contains(t, settings.trippedReason, "consecutive loss")
}

func TestCheckDoesNotTripOnMixedOutcomes(t *testing.T) {
	txns := fakeTransactions{recent: []model.Transaction{
		{Status: model.StatusFailed},
		{Status: model.StatusSuccess},
		{Status: model.StatusFailed},
	}}
	settings := &fakeSafetySettings{autoTrade: true, maxLosses: 3}
	m := New(txns, settings, zerolog.Nop())

	require.NoError(t, m.Check(context.Background()))
	assert.False(t, settings.tripped)
}

func TestCheckTripsOnDrawdown(t *testing.T) {
	txns := fakeTransactions{since: []model.Transaction{
		{Status: model.StatusSuccess, RealizedProfit: decimal.NewFromFloat(-600)},
		{Status: model.StatusSuccess, RealizedProfit: decimal.NewFromFloat(-500)},
	}}
	settings := &fakeSafetySettings{autoTrade: true, maxDrawdown: decimal.NewFromFloat(1000)}
	m := New(txns, settings, zerolog.Nop())

	require.NoError(t, m.Check(context.Background()))
	assert.True(t, settings.tripped)
	assert.Contains(t, settings.trippedReason, "drawdown")
}

func TestCheckSkipsWhenAutoTradeDisabled(t *testing.T) {
	settings := &fakeSafetySettings{autoTrade: false, maxLosses: 1}
	m := New(fakeTransactions{}, settings, zerolog.Nop())

	require.NoError(t, m.Check(context.Background()))
	assert.False(t, settings.tripped)
}

func TestCheckSkipsWhenAlreadyTripped(t *testing.T) {
	txns := fakeTransactions{recent: []model.Transaction{{Status: model.StatusFailed}}}
	settings := &fakeSafetySettings{autoTrade: true, killSwitch: true, maxLosses: 1}
	m := New(txns, settings, zerolog.Nop())

	require.NoError(t, m.Check(context.Background()))
	assert.False(t, settings.tripped) // trip not invoked again; already tripped
}
