package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/model"
)

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	assert.True(t, s.IsSandboxMode())
	assert.False(t, s.IsAutoTradeEnabled())
	assert.True(t, s.MinNotionalUSD().Equal(decimal.NewFromFloat(10)))
}

func TestLoadFallsBackToDefaultsOnMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := Load(path, zerolog.Nop())
	assert.True(t, s.IsSandboxMode())
}

func TestSetAutoTradeEnabledPersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	s.SetAutoTradeEnabled(true)
	assert.True(t, s.IsAutoTradeEnabled())

	// no .tmp file left behind after the rename
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.True(t, doc.IsAutoTradeEnabled)
}

func TestReloadRoundTripsMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	s.SetPairThreshold("BTC-USD", decimal.NewFromFloat(0.5))
	s.SetMaxConsecutiveLosses(7)
	s.SetExecutionStrategy(model.StrategyConcurrent)

	reloaded := Load(path, zerolog.Nop())
	th, ok := reloaded.PairThreshold("BTC-USD")
	require.True(t, ok)
	assert.True(t, th.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 7, reloaded.MaxConsecutiveLosses())
	assert.Equal(t, model.StrategyConcurrent, reloaded.ExecutionStrategy())
}

func TestSetPairThresholdZeroClearsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	s.SetPairThreshold("ETH-USD", decimal.NewFromFloat(0.4))
	s.SetPairThreshold("ETH-USD", decimal.Zero)

	_, ok := s.PairThreshold("ETH-USD")
	assert.False(t, ok)
}

func TestTripKillSwitchAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())
	s.SetAutoTradeEnabled(true)

	require.NoError(t, s.TripKillSwitch(context.Background(), "consecutive losses"))
	assert.True(t, s.IsKillSwitchTriggered())
	assert.Equal(t, "consecutive losses", s.KillSwitchReason())
	assert.False(t, s.IsAutoTradeEnabled(), "tripping the kill switch must disable auto-trade")

	s.ResetKillSwitch()
	assert.False(t, s.IsKillSwitchTriggered())
	assert.Equal(t, "", s.KillSwitchReason())
}

func TestAssetForSymbolFallsBackToSplitOnDash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	assert.Equal(t, "BTC", s.AssetForSymbol("BTC-USD"))

	s.SetAssetForSymbol("WBTC-USD", "BTC")
	assert.Equal(t, "BTC", s.AssetForSymbol("WBTC-USD"))
}

func TestWalletOverrideSetAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appstate.json")
	s := Load(path, zerolog.Nop())

	s.SetWalletOverride("BTC", "Coinbase", "bc1qexampleaddress")
	addr, ok := s.WalletOverride("BTC", "Coinbase")
	require.True(t, ok)
	assert.Equal(t, "bc1qexampleaddress", addr)

	s.SetWalletOverride("BTC", "Coinbase", "")
	_, ok = s.WalletOverride("BTC", "Coinbase")
	assert.False(t, ok)
}
