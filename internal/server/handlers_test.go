package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
	"github.com/arbengine/arbengine/internal/monitoring"
	"github.com/arbengine/arbengine/internal/stats"
)

type fakeState struct {
	sandbox, autoTrade, autoRebalance, smartStrategy, killSwitch bool
	killSwitchReason                                             string
	pairThresholds                                                map[string]decimal.Decimal
	walletOverrides                                                map[string]string
	maxLosses                                                      int
	maxDrawdown                                                    decimal.Decimal
}

func newFakeState() *fakeState {
	return &fakeState{pairThresholds: map[string]decimal.Decimal{}, walletOverrides: map[string]string{}}
}

func (f *fakeState) IsSandboxMode() bool             { return f.sandbox }
func (f *fakeState) SetSandboxMode(v bool)           { f.sandbox = v }
func (f *fakeState) IsAutoTradeEnabled() bool        { return f.autoTrade }
func (f *fakeState) SetAutoTradeEnabled(v bool)      { f.autoTrade = v }
func (f *fakeState) IsAutoRebalanceEnabled() bool    { return f.autoRebalance }
func (f *fakeState) SetAutoRebalanceEnabled(v bool)  { f.autoRebalance = v }
func (f *fakeState) IsSmartStrategyEnabled() bool    { return f.smartStrategy }
func (f *fakeState) SetSmartStrategyEnabled(v bool)  { f.smartStrategy = v }
func (f *fakeState) SetPairThreshold(symbol string, threshold decimal.Decimal) {
	f.pairThresholds[symbol] = threshold
}
func (f *fakeState) SetMaxConsecutiveLosses(n int)             { f.maxLosses = n }
func (f *fakeState) SetMaxDrawdownUSD(d decimal.Decimal)       { f.maxDrawdown = d }
func (f *fakeState) IsKillSwitchTriggered() bool               { return f.killSwitch }
func (f *fakeState) KillSwitchReason() string                  { return f.killSwitchReason }
func (f *fakeState) ResetKillSwitch()                          { f.killSwitch = false; f.killSwitchReason = "" }
func (f *fakeState) SetWalletOverride(asset, exchange, addr string) {
	f.walletOverrides[asset+":"+exchange] = addr
}

type fakeStatsReader struct{}

func (fakeStatsReader) GetStats(ctx context.Context) (stats.Report, error) {
	return stats.Report{}, nil
}

type fakeRebalanceReader struct{ proposals []model.RebalanceProposal }

func (f fakeRebalanceReader) Proposals() []model.RebalanceProposal { return f.proposals }

type fakeHealthReader struct{}

func (fakeHealthReader) Snapshot() monitoring.Health { return monitoring.Health{CPUPercent: 5} }

type fakeExchangeHealthReader struct{ statuses []exchange.ConnectionStatus }

func (f fakeExchangeHealthReader) ProviderStatuses() []exchange.ConnectionStatus { return f.statuses }

func newTestServer(state *fakeState) *Server {
	return New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		State:     state,
		Stats:     fakeStatsReader{},
		Rebalance: fakeRebalanceReader{proposals: []model.RebalanceProposal{{Asset: "BTC"}}},
		Monitor:   fakeHealthReader{},
	})
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(newFakeState())
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpointReportsExchangeStatuses(t *testing.T) {
	s := New(Config{
		Log:       zerolog.Nop(),
		Port:      0,
		State:     newFakeState(),
		Stats:     fakeStatsReader{},
		Rebalance: fakeRebalanceReader{},
		Monitor:   fakeHealthReader{},
		Exchanges: fakeExchangeHealthReader{statuses: []exchange.ConnectionStatus{
			{Name: "Binance", State: exchange.StateConnected},
		}},
	})

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Binance")
}

func TestToggleAutoTrade(t *testing.T) {
	state := newFakeState()
	s := newTestServer(state)

	rec := doRequest(t, s, http.MethodPost, "/api/state/auto-trade", toggleRequest{Enabled: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, state.autoTrade)
}

func TestSetPairThreshold(t *testing.T) {
	state := newFakeState()
	s := newTestServer(state)

	rec := doRequest(t, s, http.MethodPost, "/api/state/pair-threshold", pairThresholdRequest{Symbol: "BTC-USD", Threshold: 0.4})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, state.pairThresholds["BTC-USD"].Equal(decimal.NewFromFloat(0.4)))
}

func TestResetKillSwitch(t *testing.T) {
	state := newFakeState()
	state.killSwitch = true
	state.killSwitchReason = "drawdown"
	s := newTestServer(state)

	rec := doRequest(t, s, http.MethodPost, "/api/state/kill-switch/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, state.killSwitch)
}

func TestRebalanceProposalsEndpoint(t *testing.T) {
	s := newTestServer(newFakeState())
	rec := doRequest(t, s, http.MethodGet, "/api/rebalance/proposals", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTC")
}

func TestExportCellWithoutExporterReturnsServiceUnavailable(t *testing.T) {
	s := newTestServer(newFakeState())
	rec := doRequest(t, s, http.MethodPost, "/api/export/cell", exportCellRequest{DayOfWeek: "Mon", Hour: 10})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
