package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
	"github.com/arbengine/arbengine/internal/monitoring"
	"github.com/arbengine/arbengine/internal/stats"
)

// errExportDisabled is returned when the server was built without an
// Exporter (e.g. no S3 bucket configured).
var errExportDisabled = errors.New("server: export not configured")

// StateHandlers is the slice of AppState the admin surface mutates and
// reads. Implemented by *state.AppState.
type StateHandlers interface {
	IsSandboxMode() bool
	SetSandboxMode(bool)
	IsAutoTradeEnabled() bool
	SetAutoTradeEnabled(bool)
	IsAutoRebalanceEnabled() bool
	SetAutoRebalanceEnabled(bool)
	IsSmartStrategyEnabled() bool
	SetSmartStrategyEnabled(bool)
	SetPairThreshold(symbol string, threshold decimal.Decimal)
	SetMaxConsecutiveLosses(int)
	SetMaxDrawdownUSD(decimal.Decimal)
	IsKillSwitchTriggered() bool
	KillSwitchReason() string
	ResetKillSwitch()
	SetWalletOverride(asset, exchangeName, address string)
}

// StatsReader exposes StatsEngine's read-side report.
type StatsReader interface {
	GetStats(ctx context.Context) (stats.Report, error)
}

// RebalanceReader exposes RebalancingService's last-computed proposals.
type RebalanceReader interface {
	Proposals() []model.RebalanceProposal
}

// HealthReader exposes a process-health snapshot.
type HealthReader interface {
	Snapshot() monitoring.Health
}

// ExchangeHealthReader exposes every configured BookProvider's connection
// health (§4.B's getConnectionStatus), surfaced on /health alongside the
// process-health snapshot. A nil ExchangeHealthReader is fine; the health
// endpoint just omits the field.
type ExchangeHealthReader interface {
	ProviderStatuses() []exchange.ConnectionStatus
}

// CellExporter exposes the zipped-export operation for one calendar cell.
type CellExporter interface {
	ExportCell(ctx context.Context, dayOfWeek string, hour int) (string, error)
}

type handlers struct {
	state     StateHandlers
	stats     StatsReader
	rebalance RebalanceReader
	monitor   HealthReader
	exchanges ExchangeHealthReader
	exporter  CellExporter
	log       zerolog.Logger
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := monitoring.Health{}
	if h.monitor != nil {
		health = h.monitor.Snapshot()
	}
	var exchanges []exchange.ConnectionStatus
	if h.exchanges != nil {
		exchanges = h.exchanges.ProviderStatuses()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"killSwitchTriggered": h.state.IsKillSwitchTriggered(),
		"health":              health,
		"exchanges":           exchanges,
	})
}

func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.stats.GetStats(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *handlers) handleRebalanceProposals(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.rebalance.Proposals())
}

func (h *handlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"isSandboxMode":          h.state.IsSandboxMode(),
		"isAutoTradeEnabled":     h.state.IsAutoTradeEnabled(),
		"isAutoRebalanceEnabled": h.state.IsAutoRebalanceEnabled(),
		"isSmartStrategyEnabled": h.state.IsSmartStrategyEnabled(),
		"killSwitchTriggered":    h.state.IsKillSwitchTriggered(),
		"killSwitchReason":       h.state.KillSwitchReason(),
	})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *handlers) decodeToggle(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return false, false
	}
	return req.Enabled, true
}

func (h *handlers) handleToggleSandbox(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	h.state.SetSandboxMode(enabled)
	h.writeJSON(w, http.StatusOK, map[string]bool{"isSandboxMode": enabled})
}

func (h *handlers) handleToggleAutoTrade(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	h.state.SetAutoTradeEnabled(enabled)
	h.writeJSON(w, http.StatusOK, map[string]bool{"isAutoTradeEnabled": enabled})
}

func (h *handlers) handleToggleAutoRebalance(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	h.state.SetAutoRebalanceEnabled(enabled)
	h.writeJSON(w, http.StatusOK, map[string]bool{"isAutoRebalanceEnabled": enabled})
}

func (h *handlers) handleToggleSmartStrategy(w http.ResponseWriter, r *http.Request) {
	enabled, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	h.state.SetSmartStrategyEnabled(enabled)
	h.writeJSON(w, http.StatusOK, map[string]bool{"isSmartStrategyEnabled": enabled})
}

type pairThresholdRequest struct {
	Symbol    string  `json:"symbol"`
	Threshold float64 `json:"threshold"`
}

func (h *handlers) handleSetPairThreshold(w http.ResponseWriter, r *http.Request) {
	var req pairThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.state.SetPairThreshold(req.Symbol, decimal.NewFromFloat(req.Threshold))
	h.writeJSON(w, http.StatusOK, map[string]string{"symbol": req.Symbol})
}

type safetyLimitsRequest struct {
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses"`
	MaxDrawdownUSD       float64 `json:"maxDrawdownUsd"`
}

func (h *handlers) handleSetSafetyLimits(w http.ResponseWriter, r *http.Request) {
	var req safetyLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.state.SetMaxConsecutiveLosses(req.MaxConsecutiveLosses)
	h.state.SetMaxDrawdownUSD(decimal.NewFromFloat(req.MaxDrawdownUSD))
	h.writeJSON(w, http.StatusOK, req)
}

func (h *handlers) handleResetKillSwitch(w http.ResponseWriter, r *http.Request) {
	h.state.ResetKillSwitch()
	h.writeJSON(w, http.StatusOK, map[string]bool{"killSwitchTriggered": false})
}

type walletOverrideRequest struct {
	Asset    string `json:"asset"`
	Exchange string `json:"exchange"`
	Address  string `json:"address"`
}

func (h *handlers) handleSetWalletOverride(w http.ResponseWriter, r *http.Request) {
	var req walletOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.state.SetWalletOverride(req.Asset, req.Exchange, req.Address)
	h.writeJSON(w, http.StatusOK, req)
}

type exportCellRequest struct {
	DayOfWeek string `json:"dayOfWeek"`
	Hour      int    `json:"hour"`
}

func (h *handlers) handleExportCell(w http.ResponseWriter, r *http.Request) {
	var req exportCellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if h.exporter == nil {
		h.writeError(w, http.StatusServiceUnavailable, errExportDisabled)
		return
	}
	key, err := h.exporter.ExportCell(r.Context(), req.DayOfWeek, req.Hour)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"key": key})
}
