// Package state implements AppState (§4.N): the single process-wide
// document of runtime-mutable operational toggles and limits. It is read
// lock-free-ish (RWMutex.RLock) and written-through to a JSON file on every
// mutation, atomically, so a crash never leaves a torn document behind.
//
// Grounded on the teacher's display.StateManager
// (internal/modules/display/state_manager.go) for the RWMutex-guarded
// in-memory struct shape, and on its deployment.Manager
// (internal/deployment/manager.go, writeStatus) for the
// MarshalIndent-then-WriteFile persistence shape — generalized here to an
// atomic write-to-temp-then-rename so a reader never observes a
// half-written file.
package state

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/broadcast"
	"github.com/arbengine/arbengine/internal/model"
)

// Broadcaster is the narrow slice of broadcast.Hub that AppState pushes
// UI-facing toggle/threshold changes through (§4.N alongside §4.M/§6's
// broadcast topic list). A nil Broadcaster is fine — SetBroadcaster is
// optional, and every call site guards against it, the same "nil means
// skip" pattern server.Config uses for its optional CellExporter.
type Broadcaster interface {
	BroadcastSandboxModeUpdate(enabled bool)
	BroadcastSafetyUpdate(update broadcast.SafetyUpdate)
	BroadcastAutoTradeUpdate(enabled bool)
	BroadcastAutoRebalanceUpdate(enabled bool)
	BroadcastPairThresholdUpdate(update broadcast.PairThresholdUpdate)
	BroadcastWalletUpdate(update broadcast.WalletUpdate)
}

// Document is the durable, JSON-serialized shape of AppState. Field names
// are the public names every consumer-side accessor method reads from.
type Document struct {
	IsSandboxMode             bool                         `json:"isSandboxMode"`
	IsAutoTradeEnabled        bool                         `json:"isAutoTradeEnabled"`
	IsAutoRebalanceEnabled    bool                         `json:"isAutoRebalanceEnabled"`
	MinProfitThreshold        decimal.Decimal              `json:"minProfitThreshold"`
	IsSmartStrategyEnabled    bool                         `json:"isSmartStrategyEnabled"`
	SafeBalanceMultiplier     decimal.Decimal              `json:"safeBalanceMultiplier"`
	UseTakerFees              bool                         `json:"useTakerFees"`
	PairThresholds            map[string]decimal.Decimal   `json:"pairThresholds"`
	MaxDrawdownUSD            decimal.Decimal              `json:"maxDrawdownUsd"`
	MaxConsecutiveLosses      int                          `json:"maxConsecutiveLosses"`
	IsSafetyKillSwitchTrigger bool                         `json:"isSafetyKillSwitchTriggered"`
	KillSwitchReason          string                       `json:"killSwitchReason"`
	MinRebalanceSkewThreshold decimal.Decimal              `json:"minRebalanceSkewThreshold"`
	MinNotionalUSD            decimal.Decimal              `json:"minNotionalUsd"`
	ExecutionStrategy         model.ExecutionStrategy      `json:"executionStrategy"`
	WalletOverrides           map[string]map[string]string `json:"walletOverrides"`
	AssetBySymbol             map[string]string            `json:"assetBySymbol"`
}

// Defaults returns the fallback document used on first boot or when the
// durable file cannot be read (§4.N: "loading failures fall back to
// defaults with a logged error").
func Defaults() Document {
	return Document{
		IsSandboxMode:          true,
		IsAutoTradeEnabled:     false,
		IsAutoRebalanceEnabled: false,
		MinProfitThreshold:     decimal.NewFromFloat(0.3),
		SafeBalanceMultiplier:  decimal.NewFromFloat(1.0),
		PairThresholds:         make(map[string]decimal.Decimal),
		MaxDrawdownUSD:         decimal.NewFromFloat(1000),
		MaxConsecutiveLosses:   5,
		MinRebalanceSkewThreshold: decimal.NewFromFloat(0.10),
		MinNotionalUSD:         decimal.NewFromFloat(10),
		ExecutionStrategy:      model.StrategySequential,
		WalletOverrides:        make(map[string]map[string]string),
		AssetBySymbol:          make(map[string]string),
	}
}

// AppState is the guarded, persisted runtime-state singleton. One instance
// is shared by reference across the process (§5: "Singletons... are
// process-scoped values created at startup and shared by reference").
type AppState struct {
	mu    sync.RWMutex
	doc   Document
	path  string
	log   zerolog.Logger
	bcast Broadcaster
}

// SetBroadcaster wires the Hub AppState pushes toggle/threshold/kill-switch
// changes through. Called once from main after both are constructed.
func (s *AppState) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.bcast = b
	s.mu.Unlock()
}

// Load reads path, falling back to Defaults on any error (missing file,
// unreadable, malformed JSON). The error is logged, not returned, per
// §4.N's "loading failures fall back to defaults with a logged error".
func Load(path string, log zerolog.Logger) *AppState {
	log = log.With().Str("component", "app_state").Logger()
	s := &AppState{path: path, log: log, doc: Defaults()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", path).Msg("failed to read appstate.json, using defaults")
		}
		return s
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to parse appstate.json, using defaults")
		return s
	}
	if doc.PairThresholds == nil {
		doc.PairThresholds = make(map[string]decimal.Decimal)
	}
	if doc.WalletOverrides == nil {
		doc.WalletOverrides = make(map[string]map[string]string)
	}
	if doc.AssetBySymbol == nil {
		doc.AssetBySymbol = make(map[string]string)
	}
	s.doc = doc
	return s
}

// save atomically persists the current document: write to a sibling temp
// file, fsync is skipped (consistent with the teacher's WriteFile-based
// persistence) but the rename is atomic on the same filesystem.
func (s *AppState) save() {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal appstate")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.log.Error().Err(err).Str("path", tmp).Msg("failed to write appstate temp file")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to rename appstate temp file into place")
	}
}

// Snapshot returns a shallow copy of the current document for read-only
// consumers (e.g. the admin server) that want the whole picture at once.
func (s *AppState) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}
