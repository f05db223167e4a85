// Package config provides configuration management for the arbitrage engine.
//
// Configuration is loaded once at startup from environment variables (and an
// optional .env file). Runtime-mutable operational state (toggles, per-pair
// thresholds, the safety kill-switch) lives in AppState (internal/state),
// not here — Config is bootstrap-only and never rewritten after Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/arbengine/arbengine/internal/utils"
)

// Config holds application configuration.
type Config struct {
	DataDir      string   // base directory for databases and appstate.json
	Port         int      // HTTP admin server port
	LogLevel     string   // debug, info, warn, error
	DevMode      bool     // development mode flag
	SandboxOnly  bool     // force sandbox mode regardless of AppState
	Exchanges    []string // configured exchange names, e.g. "binance,coinbase"
	Pairs        []string // configured trading pairs, e.g. "BTC-USD,ETH-USD"
	ExchangeKeys map[string]ExchangeCredentials
	ExportBucket string // optional S3 bucket for calendar-cell export; empty disables it
}

// ExchangeCredentials holds the API key/secret pair for one configured exchange.
type ExchangeCredentials struct {
	APIKey    string
	APISecret string
}

// Load reads configuration from environment variables.
//
// dataDirOverride - optional CLI flag override for data directory (highest priority)
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ARB_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	exchanges := utils.ParseCSV(getEnv("ARB_EXCHANGES", "binance,coinbase"))
	pairs := utils.ParseCSV(getEnv("ARB_PAIRS", "BTC-USD,ETH-USD"))

	creds := make(map[string]ExchangeCredentials, len(exchanges))
	for _, ex := range exchanges {
		upper := strings.ToUpper(ex)
		creds[ex] = ExchangeCredentials{
			APIKey:    getEnv(fmt.Sprintf("ARB_%s_API_KEY", upper), ""),
			APISecret: getEnv(fmt.Sprintf("ARB_%s_API_SECRET", upper), ""),
		}
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("ARB_PORT", 8080),
		LogLevel:     getEnv("ARB_LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("ARB_DEV_MODE", false),
		SandboxOnly:  getEnvAsBool("ARB_SANDBOX_ONLY", true),
		Exchanges:    exchanges,
		Pairs:        pairs,
		ExchangeKeys: creds,
		ExportBucket: getEnv("ARB_EXPORT_S3_BUCKET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants required to boot the engine.
func (c *Config) Validate() error {
	if len(c.Exchanges) < 2 {
		return fmt.Errorf("at least two exchanges must be configured (got %d)", len(c.Exchanges))
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair must be configured")
	}
	return nil
}

// AppStatePath returns the fixed path for the durable AppState JSON document.
func (c *Config) AppStatePath() string {
	return filepath.Join(c.DataDir, "appstate.json")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
