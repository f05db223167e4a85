// Command arbengine is the cross-exchange arbitrage engine process. It
// wires config, the three SQLite databases, AppState, the bus, one sandbox
// exchange per configured venue, and every domain service, then serves the
// admin API until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/arbitrage"
	"github.com/arbengine/arbengine/internal/broadcast"
	"github.com/arbengine/arbengine/internal/bus"
	"github.com/arbengine/arbengine/internal/clients"
	"github.com/arbengine/arbengine/internal/config"
	"github.com/arbengine/arbengine/internal/database"
	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/exchange/sandbox"
	"github.com/arbengine/arbengine/internal/executor"
	"github.com/arbengine/arbengine/internal/export"
	"github.com/arbengine/arbengine/internal/monitoring"
	"github.com/arbengine/arbengine/internal/rebalance"
	"github.com/arbengine/arbengine/internal/safety"
	"github.com/arbengine/arbengine/internal/scheduler"
	"github.com/arbengine/arbengine/internal/server"
	"github.com/arbengine/arbengine/internal/state"
	"github.com/arbengine/arbengine/internal/stats"
	"github.com/arbengine/arbengine/internal/strategy"
	"github.com/arbengine/arbengine/pkg/logger"
)

// backgroundLoop names one ctx-driven goroutine for shutdown logging.
type backgroundLoop struct {
	name string
	run  func(context.Context) error
}

// pollInterval is how often each sandbox PollingProvider refreshes its book.
const pollInterval = 2 * time.Second

// rateLimitInterval spaces sandbox order/balance calls, matching the
// cadence a real REST venue would enforce.
const rateLimitInterval = 100 * time.Millisecond

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)
	log.Info().Strs("exchanges", cfg.Exchanges).Strs("pairs", cfg.Pairs).Msg("starting arbengine")

	eventsDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "events.db"), Profile: database.ProfileStandard, Name: "events",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open events database")
	}
	defer eventsDB.Close()
	if err := eventsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate events database")
	}

	ledgerDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "ledger.db"), Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate ledger database")
	}

	statsDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "stats.db"), Profile: database.ProfileStandard, Name: "stats",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stats database")
	}
	defer statsDB.Close()
	if err := statsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate stats database")
	}

	appState := state.Load(cfg.AppStatePath(), log)
	if cfg.SandboxOnly {
		appState.SetSandboxMode(true)
	}

	eventBus := bus.New(log)
	bcast := broadcast.New(log)
	healthMonitor := monitoring.New(time.Now())

	midSeed, balanceSeed := seedMarket(cfg.Pairs)

	var providers []exchange.Provider
	var registryClients []exchange.Client
	var rateLimited []*exchange.RateLimitedClient
	for i, exchangeName := range cfg.Exchanges {
		sb := sandbox.New(exchangeName, 0.001, 0.0008, int64(i+1)*time.Now().UnixNano()%1_000_000+1, midSeed, balanceSeed, log)
		providers = append(providers, exchange.NewPollingProvider(exchangeName, cfg.Pairs, pollInterval, sb, eventBus, bcast, log))

		rlc := exchange.NewRateLimitedClient(sb, rateLimitInterval, log)
		rateLimited = append(rateLimited, rlc)
		registryClients = append(registryClients, rlc)
	}
	defer func() {
		for _, rlc := range rateLimited {
			rlc.Stop()
		}
	}()

	exchangeRegistry := exchange.NewRegistry(providers...)
	clientRegistry := clients.NewRegistry(registryClients...)

	appState.SetBroadcaster(bcast)

	calc := arbitrage.NewCalculator(appState.SafeBalanceMultiplier(), appState.UseTakerFees, log)
	detector := arbitrage.NewDetector(eventBus, exchangeRegistry, calc, clientRegistry, appState, bcast, decimal.NewFromFloat(0.3), log)

	statsEngine := stats.New(eventsDB.Conn(), statsDB.Conn(), ledgerDB.Conn(), eventBus, log)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := stats.NewBootstrap(eventsDB.Conn(), statsDB.Conn(), log).Run(bootCtx); err != nil {
		log.Error().Err(err).Msg("stats bootstrap failed, continuing with partial aggregates")
	}
	bootCancel()

	strategyController := strategy.NewController(eventBus, statsEngine, appState, bcast, log)
	exec := executor.New(eventBus, exchangeRegistry, clientRegistry, appState, bcast, log)
	rebalanceService := rebalance.New(cfg.Exchanges, clientRegistry, appState, appState, bcast, log)
	passiveRebalancer := rebalance.NewPassive(eventBus, rebalanceService, appState, exec)
	safetyMonitor := safety.New(statsEngine, appState, log)

	// exporter stays a nil interface (not a typed-nil *export.Exporter) when
	// no bucket is configured, so the admin server's `== nil` check holds.
	var exporter server.CellExporter
	if cfg.ExportBucket != "" {
		if e := buildExporter(cfg.ExportBucket, eventsDB, log); e != nil {
			exporter = e
		}
	}

	sched := scheduler.New(log)
	if err := sched.AddJob("0 */15 * * * *", strategyController); err != nil {
		log.Fatal().Err(err).Msg("failed to register strategy controller")
	}
	if err := sched.AddJob("*/30 * * * * *", safetyMonitor); err != nil {
		log.Fatal().Err(err).Msg("failed to register safety monitor")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		State:     appState,
		Stats:     statsEngine,
		Rebalance: rebalanceService,
		Monitor:   healthMonitor,
		Exchanges: exchangeRegistry,
		Exporter:  exporter,
	})

	ctx, cancel := context.WithCancel(context.Background())

	runLoops := []backgroundLoop{
		{"stats_engine", statsEngine.Run},
		{"arbitrage_detector", detector.Run},
		{"rebalancing_service", rebalanceService.Run},
		{"passive_rebalancer", passiveRebalancer.Run},
	}
	for _, p := range providers {
		runLoops = append(runLoops, backgroundLoop{"provider_" + p.Exchange(), p.Run})
	}
	for _, l := range runLoops {
		l := l
		go func() {
			if err := l.run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Str("loop", l.name).Msg("background loop exited")
			}
		}()
	}

	go func() {
		if err := exec.Run(ctx, detector, appState); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("executor loop exited")
		}
	}()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("admin server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// buildExporter resolves AWS credentials via the default provider chain and
// wires the S3 uploader used by the calendar-cell export endpoint.
func buildExporter(bucket string, eventsDB *database.DB, log zerolog.Logger) *export.Exporter {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("failed to load AWS config, export disabled")
		return nil
	}
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	return export.New(eventsDB.Conn(), uploader, bucket, log)
}

// seedMarket derives a flat starting mid price per pair and a starting
// balance per asset (shared across every sandbox exchange instance) from
// the configured trading pairs.
func seedMarket(pairs []string) (mid map[string]decimal.Decimal, balances map[string]decimal.Decimal) {
	mid = make(map[string]decimal.Decimal, len(pairs))
	balances = make(map[string]decimal.Decimal)
	for _, pair := range pairs {
		base, quote := splitPair(pair)
		mid[pair] = defaultMidPrice(base)
		if _, ok := balances[base]; !ok {
			balances[base] = decimal.NewFromInt(5)
		}
		if _, ok := balances[quote]; !ok {
			balances[quote] = decimal.NewFromInt(250000)
		}
	}
	return mid, balances
}

func splitPair(pair string) (base, quote string) {
	if i := strings.IndexByte(pair, '-'); i >= 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, "USD"
}

func defaultMidPrice(base string) decimal.Decimal {
	switch base {
	case "BTC":
		return decimal.NewFromInt(60000)
	case "ETH":
		return decimal.NewFromInt(3000)
	case "SOL":
		return decimal.NewFromInt(150)
	default:
		return decimal.NewFromInt(100)
	}
}
