// Package rebalance implements RebalancingService (§4.K) and
// PassiveRebalancer (§4.L): cross-exchange inventory-skew measurement and
// the passive-trade discount that lets naturally profitable arbitrage also
// correct that skew.
package rebalance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// withdrawalFeeRate estimates the network/withdrawal cost of a transfer as a
// flat percentage of the moved amount, surfaced on the proposal's
// EstimatedFee field (§4.K) until a live fee quote source exists.
const withdrawalFeeRate = 0.001

// pollInterval is the §4.K balance-poll cadence.
const pollInterval = 60 * time.Second

// defaultMinSkewThreshold is the §4.K default for proposal emission.
var defaultMinSkewThreshold = decimal.NewFromFloat(0.10)

// deviationRounding matches §4.K's "rounded to 4 dp".
const deviationRounding = 4

// legacyExchangeA and legacyExchangeB are the two exchanges the pre-N-way
// deviation formula compared; LegacySkew is only populated when both are
// present in the configured exchange set.
const (
	legacyExchangeA = "Binance"
	legacyExchangeB = "Coinbase"
)

// ClientSource resolves the live exchange.Client for a configured
// exchange name, shared with internal/executor.
type ClientSource interface {
	Client(exchangeName string) (exchange.Client, bool)
}

// SkewSettings exposes the configurable skew threshold, backed by AppState.
type SkewSettings interface {
	MinRebalanceSkewThreshold() decimal.Decimal
}

// WalletSource resolves an operator-configured deposit-address override,
// backed by AppState. A nil WalletSource just means ExecuteRebalance always
// asks the destination exchange for its default deposit address.
type WalletSource interface {
	WalletOverride(asset, exchangeName string) (string, bool)
}

// Broadcaster pushes a freshly computed proposal to the UI (§4.K), replacing
// the raw RebalanceCh the admin surface already reads through Proposals().
type Broadcaster interface {
	BroadcastRebalanceUpdate(proposal model.RebalanceProposal)
}

// Service is the RebalancingService: it polls balances from every
// configured exchange and derives per-asset deviations and proposals.
// Grounded on the teacher's NegativeBalanceRebalancer (per-currency
// shortfall scan against a repository of balances), generalized from a
// single-exchange cash-reserve check to a cross-exchange deviation measure.
type Service struct {
	exchanges []string
	clients   ClientSource
	settings  SkewSettings
	wallets   WalletSource
	bcast     Broadcaster
	log       zerolog.Logger

	mu         sync.RWMutex
	deviations map[string]map[string]model.InventoryDeviation // asset -> exchange -> deviation
	proposals  []model.RebalanceProposal
}

// New builds a Service over the given set of exchange names. wallets and
// bcast may both be nil: ExecuteRebalance falls back to the destination
// exchange's default deposit address, and poll simply skips the UI push.
func New(exchanges []string, clients ClientSource, settings SkewSettings, wallets WalletSource, bcast Broadcaster, log zerolog.Logger) *Service {
	return &Service{
		exchanges:  exchanges,
		clients:    clients,
		settings:   settings,
		wallets:    wallets,
		bcast:      bcast,
		log:        log.With().Str("component", "rebalancing_service").Logger(),
		deviations: make(map[string]map[string]model.InventoryDeviation),
	}
}

// Run polls balances every pollInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	balances := s.fetchAllBalances(ctx)

	s.mu.Lock()
	s.deviations = computeDeviations(balances)
	s.proposals = s.buildProposals(balances, s.deviations)
	proposals := s.proposals
	s.mu.Unlock()

	if s.bcast == nil {
		return
	}
	for _, p := range proposals {
		s.bcast.BroadcastRebalanceUpdate(p)
	}
}

// fetchAllBalances queries every configured exchange in parallel (§4.K:
// "fetch balances from each exchange in parallel").
func (s *Service) fetchAllBalances(ctx context.Context) map[string]map[string]decimal.Decimal {
	type result struct {
		exchangeName string
		balances     []model.Balance
		err          error
	}
	results := make(chan result, len(s.exchanges))

	var wg sync.WaitGroup
	for _, name := range s.exchanges {
		wg.Add(1)
		go func(exchangeName string) {
			defer wg.Done()
			client, ok := s.clients.Client(exchangeName)
			if !ok {
				results <- result{exchangeName: exchangeName, err: exchange.ErrUnknownExchange}
				return
			}
			bals, err := client.Balances(ctx)
			results <- result{exchangeName: exchangeName, balances: bals, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	out := make(map[string]map[string]decimal.Decimal)
	for r := range results {
		if r.err != nil {
			s.log.Error().Err(r.err).Str("exchange", r.exchangeName).Msg("failed to fetch balances")
			continue
		}
		for _, bal := range r.balances {
			if out[bal.Asset] == nil {
				out[bal.Asset] = make(map[string]decimal.Decimal)
			}
			out[bal.Asset][r.exchangeName] = bal.Free
		}
	}
	return out
}

// computeDeviations implements §4.K's per-asset, per-exchange formula:
//
//	dev(a,e) = (bal(a,e) − mean_e bal(a,·)) / total_e bal(a,·)
//
// clamped to [-1,1] and rounded to 4dp. The legacy two-exchange skew field
// is populated only when legacyExchangeA and legacyExchangeB are both
// present for that asset (§9 open question 5).
func computeDeviations(balances map[string]map[string]decimal.Decimal) map[string]map[string]model.InventoryDeviation {
	out := make(map[string]map[string]model.InventoryDeviation, len(balances))
	for asset, byExchange := range balances {
		total := decimal.Zero
		for _, v := range byExchange {
			total = total.Add(v)
		}
		n := decimal.NewFromInt(int64(len(byExchange)))
		if n.IsZero() || total.IsZero() {
			continue
		}
		mean := total.Div(n)

		exchangeNames := make([]string, 0, len(byExchange))
		for name := range byExchange {
			exchangeNames = append(exchangeNames, name)
		}
		sort.Strings(exchangeNames)

		devs := make(map[string]model.InventoryDeviation, len(byExchange))
		for _, name := range exchangeNames {
			dev := byExchange[name].Sub(mean).Div(total).Round(deviationRounding)
			dev = clampDeviation(dev)
			devs[name] = model.InventoryDeviation{Asset: asset, Exchange: name, Deviation: dev}
		}
		if binance, ok := devs[legacyExchangeA]; ok {
			if coinbase, ok := devs[legacyExchangeB]; ok {
				skew := binance.Deviation
				binance.LegacySkew = &skew
				devs[legacyExchangeA] = binance
				negSkew := skew.Neg()
				coinbase.LegacySkew = &negSkew
				devs[legacyExchangeB] = coinbase
			}
		}
		out[asset] = devs
	}
	return out
}

func clampDeviation(d decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	negOne := decimal.NewFromInt(-1)
	if d.GreaterThan(one) {
		return one
	}
	if d.LessThan(negOne) {
		return negOne
	}
	return d
}

// buildProposals emits a proposal for every asset whose maximum absolute
// deviation exceeds the configured threshold (§4.K). The transfer amount is
// sized as half the balance gap between the most over- and under-weighted
// exchange — enough to bring both to the per-asset mean.
func (s *Service) buildProposals(balances map[string]map[string]decimal.Decimal, deviations map[string]map[string]model.InventoryDeviation) []model.RebalanceProposal {
	threshold := defaultMinSkewThreshold
	if s.settings != nil {
		if t := s.settings.MinRebalanceSkewThreshold(); !t.IsZero() {
			threshold = t
		}
	}

	var proposals []model.RebalanceProposal
	for asset, byExchange := range deviations {
		var maxEx, minEx string
		var maxDev, minDev decimal.Decimal
		first := true
		for name, dev := range byExchange {
			if first || dev.Deviation.GreaterThan(maxDev) {
				maxDev, maxEx = dev.Deviation, name
			}
			if first || dev.Deviation.LessThan(minDev) {
				minDev, minEx = dev.Deviation, name
			}
			first = false
		}
		maxAbs := maxDev.Abs()
		if minDev.Abs().GreaterThan(maxAbs) {
			maxAbs = minDev.Abs()
		}
		if maxAbs.LessThanOrEqual(threshold) {
			continue
		}

		amount := balances[asset][maxEx].Sub(balances[asset][minEx]).Div(decimal.NewFromInt(2)).Abs()
		fee := amount.Mul(decimal.NewFromFloat(withdrawalFeeRate))

		proposals = append(proposals, model.RebalanceProposal{
			Asset:            asset,
			Amount:           amount,
			Direction:        maxEx + " → " + minEx,
			EstimatedFee:     fee,
			CostPercentage:   maxAbs,
			IsViable:         maxEx != minEx && amount.IsPositive(),
			TrendDescription: "skew " + maxAbs.String(),
		})
	}
	return proposals
}

// ExecuteRebalance carries out a proposal: it withdraws Amount of Asset from
// the source exchange (named before " → " in Direction) to the destination
// exchange's deposit address, preferring an operator-configured wallet
// override when one exists (§4.K's fourth named capability).
func (s *Service) ExecuteRebalance(ctx context.Context, proposal model.RebalanceProposal) error {
	sourceName, destName, ok := strings.Cut(proposal.Direction, " → ")
	if !ok {
		return fmt.Errorf("rebalance: malformed proposal direction %q", proposal.Direction)
	}

	sourceClient, ok := s.clients.Client(sourceName)
	if !ok {
		return fmt.Errorf("rebalance: %w: %s", exchange.ErrUnknownExchange, sourceName)
	}
	destClient, ok := s.clients.Client(destName)
	if !ok {
		return fmt.Errorf("rebalance: %w: %s", exchange.ErrUnknownExchange, destName)
	}

	address := ""
	if s.wallets != nil {
		if override, found := s.wallets.WalletOverride(proposal.Asset, destName); found {
			address = override
		}
	}
	if address == "" {
		addr, err := destClient.GetDepositAddress(ctx, proposal.Asset)
		if err != nil {
			return fmt.Errorf("rebalance: get deposit address on %s: %w", destName, err)
		}
		address = addr
	}

	withdrawalID, err := sourceClient.Withdraw(ctx, proposal.Asset, proposal.Amount, address)
	if err != nil {
		return fmt.Errorf("rebalance: withdraw from %s: %w", sourceName, err)
	}
	s.log.Info().
		Str("asset", proposal.Asset).
		Str("from", sourceName).
		Str("to", destName).
		Str("amount", proposal.Amount.String()).
		Str("withdrawal_id", withdrawalID).
		Msg("executed rebalance transfer")
	return nil
}

// Deviation returns the current deviation for one asset/exchange pair.
func (s *Service) Deviation(asset, exchangeName string) (model.InventoryDeviation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byExchange, ok := s.deviations[asset]
	if !ok {
		return model.InventoryDeviation{}, false
	}
	dev, ok := byExchange[exchangeName]
	return dev, ok
}

// AllDeviations returns a snapshot of every asset/exchange deviation.
func (s *Service) AllDeviations() map[string]map[string]model.InventoryDeviation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]model.InventoryDeviation, len(s.deviations))
	for asset, byExchange := range s.deviations {
		inner := make(map[string]model.InventoryDeviation, len(byExchange))
		for name, dev := range byExchange {
			inner[name] = dev
		}
		out[asset] = inner
	}
	return out
}

// Proposals returns the most recently computed rebalance proposals.
func (s *Service) Proposals() []model.RebalanceProposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RebalanceProposal(nil), s.proposals...)
}
