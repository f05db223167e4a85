package executor

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// maxInFlightPerSymbol bounds concurrent executions of the same symbol to
// avoid self-collision on shared exchange balances (§5: "a typical
// implementation limits to N concurrent executions per symbol").
const maxInFlightPerSymbol = 1

// ThresholdSource resolves the minimum-profit threshold to re-validate
// against during preflight, kept live so a StrategyUpdate is honored
// without restarting the executor loop.
type ThresholdSource interface {
	EffectiveThreshold(symbol string) decimal.Decimal
}

// StrategySource resolves which leg-dispatch strategy to use, allowing
// Sequential/Concurrent to be toggled at runtime (e.g. via AppState).
type StrategySource interface {
	ExecutionStrategy() model.ExecutionStrategy
}

// Run consumes bus.TradeCh until ctx is cancelled, dispatching at most
// maxInFlightPerSymbol executions per symbol concurrently.
func (e *Executor) Run(ctx context.Context, thresholds ThresholdSource, strategies StrategySource) error {
	var mu sync.Mutex
	inFlight := make(map[string]int)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp, ok := <-e.bus.TradeCh:
			if !ok {
				return nil
			}

			mu.Lock()
			if inFlight[opp.Symbol] >= maxInFlightPerSymbol {
				mu.Unlock()
				e.log.Warn().Str("symbol", opp.Symbol).Msg("trade skipped, already executing for this symbol")
				continue
			}
			inFlight[opp.Symbol]++
			mu.Unlock()

			wg.Add(1)
			go func(opp model.ArbitrageOpportunity) {
				defer wg.Done()
				defer func() {
					mu.Lock()
					inFlight[opp.Symbol]--
					mu.Unlock()
				}()
				threshold := thresholds.EffectiveThreshold(opp.Symbol)
				strategy := strategies.ExecutionStrategy()
				e.Execute(ctx, opp, threshold, strategy)
			}(opp)
		}
	}
}
