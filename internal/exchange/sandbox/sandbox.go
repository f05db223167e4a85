// Package sandbox implements SandboxState (§4.D): a fully in-memory
// simulated exchange used whenever AppState.SandboxMode is true, or
// Config.SandboxOnly forces it regardless of AppState. It implements both
// exchange.Fetcher (to feed a PollingProvider from a synthetic book) and
// exchange.Client (to simulate order placement against that book).
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

// State is the mutable simulated market and ledger for one exchange
// identity. Every mutation is guarded by mu so it is safe to drive
// concurrently from a polling loop and from order placement (§4.D, §5).
type State struct {
	mu sync.Mutex

	exchangeName string
	takerFee     float64
	makerFee     float64
	mode         bool // true = sandbox routing (starts true; SetMode records the flag but nothing reads it)
	rng          *rand.Rand
	log          zerolog.Logger

	mid      map[string]decimal.Decimal // symbol -> current mid price
	spreadBp decimal.Decimal            // synthetic spread, in basis points
	depth    decimal.Decimal            // synthetic top-of-book quantity

	balances map[string]decimal.Decimal // asset -> free balance
	orders   map[string]model.OrderResponse

	forceFillRatio *decimal.Decimal // scripted fill ratio for the next order, nil = fill in full
}

// New creates a sandbox exchange seeded with startingBalances and a flat
// starting mid price for every symbol.
func New(exchangeName string, takerFee, makerFee float64, seed int64, startMid map[string]decimal.Decimal, startingBalances map[string]decimal.Decimal, log zerolog.Logger) *State {
	mid := make(map[string]decimal.Decimal, len(startMid))
	for k, v := range startMid {
		mid[k] = v
	}
	bal := make(map[string]decimal.Decimal, len(startingBalances))
	for k, v := range startingBalances {
		bal[k] = v
	}
	return &State{
		exchangeName: exchangeName,
		takerFee:     takerFee,
		makerFee:     makerFee,
		mode:         true,
		rng:          rand.New(rand.NewSource(seed)),
		log:          log.With().Str("component", "sandbox").Str("exchange", exchangeName).Logger(),
		mid:          mid,
		spreadBp:     decimal.NewFromInt(5),
		depth:        decimal.NewFromInt(10),
		balances:     bal,
		orders:       make(map[string]model.OrderResponse),
	}
}

// walk applies a small random step to the mid price (a plain random walk,
// with no pull back toward the starting mid), giving
// the detector real (if synthetic) spread variation to chew on instead of a
// frozen book.
func (s *State) walk(symbol string) {
	cur, ok := s.mid[symbol]
	if !ok {
		return
	}
	stepBp := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 8) // +/-4bp per tick
	delta := cur.Mul(stepBp).Div(decimal.NewFromInt(10000))
	s.mid[symbol] = cur.Add(delta)
}

// FetchBook implements exchange.Fetcher: it advances the walk and renders a
// synthetic two-level book around the mid price.
func (s *State) FetchBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid, ok := s.mid[symbol]
	if !ok {
		return model.OrderBookSnapshot{}, fmt.Errorf("sandbox: unknown symbol %s", symbol)
	}
	s.walk(symbol)
	mid = s.mid[symbol]

	half := mid.Mul(s.spreadBp).Div(decimal.NewFromInt(20000)) // spreadBp/2, in price terms
	bestBid := mid.Sub(half)
	bestAsk := mid.Add(half)

	return model.OrderBookSnapshot{
		Exchange: s.exchangeName,
		Symbol:   symbol,
		Bids: []model.PriceLevel{
			{Price: bestBid, Qty: s.depth},
			{Price: bestBid.Sub(half), Qty: s.depth.Mul(decimal.NewFromInt(2))},
		},
		Asks: []model.PriceLevel{
			{Price: bestAsk, Qty: s.depth},
			{Price: bestAsk.Add(half), Qty: s.depth.Mul(decimal.NewFromInt(2))},
		},
		LastUpdate: time.Now().UTC(),
	}, nil
}

// Exchange implements exchange.Client.
func (s *State) Exchange() string { return s.exchangeName }

// TakerFee implements exchange.Client.
func (s *State) TakerFee() float64 { return s.takerFee }

// MakerFee implements exchange.Client.
func (s *State) MakerFee() float64 { return s.makerFee }

// Fees implements exchange.Client's live fee refresh. The sandbox has no
// venue to refresh against, so it just returns the cached quote.
func (s *State) Fees(ctx context.Context) (maker, taker float64, err error) {
	return s.makerFee, s.takerFee, nil
}

// SetMode implements exchange.Client. A sandbox.State only ever simulates;
// it records the flag for symmetry with a real client but never routes
// differently based on it.
func (s *State) SetMode(sandbox bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = sandbox
}

// PlaceMarketOrder implements exchange.Client: it fills against the current
// synthetic book immediately and updates balances. Sandbox orders always
// fill in full; partial-fill and rejection scenarios are exercised through
// SetForceFillRatio for deterministic tests (§8).
func (s *State) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel) (model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid, ok := s.mid[symbol]
	if !ok {
		return model.OrderResponse{}, fmt.Errorf("sandbox: unknown symbol %s", symbol)
	}

	fillRatio := decimal.NewFromInt(1)
	if s.forceFillRatio != nil {
		fillRatio = *s.forceFillRatio
		s.forceFillRatio = nil
	}
	executed := qty.Qty.Mul(fillRatio)
	fee := executed.Mul(mid).Mul(decimal.NewFromFloat(s.takerFee))

	status := model.OrderFilled
	if fillRatio.LessThan(decimal.NewFromInt(1)) {
		status = model.OrderPartiallyFilled
	}
	if fillRatio.IsZero() {
		status = model.OrderRejected
	}

	resp := model.OrderResponse{
		OrderID:     uuid.NewString(),
		Status:      status,
		OriginalQty: qty.Qty,
		ExecutedQty: executed,
		Price:       mid,
		AvgPrice:    mid,
		Fee:         fee,
		FeeCurrency: "USD",
		CreatedAt:   time.Now().UTC(),
	}
	s.orders[resp.OrderID] = resp
	s.settle(symbol, side, executed, mid, fee)
	return resp, nil
}

// PlaceLimitOrder implements exchange.Client: unlike PlaceMarketOrder, the
// fill price is the caller-supplied limit rather than the current mid,
// simulating an order that rests until matched at exactly that price.
// Sandbox orders always fill in full at that price (no resting/partial
// behavior beyond what SetForceFillRatio scripts).
func (s *State) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel, price decimal.Decimal) (model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mid[symbol]; !ok {
		return model.OrderResponse{}, fmt.Errorf("sandbox: unknown symbol %s", symbol)
	}

	fillRatio := decimal.NewFromInt(1)
	if s.forceFillRatio != nil {
		fillRatio = *s.forceFillRatio
		s.forceFillRatio = nil
	}
	executed := qty.Qty.Mul(fillRatio)
	fee := executed.Mul(price).Mul(decimal.NewFromFloat(s.makerFee))

	status := model.OrderFilled
	if fillRatio.LessThan(decimal.NewFromInt(1)) {
		status = model.OrderPartiallyFilled
	}
	if fillRatio.IsZero() {
		status = model.OrderRejected
	}

	resp := model.OrderResponse{
		OrderID:     uuid.NewString(),
		Status:      status,
		OriginalQty: qty.Qty,
		ExecutedQty: executed,
		Price:       price,
		AvgPrice:    price,
		Fee:         fee,
		FeeCurrency: "USD",
		CreatedAt:   time.Now().UTC(),
	}
	s.orders[resp.OrderID] = resp
	s.settle(symbol, side, executed, price, fee)
	return resp, nil
}

// GetOrderStatus implements exchange.Client: sandbox orders settle
// synchronously so this just replays the recorded response.
func (s *State) GetOrderStatus(ctx context.Context, orderID string) (model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.orders[orderID]
	if !ok {
		return model.OrderResponse{}, fmt.Errorf("sandbox: unknown order %s", orderID)
	}
	return resp, nil
}

func (s *State) settle(symbol string, side exchange.Side, executed, price, fee decimal.Decimal) {
	base, quote := splitSymbol(symbol)
	notional := executed.Mul(price)
	switch side {
	case exchange.SideBuy:
		s.balances[base] = s.balances[base].Add(executed)
		s.balances[quote] = s.balances[quote].Sub(notional).Sub(fee)
	case exchange.SideSell:
		s.balances[base] = s.balances[base].Sub(executed)
		s.balances[quote] = s.balances[quote].Add(notional).Sub(fee)
	}
}

// CancelOrder implements exchange.Client. Sandbox orders settle
// synchronously, so cancellation always reports a no-op success.
func (s *State) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return fmt.Errorf("sandbox: unknown order %s", orderID)
	}
	return nil
}

// Balances implements exchange.Client.
func (s *State) Balances(ctx context.Context) ([]model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Balance, 0, len(s.balances))
	for asset, free := range s.balances {
		out = append(out, model.Balance{Exchange: s.exchangeName, Asset: asset, Free: free})
	}
	return out, nil
}

// CachedBalances implements exchange.Client. The sandbox has no separate
// live/cached distinction — both reads are the same in-memory map under
// the same lock — so this is just Balances without the context/error.
func (s *State) CachedBalances() []model.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Balance, 0, len(s.balances))
	for asset, free := range s.balances {
		out = append(out, model.Balance{Exchange: s.exchangeName, Asset: asset, Free: free})
	}
	return out
}

// GetPrice implements exchange.Client: it returns the current mid price
// without advancing the random walk, unlike FetchBook.
func (s *State) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mid, ok := s.mid[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("sandbox: unknown symbol %s", symbol)
	}
	return mid, nil
}

// Withdraw implements exchange.Client: it debits the source balance and
// fabricates a withdrawal ID, simulating an outbound transfer to
// destAddress. Used by RebalancingService.ExecuteRebalance (§4.K).
func (s *State) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, destAddress string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[asset].LessThan(amount) {
		return "", fmt.Errorf("sandbox: insufficient %s balance for withdrawal", asset)
	}
	s.balances[asset] = s.balances[asset].Sub(amount)
	id := uuid.NewString()
	s.log.Info().Str("withdrawal_id", id).Str("asset", asset).Str("amount", amount.String()).Str("dest", destAddress).Msg("sandbox withdrawal")
	return id, nil
}

// GetDepositAddress implements exchange.Client: a deterministic, fabricated
// address scoped to this sandbox identity and the requested asset.
func (s *State) GetDepositAddress(ctx context.Context, asset string) (string, error) {
	return fmt.Sprintf("sandbox:%s:%s", s.exchangeName, asset), nil
}

// DepositSandboxFunds implements SandboxState's §4.D capability: an
// additive balance adjustment with no corresponding Withdraw on any other
// exchange, used to seed or top up a sandbox identity out of band (e.g. an
// admin endpoint or a test fixture).
func (s *State) DepositSandboxFunds(asset string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = s.balances[asset].Add(amount)
}

// SetForceFillRatio scripts the outcome of the next PlaceMarketOrder or
// PlaceLimitOrder call, whichever comes first:
// ratio 0 simulates a rejection, a fraction in (0,1) a partial fill. Used by
// tests exercising the executor's partial-fill and recovery paths (§8).
func (s *State) SetForceFillRatio(ratio decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceFillRatio = &ratio
}

func splitSymbol(symbol string) (base, quote string) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i], symbol[i+1:]
		}
	}
	return symbol, "USD"
}
