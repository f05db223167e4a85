package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbengine/arbengine/internal/model"
)

// ErrUnknownExchange is returned by a ClientSource lookup for an exchange
// name that has no registered Client.
var ErrUnknownExchange = errors.New("exchange: unknown exchange")

// Client places and queries orders on one exchange, real or simulated
// (§4.C). OrderExecutor talks to this interface only; it never knows
// whether it is trading against a live venue or the sandbox.
//
// getOrderBook is deliberately not part of this interface: book state is
// already owned by Provider/Registry (§4.B), and duplicating it here would
// just be a second, divergent read path for the same data.
type Client interface {
	Exchange() string

	// SetMode switches the client between sandbox/testnet and live
	// routing. A sandbox.State treats this as a bookkeeping no-op since it
	// never talks to a real venue either way.
	SetMode(sandbox bool)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty model.PriceLevel) (model.OrderResponse, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty model.PriceLevel, price decimal.Decimal) (model.OrderResponse, error)
	GetOrderStatus(ctx context.Context, orderID string) (model.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Balances is the live fetch; CachedBalances returns whatever the last
	// live fetch observed without making a call, for callers (e.g. a
	// health check) that would rather read stale data than block.
	Balances(ctx context.Context) ([]model.Balance, error)
	CachedBalances() []model.Balance

	// TakerFee/MakerFee are the cached fee quote; Fees performs a live
	// refresh and returns the same shape.
	TakerFee() float64
	MakerFee() float64
	Fees(ctx context.Context) (maker, taker float64, err error)

	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Withdraw and GetDepositAddress back RebalancingService.ExecuteRebalance
	// (§4.K): a transfer is a withdrawal from the source exchange to the
	// destination exchange's deposit address.
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal, destAddress string) (withdrawalID string, err error)
	GetDepositAddress(ctx context.Context, asset string) (address string, err error)
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// requestJob is one queued call awaiting its turn through the rate limiter.
type requestJob struct {
	run      func(ctx context.Context) (interface{}, error)
	ctx      context.Context
	resultCh chan requestResult
}

type requestResult struct {
	value interface{}
	err   error
}

// RateLimitedClient serializes every call through a single worker so a
// venue's rate limit is never exceeded, regardless of how many goroutines
// call concurrently. Grounded on the single-worker request-queue pattern
// used by REST SDK clients that enforce a fixed inter-request delay.
type RateLimitedClient struct {
	inner        Client
	minInterval  time.Duration
	requestQueue chan requestJob
	stopOnce     sync.Once
	stopChan     chan struct{}
	workerDone   chan struct{}
	log          zerolog.Logger

	cacheMu  sync.RWMutex
	balances []model.Balance
}

const requestQueueSize = 256

// NewRateLimitedClient wraps inner so all calls are spaced at least
// minInterval apart.
func NewRateLimitedClient(inner Client, minInterval time.Duration, log zerolog.Logger) *RateLimitedClient {
	c := &RateLimitedClient{
		inner:        inner,
		minInterval:  minInterval,
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
		log:          log.With().Str("component", "rate_limited_client").Str("exchange", inner.Exchange()).Logger(),
	}
	go c.worker()
	return c
}

func (c *RateLimitedClient) worker() {
	defer close(c.workerDone)
	ticker := time.NewTicker(c.minInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case job := <-c.requestQueue:
			<-ticker.C
			value, err := job.run(job.ctx)
			job.resultCh <- requestResult{value: value, err: err}
		}
	}
}

func (c *RateLimitedClient) submit(ctx context.Context, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	resultCh := make(chan requestResult, 1)
	job := requestJob{run: run, ctx: ctx, resultCh: resultCh}
	select {
	case c.requestQueue <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopChan:
		return nil, context.Canceled
	}
	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts the worker goroutine. Safe to call multiple times.
func (c *RateLimitedClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.workerDone
}

func (c *RateLimitedClient) Exchange() string  { return c.inner.Exchange() }
func (c *RateLimitedClient) TakerFee() float64 { return c.inner.TakerFee() }
func (c *RateLimitedClient) MakerFee() float64 { return c.inner.MakerFee() }

// SetMode is local bookkeeping, not a rate-limited venue call.
func (c *RateLimitedClient) SetMode(sandbox bool) { c.inner.SetMode(sandbox) }

func (c *RateLimitedClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty model.PriceLevel) (model.OrderResponse, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.PlaceMarketOrder(ctx, symbol, side, qty)
	})
	if err != nil {
		return model.OrderResponse{}, err
	}
	return v.(model.OrderResponse), nil
}

func (c *RateLimitedClient) PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty model.PriceLevel, price decimal.Decimal) (model.OrderResponse, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.PlaceLimitOrder(ctx, symbol, side, qty, price)
	})
	if err != nil {
		return model.OrderResponse{}, err
	}
	return v.(model.OrderResponse), nil
}

func (c *RateLimitedClient) GetOrderStatus(ctx context.Context, orderID string) (model.OrderResponse, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.GetOrderStatus(ctx, orderID)
	})
	if err != nil {
		return model.OrderResponse{}, err
	}
	return v.(model.OrderResponse), nil
}

func (c *RateLimitedClient) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.inner.CancelOrder(ctx, orderID)
	})
	return err
}

func (c *RateLimitedClient) Balances(ctx context.Context) ([]model.Balance, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.Balances(ctx)
	})
	if err != nil {
		return nil, err
	}
	bals := v.([]model.Balance)
	c.cacheMu.Lock()
	c.balances = bals
	c.cacheMu.Unlock()
	return bals, nil
}

// CachedBalances returns the last Balances() result without touching the
// rate-limited queue, for callers that would rather read stale data than
// wait behind it.
func (c *RateLimitedClient) CachedBalances() []model.Balance {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.balances
}

func (c *RateLimitedClient) Fees(ctx context.Context) (maker, taker float64, err error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		m, t, err := c.inner.Fees(ctx)
		return [2]float64{m, t}, err
	})
	if err != nil {
		return 0, 0, err
	}
	pair := v.([2]float64)
	return pair[0], pair[1], nil
}

func (c *RateLimitedClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.GetPrice(ctx, symbol)
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

func (c *RateLimitedClient) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, destAddress string) (string, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.Withdraw(ctx, asset, amount, destAddress)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *RateLimitedClient) GetDepositAddress(ctx context.Context, asset string) (string, error) {
	v, err := c.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return c.inner.GetDepositAddress(ctx, asset)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
