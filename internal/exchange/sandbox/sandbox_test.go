package sandbox

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

func newTestState() *State {
	return New("sandbox-a", 0.001, 0.0008, 1,
		map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(50000)},
		map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1), "USD": decimal.NewFromInt(100000)},
		zerolog.Nop())
}

func qty(amount float64) model.PriceLevel {
	return model.PriceLevel{Qty: decimal.NewFromFloat(amount)}
}

func TestFetchBookProducesValidBook(t *testing.T) {
	s := newTestState()
	snap, err := s.FetchBook(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, snap.Valid())
	assert.Equal(t, "sandbox-a", snap.Exchange)
}

func TestFetchBookUnknownSymbol(t *testing.T) {
	s := newTestState()
	_, err := s.FetchBook(context.Background(), "ETH-USD")
	assert.Error(t, err)
}

func TestPlaceMarketOrderFillsInFullByDefault(t *testing.T) {
	s := newTestState()
	resp, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(0.1))
	require.NoError(t, err)
	assert.True(t, resp.ExecutedQty.Equal(resp.OriginalQty))
}

func TestPlaceMarketOrderHonorsForcedPartialFill(t *testing.T) {
	s := newTestState()
	s.SetForceFillRatio(decimal.NewFromFloat(0.5))
	resp, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(1))
	require.NoError(t, err)
	assert.True(t, resp.ExecutedQty.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, model.OrderPartiallyFilled, resp.Status)

	resp2, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(1))
	require.NoError(t, err)
	assert.True(t, resp2.ExecutedQty.Equal(decimal.NewFromFloat(1)), "force-fill ratio must reset after one use")
}

func TestPlaceMarketOrderRejection(t *testing.T) {
	s := newTestState()
	s.SetForceFillRatio(decimal.Zero)
	resp, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(1))
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, resp.Status)
}

func TestPlaceMarketOrderUpdatesBalances(t *testing.T) {
	s := newTestState()
	before := findBalance(t, s, "BTC")

	_, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(0.1))
	require.NoError(t, err)

	after := findBalance(t, s, "BTC")
	assert.True(t, after.GreaterThan(before))
}

func TestPlaceLimitOrderFillsAtGivenPrice(t *testing.T) {
	s := newTestState()
	resp, err := s.PlaceLimitOrder(context.Background(), "BTC-USD", exchange.SideSell, qty(0.1), decimal.NewFromInt(51000))
	require.NoError(t, err)
	assert.True(t, resp.Price.Equal(decimal.NewFromInt(51000)))
	assert.True(t, resp.ExecutedQty.Equal(resp.OriginalQty))
}

func TestGetOrderStatusReplaysRecordedOrder(t *testing.T) {
	s := newTestState()
	resp, err := s.PlaceMarketOrder(context.Background(), "BTC-USD", exchange.SideBuy, qty(0.1))
	require.NoError(t, err)

	status, err := s.GetOrderStatus(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, resp.OrderID, status.OrderID)
}

func TestGetOrderStatusUnknownOrder(t *testing.T) {
	s := newTestState()
	_, err := s.GetOrderStatus(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestWithdrawDebitsBalance(t *testing.T) {
	s := newTestState()
	before := findBalance(t, s, "BTC")

	id, err := s.Withdraw(context.Background(), "BTC", decimal.NewFromFloat(0.2), "sandbox:sandbox-b:BTC")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	after := findBalance(t, s, "BTC")
	assert.True(t, after.Equal(before.Sub(decimal.NewFromFloat(0.2))))
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	s := newTestState()
	_, err := s.Withdraw(context.Background(), "BTC", decimal.NewFromInt(1000), "sandbox:sandbox-b:BTC")
	assert.Error(t, err)
}

func TestDepositSandboxFundsIsAdditive(t *testing.T) {
	s := newTestState()
	before := findBalance(t, s, "USD")
	s.DepositSandboxFunds("USD", decimal.NewFromInt(500))
	after := findBalance(t, s, "USD")
	assert.True(t, after.Equal(before.Add(decimal.NewFromInt(500))))
}

func TestGetPriceDoesNotAdvanceWalk(t *testing.T) {
	s := newTestState()
	p1, err := s.GetPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	p2, err := s.GetPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, p1.Equal(p2))
}

func TestGetDepositAddressIsDeterministic(t *testing.T) {
	s := newTestState()
	addr1, err := s.GetDepositAddress(context.Background(), "BTC")
	require.NoError(t, err)
	addr2, err := s.GetDepositAddress(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
}

func findBalance(t *testing.T, s *State, asset string) decimal.Decimal {
	t.Helper()
	bals, err := s.Balances(context.Background())
	require.NoError(t, err)
	for _, b := range bals {
		if b.Asset == asset {
			return b.Free
		}
	}
	t.Fatalf("no balance for asset %s", asset)
	return decimal.Zero
}
