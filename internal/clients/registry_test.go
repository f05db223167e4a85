package clients

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbengine/arbengine/internal/exchange"
	"github.com/arbengine/arbengine/internal/model"
)

type fakeClient struct {
	exchangeName string
	takerFee     float64
	makerFee     float64
}

func (f fakeClient) Exchange() string    { return f.exchangeName }
func (f fakeClient) SetMode(sandbox bool) {}
func (f fakeClient) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f fakeClient) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel, price decimal.Decimal) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f fakeClient) GetOrderStatus(ctx context.Context, orderID string) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f fakeClient) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f fakeClient) Balances(ctx context.Context) ([]model.Balance, error) { return nil, nil }
func (f fakeClient) CachedBalances() []model.Balance                      { return nil }
func (f fakeClient) TakerFee() float64                                    { return f.takerFee }
func (f fakeClient) MakerFee() float64                                    { return f.makerFee }
func (f fakeClient) Fees(ctx context.Context) (maker, taker float64, err error) {
	return f.makerFee, f.takerFee, nil
}
func (f fakeClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f fakeClient) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, destAddress string) (string, error) {
	return "", nil
}
func (f fakeClient) GetDepositAddress(ctx context.Context, asset string) (string, error) {
	return "", nil
}

func TestRegistryResolvesClientAndFees(t *testing.T) {
	r := NewRegistry(
		fakeClient{exchangeName: "Binance", takerFee: 0.001, makerFee: 0.0008},
		fakeClient{exchangeName: "Coinbase", takerFee: 0.002, makerFee: 0.0015},
	)

	client, ok := r.Client("Binance")
	require.True(t, ok)
	assert.Equal(t, "Binance", client.Exchange())

	fees := r.Fees("Coinbase")
	assert.Equal(t, 0.002, fees.TakerFee)
	assert.Equal(t, 0.0015, fees.MakerFee)
	assert.True(t, fees.AvailableQuote.Equal(decimal.Zero))
}

func TestRegistryUnknownExchangeReturnsNotOK(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Client("Kraken")
	assert.False(t, ok)
	assert.Equal(t, 0.0, r.Fees("Kraken").TakerFee)
}
