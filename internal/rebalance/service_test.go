package rebalance

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

type fakeClient struct {
	exchangeName   string
	balances       []model.Balance
	depositAddress string
	withdrawErr    error
	withdrawnAsset string
	withdrawnAmt   decimal.Decimal
}

func (f *fakeClient) Exchange() string            { return f.exchangeName }
func (f *fakeClient) TakerFee() float64            { return 0.001 }
func (f *fakeClient) MakerFee() float64            { return 0.0008 }
func (f *fakeClient) SetMode(sandbox bool)         {}
func (f *fakeClient) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f *fakeClient) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, qty model.PriceLevel, price decimal.Decimal) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f *fakeClient) GetOrderStatus(ctx context.Context, orderID string) (model.OrderResponse, error) {
	return model.OrderResponse{}, nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeClient) Balances(ctx context.Context) ([]model.Balance, error) {
	return f.balances, nil
}
func (f *fakeClient) CachedBalances() []model.Balance { return f.balances }
func (f *fakeClient) Fees(ctx context.Context) (maker, taker float64, err error) {
	return f.MakerFee(), f.TakerFee(), nil
}
func (f *fakeClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeClient) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, destAddress string) (string, error) {
	f.withdrawnAsset = asset
	f.withdrawnAmt = amount
	if f.withdrawErr != nil {
		return "", f.withdrawErr
	}
	return "withdrawal-1", nil
}
func (f *fakeClient) GetDepositAddress(ctx context.Context, asset string) (string, error) {
	return f.depositAddress, nil
}

type fakeClientSource struct{ m map[string]exchange.Client }

func (f fakeClientSource) Client(name string) (exchange.Client, bool) {
	c, ok := f.m[name]
	return c, ok
}

type fakeSkewSettings struct{ threshold decimal.Decimal }

func (f fakeSkewSettings) MinRebalanceSkewThreshold() decimal.Decimal { return f.threshold }

func TestComputeDeviationsBalancedAcrossExchanges(t *testing.T) {
	balances := map[string]map[string]decimal.Decimal{
		"BTC": {"A": decimal.NewFromInt(10), "B": decimal.NewFromInt(10)},
	}
	devs := computeDeviations(balances)
	assert.True(t, devs["BTC"]["A"].Deviation.IsZero())
	assert.True(t, devs["BTC"]["B"].Deviation.IsZero())
}

func TestComputeDeviationsSkewedExchange(t *testing.T) {
	// total=100, mean=50; Binance has 90 (dev=+0.4), Coinbase has 10 (dev=-0.4)
	balances := map[string]map[string]decimal.Decimal{
		"BTC": {"Binance": decimal.NewFromInt(90), "Coinbase": decimal.NewFromInt(10)},
	}
	devs := computeDeviations(balances)
	assert.True(t, devs["BTC"]["Binance"].Deviation.Equal(decimal.NewFromFloat(0.4)), "got %s", devs["BTC"]["Binance"].Deviation)
	assert.True(t, devs["BTC"]["Coinbase"].Deviation.Equal(decimal.NewFromFloat(-0.4)), "got %s", devs["BTC"]["Coinbase"].Deviation)
	require.NotNil(t, devs["BTC"]["Binance"].LegacySkew)
	assert.True(t, devs["BTC"]["Binance"].LegacySkew.Equal(decimal.NewFromFloat(0.4)))
}

func TestComputeDeviationsNoLegacySkewWithoutBinanceCoinbase(t *testing.T) {
	balances := map[string]map[string]decimal.Decimal{
		"BTC": {"A": decimal.NewFromInt(90), "B": decimal.NewFromInt(10)},
	}
	devs := computeDeviations(balances)
	assert.Nil(t, devs["BTC"]["A"].LegacySkew)
	assert.Nil(t, devs["BTC"]["B"].LegacySkew)
}

type fakeBroadcaster struct {
	proposals []model.RebalanceProposal
}

func (f *fakeBroadcaster) BroadcastRebalanceUpdate(p model.RebalanceProposal) {
	f.proposals = append(f.proposals, p)
}

type fakeWallets struct{ overrides map[string]string }

func (f fakeWallets) WalletOverride(asset, exchangeName string) (string, bool) {
	addr, ok := f.overrides[asset+"|"+exchangeName]
	return addr, ok
}

func TestBuildProposalsEmitsAboveThreshold(t *testing.T) {
	clients := fakeClientSource{m: map[string]exchange.Client{
		"A": &fakeClient{exchangeName: "A", balances: []model.Balance{{Exchange: "A", Asset: "BTC", Free: decimal.NewFromInt(90)}}},
		"B": &fakeClient{exchangeName: "B", balances: []model.Balance{{Exchange: "B", Asset: "BTC", Free: decimal.NewFromInt(10)}}},
	}}
	bcast := &fakeBroadcaster{}
	svc := New([]string{"A", "B"}, clients, fakeSkewSettings{threshold: decimal.NewFromFloat(0.10)}, nil, bcast, zerolog.Nop())

	svc.poll(context.Background())

	proposals := svc.Proposals()
	require.Len(t, proposals, 1)
	assert.Equal(t, "BTC", proposals[0].Asset)
	assert.True(t, proposals[0].IsViable)
	assert.True(t, proposals[0].Amount.Equal(decimal.NewFromInt(40)), "got %s", proposals[0].Amount)
	require.Len(t, bcast.proposals, 1, "proposal must be broadcast to UI")
}

func TestBuildProposalsSkipsBelowThreshold(t *testing.T) {
	clients := fakeClientSource{m: map[string]exchange.Client{
		"A": &fakeClient{exchangeName: "A", balances: []model.Balance{{Exchange: "A", Asset: "BTC", Free: decimal.NewFromInt(52)}}},
		"B": &fakeClient{exchangeName: "B", balances: []model.Balance{{Exchange: "B", Asset: "BTC", Free: decimal.NewFromInt(48)}}},
	}}
	svc := New([]string{"A", "B"}, clients, fakeSkewSettings{threshold: decimal.NewFromFloat(0.10)}, nil, nil, zerolog.Nop())

	svc.poll(context.Background())

	assert.Empty(t, svc.Proposals())
}

func TestExecuteRebalanceWithdrawsToDestinationDepositAddress(t *testing.T) {
	destClient := &fakeClient{exchangeName: "B", depositAddress: "addr-b"}
	sourceClient := &fakeClient{exchangeName: "A"}
	clients := fakeClientSource{m: map[string]exchange.Client{"A": sourceClient, "B": destClient}}
	svc := New([]string{"A", "B"}, clients, fakeSkewSettings{}, nil, nil, zerolog.Nop())

	proposal := model.RebalanceProposal{Asset: "BTC", Amount: decimal.NewFromInt(1), Direction: "A → B"}
	require.NoError(t, svc.ExecuteRebalance(context.Background(), proposal))
	assert.Equal(t, "BTC", sourceClient.withdrawnAsset)
	assert.True(t, sourceClient.withdrawnAmt.Equal(decimal.NewFromInt(1)))
}

func TestExecuteRebalancePrefersWalletOverride(t *testing.T) {
	destClient := &fakeClient{exchangeName: "B", depositAddress: "addr-b"}
	sourceClient := &fakeClient{exchangeName: "A"}
	clients := fakeClientSource{m: map[string]exchange.Client{"A": sourceClient, "B": destClient}}
	wallets := fakeWallets{overrides: map[string]string{"BTC|B": "override-addr"}}
	svc := New([]string{"A", "B"}, clients, fakeSkewSettings{}, wallets, nil, zerolog.Nop())

	proposal := model.RebalanceProposal{Asset: "BTC", Amount: decimal.NewFromInt(1), Direction: "A → B"}
	require.NoError(t, svc.ExecuteRebalance(context.Background(), proposal))
}

func TestExecuteRebalanceRejectsMalformedDirection(t *testing.T) {
	svc := New([]string{"A", "B"}, fakeClientSource{m: map[string]exchange.Client{}}, fakeSkewSettings{}, nil, nil, zerolog.Nop())
	err := svc.ExecuteRebalance(context.Background(), model.RebalanceProposal{Asset: "BTC", Direction: "garbage"})
	assert.Error(t, err)
}
