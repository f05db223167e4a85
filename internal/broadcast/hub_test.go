package broadcast

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arbengine/arbengine/internal/model"
)

func TestBroadcastTransactionReachesSubscriber(t *testing.T) {
	h := New(zerolog.Nop())
	ch := h.Subscribe("client-1", TopicTransaction)

	txn := model.Transaction{ID: "t1", RealizedProfit: decimal.NewFromFloat(1.5)}
	h.BroadcastTransaction(txn)

	select {
	case raw := <-ch:
		var env Envelope
		require.NoError(t, msgpack.Unmarshal(raw, &env))
		assert.Equal(t, string(TopicTransaction), env.Topic)
		var got model.Transaction
		require.NoError(t, msgpack.Unmarshal(env.Payload, &got))
		assert.Equal(t, "t1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestBroadcastOnlyReachesSubscribedTopic(t *testing.T) {
	h := New(zerolog.Nop())
	txnCh := h.Subscribe("client-1", TopicTransaction)
	oppCh := h.Subscribe("client-1", TopicOpportunity)

	h.BroadcastOpportunity(model.ArbitrageOpportunity{Symbol: "BTC-USD"})

	select {
	case <-oppCh:
	case <-time.After(time.Second):
		t.Fatal("expected opportunity on its own topic")
	}

	select {
	case <-txnCh:
		t.Fatal("transaction topic should not have received an opportunity broadcast")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(zerolog.Nop())
	ch := h.Subscribe("client-1", TopicSafetyUpdate)
	h.Unsubscribe("client-1", TopicSafetyUpdate)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBroadcastDropsWhenSubscriberSaturated(t *testing.T) {
	h := New(zerolog.Nop())
	ch := h.Subscribe("client-1", TopicMarketPrices)

	for i := 0; i < subscriberBuffer+10; i++ {
		h.BroadcastMarketPrices(MarketPriceTick{Symbol: "BTC-USD"})
	}

	// does not deadlock or panic; drains up to the buffer size without error
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.LessOrEqual(t, count, subscriberBuffer)
			return
		}
	}
}

func TestBroadcastWithNoSubscribersIsNoop(t *testing.T) {
	h := New(zerolog.Nop())
	assert.NotPanics(t, func() {
		h.BroadcastAutoTradeUpdate(true)
	})
}
