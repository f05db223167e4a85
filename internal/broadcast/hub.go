// Package broadcast implements BroadcastHub (component O, §6): the
// fire-and-forget push-notification fan-out to connected UI clients.
//
// Grounded on the teacher's internal/bus non-blocking-publish pattern
// (internal/bus/bus.go: a select with a default branch that logs and drops
// rather than blocking a producer on a slow consumer) generalized from a
// fixed set of typed Go channels to a dynamic set of named, msgpack-encoded
// topics any number of UI clients can subscribe to — grounded on the
// teacher's display/bridge wire-encoding use of msgpack
// (display/bridge/main.go: msgpack.Marshal/Unmarshal over a socket) for
// the payload format every topic uses.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// subscriberBuffer is the per-client backlog before a topic starts
// dropping messages to that client rather than blocking the publisher.
const subscriberBuffer = 64

// topic is one of the named channels §6 lists: ReceiveOpportunity,
// ReceiveTransaction, ReceiveStrategyUpdate, ReceiveMarketPrices,
// ReceiveSandboxModeUpdate, ReceiveSafetyUpdate, ReceiveAutoTradeUpdate,
// ReceiveAutoRebalanceUpdate, ReceivePairThresholdUpdate,
// ReceiveRebalanceUpdate, ReceiveWalletUpdate.
type topic string

const (
	TopicOpportunity         topic = "ReceiveOpportunity"
	TopicTransaction         topic = "ReceiveTransaction"
	TopicStrategyUpdate      topic = "ReceiveStrategyUpdate"
	TopicMarketPrices        topic = "ReceiveMarketPrices"
	TopicSandboxModeUpdate   topic = "ReceiveSandboxModeUpdate"
	TopicSafetyUpdate        topic = "ReceiveSafetyUpdate"
	TopicAutoTradeUpdate     topic = "ReceiveAutoTradeUpdate"
	TopicAutoRebalanceUpdate topic = "ReceiveAutoRebalanceUpdate"
	TopicPairThresholdUpdate topic = "ReceivePairThresholdUpdate"
	TopicRebalanceUpdate     topic = "ReceiveRebalanceUpdate"
	TopicWalletUpdate        topic = "ReceiveWalletUpdate"
)

// Envelope is the msgpack-encoded wire shape every subscriber receives:
// the topic name plus the msgpack-encoded payload, so a single connection
// can multiplex every topic it is interested in.
type Envelope struct {
	Topic   string `msgpack:"topic"`
	Payload []byte `msgpack:"payload"`
}

// subscriber is one connected UI client's mailbox for a single topic.
type subscriber struct {
	id string
	ch chan []byte
}

// Hub is the BroadcastHub. Safe for concurrent use; Subscribe/Unsubscribe
// may be called from HTTP handler goroutines while Broadcast* calls arrive
// from any producer package.
type Hub struct {
	mu   sync.RWMutex
	subs map[topic]map[string]chan []byte
	log  zerolog.Logger
}

// New builds an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[topic]map[string]chan []byte),
		log:  log.With().Str("component", "broadcast_hub").Logger(),
	}
}

// Subscribe registers a new client mailbox for t under the caller-chosen id
// (the same id is passed to Unsubscribe) and returns a receive-only channel
// of msgpack-encoded Envelopes.
func (h *Hub) Subscribe(id string, t topic) <-chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if h.subs[t] == nil {
		h.subs[t] = make(map[string]chan []byte)
	}
	h.subs[t][id] = ch
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client's mailbox for t.
func (h *Hub) Unsubscribe(id string, t topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[t]; ok {
		if ch, ok := subs[id]; ok {
			close(ch)
			delete(subs, id)
		}
	}
}

// publish msgpack-encodes payload, wraps it in an Envelope naming t, and
// fans the encoded Envelope out to every current subscriber of t. A
// subscriber whose mailbox is full has the message dropped for it rather
// than blocking every other subscriber (mirrors bus.Bus's non-blocking
// Publish* pattern).
func (h *Hub) publish(t topic, payload interface{}) {
	encodedPayload, err := msgpack.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("topic", string(t)).Msg("failed to encode broadcast payload")
		return
	}
	envelope, err := msgpack.Marshal(Envelope{Topic: string(t), Payload: encodedPayload})
	if err != nil {
		h.log.Error().Err(err).Str("topic", string(t)).Msg("failed to encode broadcast envelope")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[t] {
		select {
		case ch <- envelope:
		default:
			h.log.Warn().Str("topic", string(t)).Str("subscriber", id).Msg("broadcast dropped, client saturated")
		}
	}
}
