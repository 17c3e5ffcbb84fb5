// Package bus implements the synchronous, in-process event bus that
// decouples the conductors, queue and worker invoker from each other.
package bus

import (
	"log/slog"
	"sync"
)

// Envelope is a message published on the bus.
type Envelope struct {
	Topic   string
	Payload interface{}
}

// HandlerFunc receives envelopes delivered to a subscription.
type HandlerFunc func(Envelope)

// Token identifies an active subscription for later Unsubscribe.
type Token uint64

type subscriber struct {
	token   Token
	topic   string
	handler HandlerFunc
}

// Bus is a synchronous, broadcast, in-order-per-publisher pub/sub bus.
// Publish delivers to every matching subscriber before returning; a
// handler that panics is recovered, logged, and does not stop delivery
// to the remaining subscribers.
type Bus struct {
	mu        sync.Mutex
	subs      []subscriber
	nextToken Token
	logger    *slog.Logger
}

// New creates a Bus. logger may be nil, in which case handler panics
// are still recovered but not logged.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers handler for topic. Passing "*" subscribes to
// every topic published on the bus. The returned Token can be passed
// to Unsubscribe to stop delivery.
func (b *Bus) Subscribe(topic string, handler HandlerFunc) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	tok := b.nextToken
	b.subs = append(b.subs, subscriber{token: tok, topic: topic, handler: handler})
	return tok
}

// Unsubscribe removes a subscription. It is a no-op if tok is unknown.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.token == tok {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload under topic to every subscriber whose topic
// matches exactly or who subscribed with "*", in subscription order.
// Publish blocks until every handler has returned.
func (b *Bus) Publish(topic string, payload interface{}) {
	env := Envelope{Topic: topic, Payload: payload}

	b.mu.Lock()
	matched := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "*" || s.topic == topic {
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	for _, s := range matched {
		b.deliver(s, env)
	}
}

func (b *Bus) deliver(s subscriber, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("bus_handler_panic",
					slog.String("topic", env.Topic),
					slog.Any("recovered", r),
				)
			}
		}
	}()
	s.handler(env)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
