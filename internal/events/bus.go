package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber queue length used when none is configured.
const DefaultBuffer = 64

var ErrBusClosed = errors.New("event bus closed")

// Publisher is what mutation handlers depend on. Publish never fails the caller:
// an event nobody is listening for is simply gone.
type Publisher interface {
	Publish(ctx context.Context, p Payload)
}

// Subscriber hands out per-topic subscriptions.
type Subscriber interface {
	Subscribe(topic Topic) (*Subscription, error)
}

// Observer receives fan-out counts. metrics.Collector implements it.
type Observer interface {
	Published(topic Topic)
	Delivered(topic Topic)
	Dropped(topic Topic)
	SubscribersChanged(topic Topic, n int)
}

type nopObserver struct{}

func (nopObserver) Published(Topic)               {}
func (nopObserver) Delivered(Topic)               {}
func (nopObserver) Dropped(Topic)                 {}
func (nopObserver) SubscribersChanged(Topic, int) {}

// Discard is a Publisher that drops everything. Handlers use it when events
// are delivered through the outbox instead.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Payload) {}

// Bus is an in-process pub/sub registry. Every subscriber owns a buffered channel;
// publishing never blocks on a slow subscriber, it drops that one delivery instead.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*Subscription]struct{}
	closed bool

	buffer int
	log    zerolog.Logger
	obs    Observer
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithObserver attaches fan-out instrumentation.
func WithObserver(o Observer) Option {
	return func(b *Bus) {
		if o != nil {
			b.obs = o
		}
	}
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Topic]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		log:    log.With().Str("component", "event_bus").Logger(),
		obs:    nopObserver{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new subscription on topic. Events published before this
// call are never replayed to it.
func (b *Bus) Subscribe(topic Topic) (*Subscription, error) {
	if !topic.Valid() {
		return nil, errors.New("subscribe: unknown topic " + topic.String())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	s := &Subscription{bus: b, topic: topic, ch: make(chan Payload, b.buffer)}
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[s] = struct{}{}
	b.obs.SubscribersChanged(topic, len(set))
	return s, nil
}

// Publish fans p out to every current subscriber of its topic.
func (b *Bus) Publish(_ context.Context, p Payload) {
	if p == nil {
		return
	}
	topic := p.Topic()
	b.obs.Published(topic)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[topic] {
		select {
		case s.ch <- p:
			b.obs.Delivered(topic)
		default:
			b.obs.Dropped(topic)
			b.log.Debug().
				Str("topic", topic.String()).
				Str("conversation_id", p.ConversationID()).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close ends every subscription. Later Subscribe calls fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, set := range b.subs {
		for s := range set {
			s.closeLocked()
		}
		delete(b.subs, topic)
		b.obs.SubscribersChanged(topic, 0)
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			b.obs.SubscribersChanged(s.topic, len(set))
		}
	}
	s.closeLocked()
}

// Subscription is one subscriber's queue for a single topic.
type Subscription struct {
	bus    *Bus
	topic  Topic
	ch     chan Payload
	closed bool // guarded by bus.mu
}

// C yields events in publish order. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Payload { return s.ch }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Close deregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.bus.remove(s) }

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
