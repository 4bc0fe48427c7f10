// Package eventbus provides process-wide topic pub/sub with bounded
// per-subscription queues. Publication never blocks; a subscription whose
// queue is full loses its oldest events and receives an overflow marker.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/me/slideflow/pkg/model"
)

// DefaultQueueCapacity is used when the configured capacity is not positive.
const DefaultQueueCapacity = 256

// Subscription is one bounded event queue attached to a topic.
type Subscription struct {
	topic   string
	ch      chan any
	closed  bool
	dropped int
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the receive side of the subscription queue. The channel
// is closed when the subscription is closed.
func (s *Subscription) Events() <-chan any {
	return s.ch
}

// Bus is a topic-based publish/subscribe hub.
type Bus struct {
	mu       sync.Mutex
	capacity int
	topics   map[string]map[*Subscription]struct{}
	closed   bool
	logger   *slog.Logger
}

// New creates a Bus whose subscriptions buffer up to capacity events.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		capacity: capacity,
		topics:   make(map[string]map[*Subscription]struct{}),
		logger:   logger.With("component", "eventbus"),
	}
}

// Subscribe attaches a new bounded subscription to topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		topic: topic,
		ch:    make(chan any, b.capacity),
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers event to every live subscription on topic without
// blocking. Deliveries to a full subscription drop its oldest queued
// events and enqueue an overflow marker ahead of the new event.
func (b *Bus) Publish(topic string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.topics[topic] {
		b.deliver(sub, event)
	}
}

// deliver runs under b.mu, which serializes all sends on a subscription
// and keeps per-topic FIFO order.
func (b *Bus) deliver(sub *Subscription, event any) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Queue full. Make room for the marker plus the event; a queue of
	// capacity 1 is emptied and then holds only the marker.
	for len(sub.ch) > 0 && len(sub.ch) > cap(sub.ch)-2 {
		select {
		case <-sub.ch:
			sub.dropped++
		default:
		}
	}
	marker := model.OverflowEvent{Type: "overflow", Dropped: sub.dropped}
	select {
	case sub.ch <- marker:
	default:
	}
	select {
	case sub.ch <- event:
	default:
		sub.dropped++
	}
	b.logger.Warn("subscription overflow", "topic", sub.topic, "dropped", sub.dropped)
}

// Close releases a subscription. Publishes after close are no-ops for it.
// Closing an already-closed subscription is a no-op.
func (b *Bus) Close(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

// Shutdown closes every subscription and stops the bus. Subsequent
// publishes are dropped and subsequent subscriptions are born closed.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.topics = make(map[string]map[*Subscription]struct{})
}
