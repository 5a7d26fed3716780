package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
)

const defaultBufferSize = 10

// Subscriber is a channel that receives events for a specific topic.
// Use a buffered channel to avoid blocking the publisher.
type Subscriber chan domain.Event

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	domain.Publisher
	Subscribe(topic string, bufferSize int) (Subscriber, error)
	SubscribeAll(bufferSize int) (Subscriber, error)
	Unsubscribe(topic string, sub Subscriber) error
	UnsubscribeAll(sub Subscriber)
	Stop()
}

// SimpleEventBus is a basic in-memory event bus implementation using channels.
type SimpleEventBus struct {
	subscribers map[string]map[Subscriber]bool // topic -> set of subscriber channels
	wildcard    map[Subscriber]bool            // receive every topic
	defaultBuf  int
	mu          sync.RWMutex
	isStopped   bool
	log         zerolog.Logger
}

// NewSimpleEventBus creates a new SimpleEventBus.
func NewSimpleEventBus(bufferSize int, log zerolog.Logger) *SimpleEventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &SimpleEventBus{
		subscribers: make(map[string]map[Subscriber]bool),
		wildcard:    make(map[Subscriber]bool),
		defaultBuf:  bufferSize,
		log:         log.With().Str("component", "eventbus").Logger(),
	}
}

// Publish sends an event to all subscribers of the event's topic and to all
// wildcard subscribers. Sends never block: a full subscriber drops the event.
// Sends happen under the read lock, so once Unsubscribe returns no publish
// can still reach the channel and the subscriber may close it.
func (b *SimpleEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isStopped {
		return
	}

	for sub := range b.subscribers[event.Topic] {
		b.deliver(sub, event)
	}
	for sub := range b.wildcard {
		b.deliver(sub, event)
	}
}

func (b *SimpleEventBus) deliver(sub Subscriber, event domain.Event) {
	select {
	case sub <- event:
	default:
		metrics.EventsDropped.WithLabelValues(event.Topic).Inc()
		b.log.Warn().Str("topic", event.Topic).Msg("subscriber buffer full, event dropped")
	}
}

// Subscribe creates a new subscriber channel for a given topic.
// bufferSize determines the capacity of the subscriber channel.
func (b *SimpleEventBus) Subscribe(topic string, bufferSize int) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isStopped {
		return nil, fmt.Errorf("eventbus is stopped")
	}

	sub := b.newSubscriber(bufferSize)
	if _, found := b.subscribers[topic]; !found {
		b.subscribers[topic] = make(map[Subscriber]bool)
	}
	b.subscribers[topic][sub] = true
	return sub, nil
}

// SubscribeAll creates a subscriber that receives every published event.
func (b *SimpleEventBus) SubscribeAll(bufferSize int) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isStopped {
		return nil, fmt.Errorf("eventbus is stopped")
	}
	sub := b.newSubscriber(bufferSize)
	b.wildcard[sub] = true
	return sub, nil
}

func (b *SimpleEventBus) newSubscriber(bufferSize int) Subscriber {
	if bufferSize <= 0 {
		bufferSize = b.defaultBuf
	}
	return make(Subscriber, bufferSize)
}

// Unsubscribe removes a subscriber channel from a topic. It's the
// subscriber's responsibility to close their channel, which is safe once
// Unsubscribe returns.
func (b *SimpleEventBus) Unsubscribe(topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subsMap, found := b.subscribers[topic]
	if !found {
		return fmt.Errorf("topic %s not found", topic)
	}
	if _, ok := subsMap[sub]; !ok {
		return fmt.Errorf("subscriber not found for topic %s", topic)
	}
	delete(subsMap, sub)
	if len(subsMap) == 0 {
		delete(b.subscribers, topic)
	}
	return nil
}

// UnsubscribeAll removes sub from every topic and from the wildcard set.
func (b *SimpleEventBus) UnsubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.wildcard, sub)
	for topic, subsMap := range b.subscribers {
		delete(subsMap, sub)
		if len(subsMap) == 0 {
			delete(b.subscribers, topic)
		}
	}
}

// Stop signals the event bus to stop publishing and cleans up resources.
func (b *SimpleEventBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isStopped {
		return
	}
	b.isStopped = true
	b.subscribers = make(map[string]map[Subscriber]bool)
	b.wildcard = make(map[Subscriber]bool)
	b.log.Debug().Msg("event bus stopped")
}
