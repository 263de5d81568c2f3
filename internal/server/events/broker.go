package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpress/syncbridge/pkg/eventstore"
)

// Broker manages event distribution to multiple subscribers.
// It is the single point between the coordinator's ledger appends and the
// transports that stream them to clients.
type Broker struct {
	subscribers []Subscriber
	events      chan Event
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		subscribers: make([]Subscriber, 0),
		events:      make(chan Event, 256),
		logger:      logger,
	}
}

// Run starts the broker's event loop. Should be called in a goroutine.
// The broker will run until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: close all subscribers
			b.mu.Lock()
			for _, sub := range b.subscribers {
				_ = sub.Close()
			}
			b.subscribers = nil
			b.mu.Unlock()
			b.logger.Info().Msg("Event broker shut down")
			return

		case event := <-b.events:
			b.mu.RLock()
			subs := make([]Subscriber, len(b.subscribers))
			copy(subs, b.subscribers)
			b.mu.RUnlock()

			// Fan-out to all subscribers concurrently
			for _, sub := range subs {
				go func(s Subscriber, e Event) {
					if err := s.Send(e); err != nil {
						b.logger.Warn().
							Err(err).
							Str("event_type", string(e.Type)).
							Msg("Failed to send event to subscriber")
					}
				}(sub, event)
			}
		}
	}
}

// Publish sends an event to all subscribers. Never blocks; the event is
// dropped when the feed channel is full, the ledger stays authoritative.
func (b *Broker) Publish(eventType EventType, data any) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	select {
	case b.events <- event:
	default:
		b.logger.Warn().
			Str("event_type", string(eventType)).
			Msg("Event channel full, event dropped")
	}
}

// PublishLedger maps a durable ledger event onto the feed.
func (b *Broker) PublishLedger(ev eventstore.Event) {
	b.Publish(feedType(ev.Type), ev)
}

// Subscribe registers a new subscriber to receive events. Registration is
// synchronous so subscribers can be attached before Run starts.
func (b *Broker) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	total := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Info().
		Int("total_subscribers", total).
		Msg("Subscriber registered")
}

// Unsubscribe removes a subscriber and closes it.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			_ = s.Close()
			break
		}
	}
	total := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Info().
		Int("total_subscribers", total).
		Msg("Subscriber unregistered")
}

// SubscriberCount returns the current number of subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// feedType translates ledger event types to feed event types.
func feedType(t eventstore.Type) EventType {
	switch t {
	case eventstore.TypeSyncNoop:
		return SyncNoop
	case eventstore.TypeChangesApplied:
		return ChangesApplied
	case eventstore.TypeConflictResolved:
		return ConflictResolved
	case eventstore.TypeEscalationRaised:
		return EscalationRaised
	case eventstore.TypeEscalationResolved:
		return EscalationResolved
	case eventstore.TypeSyncFailed:
		return SyncFailed
	default:
		return EventType("sync." + string(t))
	}
}
