package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpress/syncbridge/pkg/eventstore"
	"github.com/agentpress/syncbridge/pkg/logging"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSubscriber) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSubscriber) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newRunningBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(logging.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)
	return b
}

func TestSubscribeBeforeRunDoesNotBlock(t *testing.T) {
	b := NewBroker(logging.NewNopLogger())

	sub := &recordingSubscriber{}
	done := make(chan struct{})
	go func() {
		b.Subscribe(sub)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked before Run started")
	}
	assert.Equal(t, 1, b.SubscriberCount())

	// Events published once Run starts reach the early subscriber.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	b.Publish(ChangesApplied, nil)
	require.Eventually(t, func() bool {
		return len(sub.received()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBrokerFanOut(t *testing.T) {
	b := newRunningBroker(t)

	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	b.Subscribe(first)
	b.Subscribe(second)
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 2
	}, time.Second, 10*time.Millisecond)

	b.Publish(ChangesApplied, map[string]string{"entity_id": "model/claude"})

	for _, sub := range []*recordingSubscriber{first, second} {
		require.Eventually(t, func() bool {
			return len(sub.received()) == 1
		}, time.Second, 10*time.Millisecond)
		got := sub.received()[0]
		assert.Equal(t, ChangesApplied, got.Type)
		assert.False(t, got.Timestamp.IsZero())
	}
}

func TestBrokerUnsubscribeClosesSubscriber(t *testing.T) {
	b := newRunningBroker(t)

	sub := &recordingSubscriber{}
	b.Subscribe(sub)
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	b.Unsubscribe(sub)
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
	assert.True(t, sub.isClosed())

	// Events published after unsubscribe never reach the subscriber.
	b.Publish(SyncNoop, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sub.received())
}

func TestBrokerShutdownClosesAll(t *testing.T) {
	b := NewBroker(logging.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	sub := &recordingSubscriber{}
	b.Subscribe(sub)
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broker did not shut down")
	}
	assert.True(t, sub.isClosed())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishLedgerMapsTypes(t *testing.T) {
	b := newRunningBroker(t)

	sub := &recordingSubscriber{}
	b.Subscribe(sub)
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	b.PublishLedger(eventstore.Event{
		EntityID: "model/claude",
		Type:     eventstore.TypeEscalationRaised,
		Version:  3,
	})

	require.Eventually(t, func() bool {
		return len(sub.received()) == 1
	}, time.Second, 10*time.Millisecond)
	got := sub.received()[0]
	assert.Equal(t, EscalationRaised, got.Type)

	ledger, ok := got.Data.(eventstore.Event)
	require.True(t, ok)
	assert.Equal(t, int64(3), ledger.Version)
}

func TestFeedType(t *testing.T) {
	assert.Equal(t, SyncNoop, feedType(eventstore.TypeSyncNoop))
	assert.Equal(t, ConflictResolved, feedType(eventstore.TypeConflictResolved))
	assert.Equal(t, SyncFailed, feedType(eventstore.TypeSyncFailed))
	assert.Equal(t, EventType("sync.custom"), feedType(eventstore.Type("custom")))
}
