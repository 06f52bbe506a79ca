package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventOperationStarted, Message: "build started"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventOperationStarted, ev.Type)
		assert.Equal(t, "build started", ev.Message)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_FanOutToMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventPortAttached})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventPortAttached, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: EventPortClosed})

	select {
	case _, ok := <-sub:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroker_PublishNonBlockingWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventOperationQueued})
	}

	// Publish must not block or panic even once the subscriber's buffer
	// fills; excess events are skipped for that subscriber.
	assert.Eventually(t, func() bool {
		return len(sub) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroker_PublishBeforeStartIsNotDelivered(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	// Without Start, nothing drains eventCh into subscribers.
	b.Publish(&Event{Type: EventClientConnected})

	select {
	case <-sub:
		t.Fatal("expected no delivery before broker is started")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_SubscriberCountSafeAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	// no panic on an unrelated call after stop
	assert.Equal(t, 0, b.SubscriberCount())
}
