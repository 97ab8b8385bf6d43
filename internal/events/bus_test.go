package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	ev := NewStatusChange("id-1", "user", "offline", "Health check failed")
	bus.Publish(ev)

	for _, sub := range []*Subscriber{a, b} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, TypeStatusChange, got.Type)
			assert.Equal(t, "user", got.ServiceName)

			var data StatusChangeData
			require.NoError(t, json.Unmarshal([]byte(got.Data), &data))
			assert.Equal(t, "id-1", data.ServiceID)
			assert.Equal(t, "offline", data.Status)
			assert.Equal(t, "Health check failed", data.Reason)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsOldestOnly(t *testing.T) {
	bus := NewBus(zap.NewNop())
	slow := bus.Subscribe()
	fast := bus.Subscribe()
	defer bus.Unsubscribe(slow)

	// Overflow the slow subscriber's queue without draining it.
	total := queueCapacity + 25
	for i := 0; i < total; i++ {
		bus.Publish(Event{Type: TypeStatusChange, Data: fmt.Sprintf("%d", i)})
		// Keep the fast subscriber drained so it never lags.
		select {
		case <-fast.Events():
		default:
		}
	}
	bus.Unsubscribe(fast)

	// The slow subscriber holds exactly the last queueCapacity events.
	var got []string
	for {
		select {
		case ev := <-slow.Events():
			got = append(got, ev.Data)
			continue
		default:
		}
		break
	}
	require.Len(t, got, queueCapacity)
	assert.Equal(t, fmt.Sprintf("%d", total-queueCapacity), got[0])
	assert.Equal(t, fmt.Sprintf("%d", total-1), got[len(got)-1])
}

func TestLagWarningReportsDeltaNotTotal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewBus(zap.New(core))
	slow := bus.Subscribe()
	defer bus.Unsubscribe(slow)

	// Fill the queue, then overflow it a few times without draining.
	for i := 0; i < queueCapacity+3; i++ {
		bus.Publish(Event{Type: TypeStatusChange})
	}

	entries := logs.FilterMessage("subscriber lagged, skipped events").All()
	require.Len(t, entries, 3)
	for _, entry := range entries {
		fields := entry.ContextMap()
		// Each notice covers only the drops since the previous one, not
		// the subscriber's lifetime total.
		assert.Equal(t, int64(1), fields["skipped"])
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < queueCapacity*3; i++ {
			bus.Publish(Event{Type: TypeConnection})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-sub.Events()
	assert.False(t, open)

	// Idempotent; publishing afterwards must not panic.
	bus.Unsubscribe(sub)
	bus.Publish(Event{Type: TypeConnection})
}

func TestEventsDeliveredInPublishOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TypeStatusChange, Data: fmt.Sprintf("%d", i)})
	}
	for i := 0; i < 10; i++ {
		ev := <-sub.Events()
		assert.Equal(t, fmt.Sprintf("%d", i), ev.Data)
	}
}
