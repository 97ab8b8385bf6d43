package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/registry"
)

func newTestHub(t *testing.T) (*Hub, *events.Subscriber) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	h := New(registry.NewTable(zap.NewNop()), bus, zap.NewNop())
	sub := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(sub) })
	return h, sub
}

func recvEvent(t *testing.T, sub *events.Subscriber) events.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return events.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *events.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: %s %s", ev.Type, ev.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func statusData(t *testing.T, ev events.Event) events.StatusChangeData {
	t.Helper()
	var data events.StatusChangeData
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &data))
	return data
}

func TestRegisterEmitsOnlyForNewInstances(t *testing.T) {
	h, sub := newTestHub(t)

	id, created := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	require.True(t, created)

	ev := recvEvent(t, sub)
	assert.Equal(t, events.TypeServiceRegistered, ev.Type)
	assert.Equal(t, "user", ev.ServiceName)

	var data events.RegisteredData
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &data))
	assert.Equal(t, id, data.ServiceID)

	// Re-registration of the same triple is a silent update.
	same, created := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	assert.False(t, created)
	assert.Equal(t, id, same)
	assertNoEvent(t, sub)
}

func TestHeartbeatRecoveryEmitsOnline(t *testing.T) {
	h, sub := newTestHub(t)
	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	recvEvent(t, sub) // service_registered

	// Healthy heartbeat: no event.
	res := h.Heartbeat(id)
	require.True(t, res.Found)
	assertNoEvent(t, sub)

	h.MarkOffline(id, ReasonHealthCheckFailed)
	recvEvent(t, sub) // offline

	res = h.Heartbeat(id)
	require.True(t, res.Found)
	ev := recvEvent(t, sub)
	data := statusData(t, ev)
	assert.Equal(t, "online", data.Status)
	assert.Equal(t, id, data.ServiceID)
	assert.Empty(t, data.Reason)

	assert.False(t, h.Heartbeat("no-such-id").Found)
}

func TestSetStatusEmitsOnceForRepeatedValue(t *testing.T) {
	h, sub := newTestHub(t)
	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	recvEvent(t, sub)

	changed, found := h.SetStatus(id, registry.StatusBusy, ReasonStatusReported)
	require.True(t, found)
	assert.True(t, changed)
	data := statusData(t, recvEvent(t, sub))
	assert.Equal(t, "busy", data.Status)
	assert.Equal(t, ReasonStatusReported, data.Reason)

	// Same value again: one event total.
	changed, found = h.SetStatus(id, registry.StatusBusy, ReasonStatusReported)
	require.True(t, found)
	assert.False(t, changed)
	assertNoEvent(t, sub)

	_, found = h.SetStatus("no-such-id", registry.StatusOnline, "")
	assert.False(t, found)
}

func TestBusyCycle(t *testing.T) {
	h, sub := newTestHub(t)
	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	recvEvent(t, sub)

	require.True(t, h.SetBusy(id))
	assert.Equal(t, "busy", statusData(t, recvEvent(t, sub)).Status)

	// Already busy: no double transition.
	assert.False(t, h.SetBusy(id))
	assertNoEvent(t, sub)

	require.True(t, h.ReleaseBusy(id))
	assert.Equal(t, "online", statusData(t, recvEvent(t, sub)).Status)
}

func TestMarkOfflineSkipsBusyCycleReturn(t *testing.T) {
	h, sub := newTestHub(t)
	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 9001})
	recvEvent(t, sub)

	h.SetBusy(id)
	recvEvent(t, sub)

	require.True(t, h.MarkOffline(id, ReasonDirectConnFailed))
	data := statusData(t, recvEvent(t, sub))
	assert.Equal(t, "offline", data.Status)
	assert.Equal(t, ReasonDirectConnFailed, data.Reason)

	// The call completing afterwards must not resurrect the instance.
	assert.False(t, h.ReleaseBusy(id))
	assertNoEvent(t, sub)
	rec, _ := h.Get(id)
	assert.Equal(t, registry.StatusOffline, rec.Status)

	// Already offline: no further event.
	assert.False(t, h.MarkOffline(id, ReasonHealthCheckFailed))
	assertNoEvent(t, sub)
}

func TestExpireStaleEmitsPerRecord(t *testing.T) {
	h, sub := newTestHub(t)
	h.Register(registry.Description{Name: "a", Address: "h1", Port: 1})
	h.Register(registry.Description{Name: "b", Address: "h2", Port: 2})
	recvEvent(t, sub)
	recvEvent(t, sub)

	time.Sleep(20 * time.Millisecond)
	n := h.ExpireStale(10 * time.Millisecond)
	assert.Equal(t, 2, n)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		data := statusData(t, recvEvent(t, sub))
		assert.Equal(t, "offline", data.Status)
		seen[data.ServiceName] = true
	}
	assert.True(t, seen["a"] && seen["b"])
}
