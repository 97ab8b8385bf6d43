package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTable() *Table {
	return NewTable(zap.NewNop())
}

func desc(name, addr string, port int) Description {
	return Description{
		Name:    name,
		Version: "1.0.0",
		Address: addr,
		Port:    port,
		Methods: []string{"Ping"},
	}
}

func TestInsertOrUpdateDeduplicates(t *testing.T) {
	tbl := newTestTable()

	id1, created := tbl.InsertOrUpdate(desc("user", "10.0.0.1", 9001))
	require.True(t, created)
	require.NotEmpty(t, id1)

	first, ok := tbl.Get(id1)
	require.True(t, ok)

	// Same (name, address, port): id and RegisteredAt survive, the rest is
	// overwritten.
	d := desc("user", "10.0.0.1", 9001)
	d.Version = "2.0.0"
	d.Methods = []string{"Ping", "Pong"}
	id2, created := tbl.InsertOrUpdate(d)
	assert.False(t, created)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, tbl.Len())

	rec, ok := tbl.Get(id1)
	require.True(t, ok)
	assert.Equal(t, "2.0.0", rec.Version)
	assert.Equal(t, []string{"Ping", "Pong"}, rec.Methods)
	assert.Equal(t, first.RegisteredAt, rec.RegisteredAt)
	assert.Equal(t, StatusOnline, rec.Status)

	// Different port is a distinct instance.
	id3, created := tbl.InsertOrUpdate(desc("user", "10.0.0.1", 9002))
	assert.True(t, created)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, tbl.Len())
}

func TestInsertOrUpdateRevivesOfflineRecord(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("order", "10.0.0.2", 9001))

	changed, _, found := tbl.SetStatus(id, StatusOffline)
	require.True(t, found)
	require.True(t, changed)

	same, created := tbl.InsertOrUpdate(desc("order", "10.0.0.2", 9001))
	assert.False(t, created)
	assert.Equal(t, id, same)

	rec, _ := tbl.Get(id)
	assert.Equal(t, StatusOnline, rec.Status)
}

func TestTouch(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "10.0.0.1", 9001))

	res := tbl.Touch(id)
	require.True(t, res.Found)
	assert.False(t, res.WasOffline)

	tbl.SetStatus(id, StatusOffline)
	res = tbl.Touch(id)
	require.True(t, res.Found)
	assert.True(t, res.WasOffline)
	assert.Equal(t, StatusOnline, res.Record.Status)

	assert.False(t, tbl.Touch("no-such-id").Found)
}

func TestTouchKeepsTimestampsOrdered(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "10.0.0.1", 9001))

	time.Sleep(5 * time.Millisecond)
	res := tbl.Touch(id)
	require.True(t, res.Found)
	assert.False(t, res.Record.LastHeartbeat.Before(res.Record.RegisteredAt))
}

func TestSnapshotSortedAndFiltered(t *testing.T) {
	tbl := newTestTable()
	tbl.InsertOrUpdate(desc("zebra", "h", 1))
	tbl.InsertOrUpdate(desc("alpha", "h", 2))
	tbl.InsertOrUpdate(desc("mango", "h", 3))

	all := tbl.Snapshot("")
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "mango", all[1].Name)
	assert.Equal(t, "zebra", all[2].Name)

	filtered := tbl.Snapshot("an")
	require.Len(t, filtered, 1)
	assert.Equal(t, "mango", filtered[0].Name)

	// Filter also matches version.
	d := desc("omega", "h", 4)
	d.Version = "canary"
	tbl.InsertOrUpdate(d)
	filtered = tbl.Snapshot("canary")
	require.Len(t, filtered, 1)
	assert.Equal(t, "omega", filtered[0].Name)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	tbl := newTestTable()
	d := desc("user", "h", 1)
	d.Metadata = map[string]string{"zone": "a"}
	id, _ := tbl.InsertOrUpdate(d)

	snap := tbl.Snapshot("")
	snap[0].Metadata["zone"] = "tampered"
	snap[0].Methods[0] = "tampered"

	rec, _ := tbl.Get(id)
	assert.Equal(t, "a", rec.Metadata["zone"])
	assert.Equal(t, "Ping", rec.Methods[0])
}

func TestSetStatus(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "h", 1))

	changed, rec, found := tbl.SetStatus(id, StatusBusy)
	require.True(t, found)
	assert.True(t, changed)
	assert.Equal(t, StatusBusy, rec.Status)

	// Same value again: stored but not a change.
	changed, _, found = tbl.SetStatus(id, StatusBusy)
	require.True(t, found)
	assert.False(t, changed)

	_, _, found = tbl.SetStatus("no-such-id", StatusOnline)
	assert.False(t, found)
}

func TestTransitionFrom(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "h", 1))

	changed, rec, found := tbl.TransitionFrom(id, StatusOnline, StatusBusy)
	require.True(t, found)
	assert.True(t, changed)
	assert.Equal(t, StatusBusy, rec.Status)

	// Wrong source state: no write.
	changed, rec, found = tbl.TransitionFrom(id, StatusOnline, StatusBusy)
	require.True(t, found)
	assert.False(t, changed)
	assert.Equal(t, StatusBusy, rec.Status)

	// An instance that went offline mid-call must stay offline.
	tbl.SetStatus(id, StatusOffline)
	changed, rec, _ = tbl.TransitionFrom(id, StatusBusy, StatusOnline)
	assert.False(t, changed)
	assert.Equal(t, StatusOffline, rec.Status)

	_, _, found = tbl.TransitionFrom("no-such-id", StatusOnline, StatusBusy)
	assert.False(t, found)
}

func TestFindByAddr(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "10.0.0.1", 9001))

	got, ok := tbl.FindByAddr("10.0.0.1", 9001)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = tbl.FindByAddr("10.0.0.1", 9999)
	assert.False(t, ok)
}

func TestSelectBestPrefersOnlineThenBusy(t *testing.T) {
	tbl := newTestTable()
	a, _ := tbl.InsertOrUpdate(desc("svc", "h1", 1))
	b, _ := tbl.InsertOrUpdate(desc("svc", "h2", 2))
	c, _ := tbl.InsertOrUpdate(desc("svc", "h3", 3))

	// All online: first by insertion order wins.
	inst, ok := tbl.SelectBest("svc")
	require.True(t, ok)
	assert.Equal(t, a, inst.ID)

	// First goes busy: next online wins.
	tbl.SetStatus(a, StatusBusy)
	inst, _ = tbl.SelectBest("svc")
	assert.Equal(t, b, inst.ID)

	// No online left: first busy in insertion order wins.
	tbl.SetStatus(b, StatusOffline)
	tbl.SetStatus(c, StatusBusy)
	inst, _ = tbl.SelectBest("svc")
	assert.Equal(t, a, inst.ID)

	// Everything offline: still routable, first matching wins.
	tbl.SetStatus(a, StatusOffline)
	tbl.SetStatus(c, StatusOffline)
	inst, _ = tbl.SelectBest("svc")
	assert.Equal(t, a, inst.ID)

	_, ok = tbl.SelectBest("unknown")
	assert.False(t, ok)
}

func TestExpireStale(t *testing.T) {
	tbl := newTestTable()
	stale, _ := tbl.InsertOrUpdate(desc("stale", "h1", 1))
	busy, _ := tbl.InsertOrUpdate(desc("busy", "h2", 2))
	tbl.SetStatus(busy, StatusBusy)

	// Nothing is older than the threshold yet.
	assert.Empty(t, tbl.ExpireStale(time.Minute))

	time.Sleep(20 * time.Millisecond)
	expired := tbl.ExpireStale(10 * time.Millisecond)
	require.Len(t, expired, 1)
	assert.Equal(t, stale, expired[0].ID)
	assert.Equal(t, StatusOffline, expired[0].Status)

	// Busy records are never demoted by the staleness sweep.
	rec, _ := tbl.Get(busy)
	assert.Equal(t, StatusBusy, rec.Status)

	// Already-offline records are not collected again.
	assert.Empty(t, tbl.ExpireStale(10*time.Millisecond))
}

func TestProbeTargets(t *testing.T) {
	tbl := newTestTable()
	a, _ := tbl.InsertOrUpdate(desc("a", "h1", 1))
	b, _ := tbl.InsertOrUpdate(desc("b", "h2", 2))
	c, _ := tbl.InsertOrUpdate(desc("c", "h3", 3))
	tbl.SetStatus(b, StatusBusy)
	tbl.SetStatus(c, StatusOffline)

	targets := tbl.ProbeTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, a, targets[0].ID)
	assert.Equal(t, b, targets[1].ID)
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	tbl := newTestTable()
	id, _ := tbl.InsertOrUpdate(desc("user", "h", 1))

	require.True(t, tbl.Remove(id))
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Remove(id))

	_, ok := tbl.Get(id)
	assert.False(t, ok)
}
