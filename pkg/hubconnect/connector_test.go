package hubconnect

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/hubgrpc"
	"github.com/grpchub-io/grpchub/internal/registry"
	"github.com/grpchub-io/grpchub/internal/router"
	"github.com/grpchub-io/grpchub/shared/hubpb"
)

// newTestHub serves a real hub over an in-memory listener and returns the
// dial options a Connector needs to reach it.
func newTestHub(t *testing.T) (*hub.Hub, []grpc.DialOption) {
	t.Helper()

	h := hub.New(registry.NewTable(zap.NewNop()), events.NewBus(zap.NewNop()), zap.NewNop())
	r := router.New(h, nil, router.Config{}, zap.NewNop())
	srv := hubgrpc.New(h, r, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	hubpb.RegisterHubServer(grpcServer, srv)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	return h, opts
}

func newTestConnector(t *testing.T, h *hub.Hub, opts []grpc.DialOption, svc Service) *Connector {
	t.Helper()

	c := New(Config{
		HubAddr:           "passthrough:///bufnet",
		Service:           svc,
		HeartbeatInterval: 20 * time.Millisecond,
		DialOptions:       opts,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return c.ServiceID() != ""
	}, time.Second, 5*time.Millisecond, "connector never registered")
	return c
}

func TestRunRegistersAndHeartbeats(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Version: "1.0.0", Address: "127.0.0.1", Port: 9100,
	})

	rec, ok := h.Get(c.ServiceID())
	require.True(t, ok)
	assert.Equal(t, "billing", rec.Name)
	assert.Equal(t, registry.StatusOnline, rec.Status)

	// Heartbeats keep the liveness timestamp moving.
	first := rec.LastHeartbeat
	require.Eventually(t, func() bool {
		rec, ok := h.Get(c.ServiceID())
		return ok && rec.LastHeartbeat.After(first)
	}, time.Second, 5*time.Millisecond)
}

func TestReRegisterAfterHubForgets(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Address: "127.0.0.1", Port: 9100,
	})
	id := c.ServiceID()

	// Simulate a hub restart losing the registration.
	require.True(t, h.Unregister(id))

	// The next failed heartbeat triggers re-registration. The (name,
	// address, port) triple is new to the table, so a fresh id is minted.
	require.Eventually(t, func() bool {
		newID := c.ServiceID()
		_, ok := h.Get(newID)
		return ok && newID != ""
	}, time.Second, 5*time.Millisecond, "connector never re-registered")
	assert.Equal(t, 1, h.Len())
}

func TestStatusRoundTrip(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Address: "127.0.0.1", Port: 9100,
	})
	ctx := context.Background()

	require.NoError(t, c.SetBusy(ctx))
	rec, _ := h.Get(c.ServiceID())
	assert.Equal(t, registry.StatusBusy, rec.Status)

	require.NoError(t, c.SetOnline(ctx))
	rec, _ = h.Get(c.ServiceID())
	assert.Equal(t, registry.StatusOnline, rec.Status)
}

func TestDiscoverPrefersOnline(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Address: "127.0.0.1", Port: 9100,
	})
	ctx := context.Background()

	busyID, _ := h.Register(registry.Description{Name: "orders", Address: "10.0.0.1", Port: 7001})
	require.True(t, h.SetBusy(busyID))
	h.Register(registry.Description{Name: "orders", Address: "10.0.0.2", Port: 7002})

	addr, err := c.Discover(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7002", addr)

	_, err = c.Discover(ctx, "nothere")
	assert.Error(t, err)
}

func TestServiceAddressCaches(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Address: "127.0.0.1", Port: 9100,
	})
	ctx := context.Background()

	id, _ := h.Register(registry.Description{Name: "orders", Address: "10.0.0.1", Port: 7001})

	addr, err := c.ServiceAddress(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7001", addr)

	// Registration goes away but the cached answer is still served.
	require.True(t, h.Unregister(id))
	addr, err = c.ServiceAddress(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7001", addr)

	// After clearing the cache the hub is asked again.
	c.ClearCache()
	_, err = c.ServiceAddress(ctx, "orders")
	assert.Error(t, err)
}

func TestIsOnline(t *testing.T) {
	h, opts := newTestHub(t)
	c := newTestConnector(t, h, opts, Service{
		Name: "billing", Address: "127.0.0.1", Port: 9100,
	})
	ctx := context.Background()

	assert.True(t, c.IsOnline(ctx, "billing"))
	assert.False(t, c.IsOnline(ctx, "orders"))

	id, _ := h.Register(registry.Description{Name: "orders", Address: "10.0.0.1", Port: 7001})
	assert.True(t, c.IsOnline(ctx, "orders"))

	h.MarkOffline(id, "")
	assert.False(t, c.IsOnline(ctx, "orders"))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(1*time.Second))
	assert.Equal(t, backoffMax, nextBackoff(40*time.Second))
	assert.Equal(t, backoffMax, nextBackoff(backoffMax))
}

func TestJitterBounds(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 100; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, 8*time.Second)
		assert.LessOrEqual(t, j, 12*time.Second)
	}
}
