package hubgrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/registry"
	"github.com/grpchub-io/grpchub/internal/router"
	"github.com/grpchub-io/grpchub/shared/hubpb"
)

// newTestClient wires a Server to an in-memory bufconn listener and
// returns a connected client.
func newTestClient(t *testing.T) (hubpb.HubClient, *hub.Hub) {
	t.Helper()

	bus := events.NewBus(zap.NewNop())
	h := hub.New(registry.NewTable(zap.NewNop()), bus, zap.NewNop())
	r := router.New(h, nil, router.Config{}, zap.NewNop())
	srv := New(h, r, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	hubpb.RegisterHubServer(grpcServer, srv)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return hubpb.NewHubClient(conn), h
}

func TestRegisterHeartbeatUnregister(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	reg, err := client.Register(ctx, &hubpb.RegisterRequest{
		ServiceName:    "user",
		ServiceVersion: "1.0.0",
		ServiceAddress: "127.0.0.1",
		ServicePort:    9001,
		Methods:        []string{"GetUser"},
		Metadata:       map[string]string{"zone": "a"},
	})
	require.NoError(t, err)
	assert.True(t, reg.GetSuccess())
	assert.Equal(t, "Service registered successfully", reg.GetMessage())
	require.NotEmpty(t, reg.GetServiceId())

	// Same triple: same id.
	again, err := client.Register(ctx, &hubpb.RegisterRequest{
		ServiceName:    "user",
		ServiceAddress: "127.0.0.1",
		ServicePort:    9001,
	})
	require.NoError(t, err)
	assert.Equal(t, reg.GetServiceId(), again.GetServiceId())

	hb, err := client.Heartbeat(ctx, &hubpb.HeartbeatRequest{ServiceId: reg.GetServiceId()})
	require.NoError(t, err)
	assert.True(t, hb.GetHealthy())
	assert.Equal(t, "Service is healthy", hb.GetMessage())

	hb, err = client.Heartbeat(ctx, &hubpb.HeartbeatRequest{ServiceId: "no-such-id"})
	require.NoError(t, err)
	assert.False(t, hb.GetHealthy())
	assert.Equal(t, "Service not found", hb.GetMessage())

	unreg, err := client.Unregister(ctx, &hubpb.UnregisterRequest{ServiceId: reg.GetServiceId()})
	require.NoError(t, err)
	assert.True(t, unreg.GetSuccess())

	unreg, err = client.Unregister(ctx, &hubpb.UnregisterRequest{ServiceId: reg.GetServiceId()})
	require.NoError(t, err)
	assert.False(t, unreg.GetSuccess())
	assert.Equal(t, "Service not found", unreg.GetMessage())
}

func TestListAndGet(t *testing.T) {
	client, h := newTestClient(t)
	ctx := context.Background()

	h.Register(registry.Description{Name: "zebra", Version: "1", Address: "h", Port: 1})
	id, _ := h.Register(registry.Description{Name: "alpha", Version: "2", Address: "h", Port: 2})

	list, err := client.List(ctx, &hubpb.ListRequest{})
	require.NoError(t, err)
	require.Len(t, list.GetServices(), 2)
	assert.Equal(t, "alpha", list.GetServices()[0].GetServiceName())
	assert.Equal(t, "zebra", list.GetServices()[1].GetServiceName())
	assert.Equal(t, "online", list.GetServices()[0].GetStatus())

	// RFC3339 timestamps on the wire.
	_, err = time.Parse(time.RFC3339, list.GetServices()[0].GetRegisteredAt())
	assert.NoError(t, err)

	list, err = client.List(ctx, &hubpb.ListRequest{Filter: "zeb"})
	require.NoError(t, err)
	require.Len(t, list.GetServices(), 1)
	assert.Equal(t, "zebra", list.GetServices()[0].GetServiceName())

	got, err := client.Get(ctx, &hubpb.GetRequest{ServiceId: id})
	require.NoError(t, err)
	assert.True(t, got.GetFound())
	assert.Equal(t, "alpha", got.GetService().GetServiceName())

	got, err = client.Get(ctx, &hubpb.GetRequest{ServiceId: "nope"})
	require.NoError(t, err)
	assert.False(t, got.GetFound())
	assert.Nil(t, got.GetService())
}

func TestUpdateStatus(t *testing.T) {
	client, h := newTestClient(t)
	ctx := context.Background()

	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 1})

	resp, err := client.UpdateStatus(ctx, &hubpb.UpdateStatusRequest{ServiceId: id, Status: "busy"})
	require.NoError(t, err)
	assert.True(t, resp.GetSuccess())

	rec, _ := h.Get(id)
	assert.Equal(t, registry.StatusBusy, rec.Status)

	_, err = client.UpdateStatus(ctx, &hubpb.UpdateStatusRequest{ServiceId: id, Status: "bogus"})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	resp, err = client.UpdateStatus(ctx, &hubpb.UpdateStatusRequest{ServiceId: "nope", Status: "online"})
	require.NoError(t, err)
	assert.False(t, resp.GetSuccess())
}

func TestCallServiceUnimplementedWithoutForwarder(t *testing.T) {
	client, h := newTestClient(t)
	h.Register(registry.Description{Name: "user", Address: "127.0.0.1", Port: 1})

	_, err := client.CallService(context.Background(), &hubpb.CallServiceRequest{
		ServiceName: "user",
		MethodName:  "GetUser",
	})
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestCallServiceNoInstance(t *testing.T) {
	client, _ := newTestClient(t)

	resp, err := client.CallService(context.Background(), &hubpb.CallServiceRequest{
		ServiceName: "ghost",
		MethodName:  "M",
	})
	require.NoError(t, err)
	assert.False(t, resp.GetSuccess())
	assert.Contains(t, resp.GetError(), "no instance")
}

func TestSubscribeStreamsFilteredEvents(t *testing.T) {
	client, h := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Subscribe(ctx, &hubpb.SubscribeRequest{ServiceName: "user"})
	require.NoError(t, err)

	head, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, events.TypeSubscribed, head.GetEventType())

	// Give the server a moment to attach the bus subscriber before
	// publishing.
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	h.Register(registry.Description{Name: "other", Address: "h", Port: 1})
	id, _ := h.Register(registry.Description{Name: "user", Address: "h", Port: 2})

	// The "other" registration is filtered out; the next event on the
	// stream is for "user".
	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, events.TypeServiceRegistered, ev.GetEventType())
	assert.Equal(t, "user", ev.GetServiceName())

	h.MarkOffline(id, hub.ReasonHealthCheckFailed)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, events.TypeStatusChange, ev.GetEventType())
	assert.Contains(t, ev.GetData(), hub.ReasonHealthCheckFailed)
}
