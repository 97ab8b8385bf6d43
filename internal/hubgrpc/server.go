// Package hubgrpc implements the gRPC server that services connect to.
//
// The server listens on a dedicated port (default: 50099) separate from
// the HTTP API port (8080). It implements the Hub service defined in
// shared/hubpb/hub.proto and is a thin translation layer: registry
// semantics live in internal/hub, call routing in internal/router.
package hubgrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/registry"
	"github.com/grpchub-io/grpchub/internal/router"
	"github.com/grpchub-io/grpchub/shared/hubpb"
)

// Server is the service-facing gRPC surface.
// It wraps the generated UnimplementedHubServer to ensure forward
// compatibility when new RPCs are added to the proto.
type Server struct {
	hubpb.UnimplementedHubServer

	hub    *hub.Hub
	router *router.Router
	logger *zap.Logger
}

// New creates a new Server instance with the given dependencies.
func New(h *hub.Hub, r *router.Router, logger *zap.Logger) *Server {
	return &Server{
		hub:    h,
		router: r,
		logger: logger.Named("grpc"),
	}
}

// ListenAndServe starts the gRPC server and blocks until the context is
// cancelled or a fatal error occurs.
//
// The caller is responsible for passing a context that is cancelled on
// shutdown (e.g. via signal handling in cmd/hub/main.go).
func (s *Server) ListenAndServe(ctx context.Context, listenAddr string) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("grpc: failed to listen on %s: %w", listenAddr, err)
	}

	grpcServer := grpc.NewServer()
	hubpb.RegisterHubServer(grpcServer, s)

	// Shutdown goroutine: when the context is cancelled, GracefulStop
	// drains in-flight RPCs before closing connections.
	go func() {
		<-ctx.Done()
		s.logger.Info("grpc server shutting down gracefully")
		grpcServer.GracefulStop()
	}()

	s.logger.Info("grpc server listening", zap.String("addr", listenAddr))

	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc: server error: %w", err)
	}
	return nil
}

// Register adds or updates a service record. Registration always succeeds;
// re-registration of a known (name, address, port) reuses the existing id.
func (s *Server) Register(_ context.Context, req *hubpb.RegisterRequest) (*hubpb.RegisterResponse, error) {
	id, _ := s.hub.Register(registry.Description{
		Name:     req.GetServiceName(),
		Version:  req.GetServiceVersion(),
		Address:  req.GetServiceAddress(),
		Port:     int(req.GetServicePort()),
		Methods:  req.GetMethods(),
		Metadata: req.GetMetadata(),
	})
	return &hubpb.RegisterResponse{
		Success:   true,
		Message:   "Service registered successfully",
		ServiceId: id,
	}, nil
}

// Unregister removes a service record by id.
func (s *Server) Unregister(_ context.Context, req *hubpb.UnregisterRequest) (*hubpb.UnregisterResponse, error) {
	if !s.hub.Unregister(req.GetServiceId()) {
		return &hubpb.UnregisterResponse{Success: false, Message: "Service not found"}, nil
	}
	return &hubpb.UnregisterResponse{Success: true, Message: "Service unregistered successfully"}, nil
}

// Heartbeat refreshes a record's liveness. Unknown ids are reported in the
// response body rather than as an RPC error so the client can detect a hub
// restart and re-register.
func (s *Server) Heartbeat(_ context.Context, req *hubpb.HeartbeatRequest) (*hubpb.HeartbeatResponse, error) {
	res := s.hub.Heartbeat(req.GetServiceId())
	if !res.Found {
		return &hubpb.HeartbeatResponse{Healthy: false, Message: "Service not found"}, nil
	}
	return &hubpb.HeartbeatResponse{Healthy: true, Message: "Service is healthy"}, nil
}

// List returns all records matching the optional name/version filter,
// sorted by name.
func (s *Server) List(_ context.Context, req *hubpb.ListRequest) (*hubpb.ListResponse, error) {
	records := s.hub.List(req.GetFilter())
	resp := &hubpb.ListResponse{Services: make([]*hubpb.ServiceInfo, 0, len(records))}
	for _, rec := range records {
		resp.Services = append(resp.Services, toServiceInfo(rec))
	}
	return resp, nil
}

// Get returns one record by id.
func (s *Server) Get(_ context.Context, req *hubpb.GetRequest) (*hubpb.GetResponse, error) {
	rec, found := s.hub.Get(req.GetServiceId())
	if !found {
		return &hubpb.GetResponse{Found: false}, nil
	}
	return &hubpb.GetResponse{Service: toServiceInfo(rec), Found: true}, nil
}

// UpdateStatus stores a status reported by the service itself.
func (s *Server) UpdateStatus(_ context.Context, req *hubpb.UpdateStatusRequest) (*hubpb.UpdateStatusResponse, error) {
	st := registry.Status(req.GetStatus())
	if !st.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid status %q", req.GetStatus())
	}
	_, found := s.hub.SetStatus(req.GetServiceId(), st, hub.ReasonStatusReported)
	if !found {
		return &hubpb.UpdateStatusResponse{Success: false, Message: "Service not found"}, nil
	}
	return &hubpb.UpdateStatusResponse{Success: true, Message: "Status updated"}, nil
}

// CallService routes a call to the best instance of the named service.
func (s *Server) CallService(ctx context.Context, req *hubpb.CallServiceRequest) (*hubpb.CallServiceResponse, error) {
	out, err := s.router.Call(ctx, router.Request{
		Service: req.GetServiceName(),
		Method:  req.GetMethodName(),
		Payload: req.GetPayload(),
	})
	if err != nil {
		var cerr *router.CallError
		if errors.As(err, &cerr) && cerr.Kind == router.KindUnimplemented {
			return nil, status.Error(codes.Unimplemented, cerr.Error())
		}
		return &hubpb.CallServiceResponse{Success: false, Error: err.Error()}, nil
	}
	return &hubpb.CallServiceResponse{Success: true, Payload: out}, nil
}

// Subscribe streams registry events to the client until it disconnects.
// The stream opens with a subscribed event; subsequent events are filtered
// by service name when the request carries one.
func (s *Server) Subscribe(req *hubpb.SubscribeRequest, stream hubpb.Hub_SubscribeServer) error {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	filter := req.GetServiceName()
	s.logger.Info("event subscriber attached", zap.String("filter", filter))
	defer s.logger.Info("event subscriber detached", zap.String("filter", filter))

	head := &hubpb.ServiceEvent{
		EventType:   events.TypeSubscribed,
		ServiceName: filter,
		Data:        fmt.Sprintf(`{"filter":%q}`, filter),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := stream.Send(head); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if filter != "" && ev.ServiceName != filter {
				continue
			}
			msg := &hubpb.ServiceEvent{
				EventType:   ev.Type,
				ServiceName: ev.ServiceName,
				Data:        ev.Data,
				Timestamp:   ev.Timestamp.Format(time.RFC3339),
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func toServiceInfo(rec registry.Record) *hubpb.ServiceInfo {
	return &hubpb.ServiceInfo{
		ServiceId:      rec.ID,
		ServiceName:    rec.Name,
		ServiceVersion: rec.Version,
		ServiceAddress: rec.Address,
		ServicePort:    uint32(rec.Port),
		Methods:        rec.Methods,
		Metadata:       rec.Metadata,
		RegisteredAt:   rec.RegisteredAt.UTC().Format(time.RFC3339),
		LastHeartbeat:  rec.LastHeartbeat.UTC().Format(time.RFC3339),
		Status:         string(rec.Status),
	}
}
