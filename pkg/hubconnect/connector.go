// Package hubconnect is the client-side companion of the hub: services
// embed a Connector to register themselves, keep a heartbeat running, and
// discover other services with local caching.
//
// The Connector survives hub restarts: when a heartbeat reports that the
// hub no longer knows the service id (the registry is volatile and
// rebuilt on restart), the Connector re-registers automatically. Dial
// failures are retried with exponential backoff plus jitter.
package hubconnect

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/grpchub-io/grpchub/shared/hubpb"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	// jitterFraction adds up to ±20% random jitter to each backoff
	// interval to prevent thundering herd when many services reconnect
	// simultaneously.
	jitterFraction = 0.2

	// defaultHeartbeatInterval is how often the service signals liveness.
	// The hub marks a service offline after 10 s of silence, so 7 s leaves
	// headroom for network delays.
	defaultHeartbeatInterval = 7 * time.Second

	// defaultDiscoveryTTL is how long a resolved service address is served
	// from the local cache before the hub is asked again.
	defaultDiscoveryTTL = 30 * time.Second
)

// Service describes the registration this Connector maintains.
type Service struct {
	Name     string
	Version  string
	Address  string
	Port     int
	Methods  []string
	Metadata map[string]string
}

// Config holds the parameters needed to connect to the hub.
type Config struct {
	// HubAddr is the hub's gRPC address (e.g. "localhost:50099").
	HubAddr string
	// Service is the registration to maintain.
	Service Service

	// HeartbeatInterval and DiscoveryTTL override the defaults; zero
	// selects production values. Tests shrink them.
	HeartbeatInterval time.Duration
	DiscoveryTTL      time.Duration

	// DialOptions replace the default dial options (insecure transport).
	// Tests use this to connect over an in-memory listener.
	DialOptions []grpc.DialOption
}

type cacheEntry struct {
	addr    string
	expires time.Time
}

// Connector maintains the registration and heartbeat of one service and
// offers cached discovery of others. Create with New, then call Run in a
// goroutine.
type Connector struct {
	cfg    Config
	logger *zap.Logger

	// mu protects client and serviceID, both replaced on reconnect and
	// re-registration.
	mu        sync.RWMutex
	client    hubpb.HubClient
	serviceID string

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// New creates a Connector. Call Run to start the registration loop.
func New(cfg Config, logger *zap.Logger) *Connector {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = defaultDiscoveryTTL
	}
	return &Connector{
		cfg:    cfg,
		logger: logger.Named("hubconnect"),
		cache:  make(map[string]cacheEntry),
	}
}

// Run connects to the hub, registers, and keeps the heartbeat running.
// On any failure it reconnects with exponential backoff. Blocks until ctx
// is cancelled; the service is unregistered on the way out (best effort).
func (c *Connector) Run(ctx context.Context) {
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			c.logger.Info("connector stopped")
			return
		}

		c.logger.Info("connecting to hub", zap.String("addr", c.cfg.HubAddr))

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("hub session failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// Successful session: reset backoff for the next reconnect.
		backoff = backoffInitial
	}
}

// connect establishes one hub session: dial, register, heartbeat until
// the session ends.
func (c *Connector) connect(ctx context.Context) error {
	opts := c.cfg.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(c.cfg.HubAddr, opts...)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	client := hubpb.NewHubClient(conn)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := c.register(ctx, client); err != nil {
		return err
	}

	err = c.heartbeatLoop(ctx, client)
	if ctx.Err() != nil {
		c.unregister(client)
		return nil
	}
	return err
}

func (c *Connector) register(ctx context.Context, client hubpb.HubClient) error {
	svc := c.cfg.Service
	resp, err := client.Register(ctx, &hubpb.RegisterRequest{
		ServiceName:    svc.Name,
		ServiceVersion: svc.Version,
		ServiceAddress: svc.Address,
		ServicePort:    uint32(svc.Port),
		Methods:        svc.Methods,
		Metadata:       svc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("register failed: %w", err)
	}

	c.mu.Lock()
	c.serviceID = resp.GetServiceId()
	c.mu.Unlock()

	c.logger.Info("registered with hub",
		zap.String("service_id", resp.GetServiceId()),
		zap.String("service_name", svc.Name),
	)
	return nil
}

// heartbeatLoop sends periodic heartbeats. When the hub reports the id as
// unknown (hub restarted and lost the volatile registry), the service
// re-registers within the same session.
func (c *Connector) heartbeatLoop(ctx context.Context, client hubpb.HubClient) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			resp, err := client.Heartbeat(ctx, &hubpb.HeartbeatRequest{ServiceId: c.ServiceID()})
			if err != nil {
				return fmt.Errorf("heartbeat failed: %w", err)
			}
			if !resp.GetHealthy() {
				c.logger.Warn("hub no longer knows this service, re-registering",
					zap.String("service_id", c.ServiceID()),
				)
				if err := c.register(ctx, client); err != nil {
					return err
				}
			}
		}
	}
}

// unregister removes the registration on shutdown. Best effort with a
// short deadline; the hub's staleness sweep cleans up if this fails.
func (c *Connector) unregister(client hubpb.HubClient) {
	id := c.ServiceID()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Unregister(ctx, &hubpb.UnregisterRequest{ServiceId: id}); err != nil {
		c.logger.Warn("unregister on shutdown failed", zap.Error(err))
	}
}

// ServiceID returns the id the hub assigned, or "" before the first
// successful registration.
func (c *Connector) ServiceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serviceID
}

func (c *Connector) currentClient() (hubpb.HubClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, fmt.Errorf("not connected to hub")
	}
	return c.client, nil
}

// ServiceAddress resolves a service name to "host:port", serving from the
// local cache while the entry is fresh.
func (c *Connector) ServiceAddress(ctx context.Context, name string) (string, error) {
	c.cacheMu.Lock()
	entry, ok := c.cache[name]
	c.cacheMu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.addr, nil
	}
	return c.Discover(ctx, name)
}

// Discover resolves a service name through the hub, bypassing and
// refreshing the cache. Instances are preferred online first, then busy,
// then any.
func (c *Connector) Discover(ctx context.Context, name string) (string, error) {
	client, err := c.currentClient()
	if err != nil {
		return "", err
	}
	resp, err := client.List(ctx, &hubpb.ListRequest{Filter: name})
	if err != nil {
		return "", fmt.Errorf("discover %q: %w", name, err)
	}

	var busy, any *hubpb.ServiceInfo
	for _, svc := range resp.GetServices() {
		if svc.GetServiceName() != name {
			continue
		}
		switch svc.GetStatus() {
		case "online":
			return c.cacheAddr(name, svc), nil
		case "busy":
			if busy == nil {
				busy = svc
			}
		}
		if any == nil {
			any = svc
		}
	}
	if busy != nil {
		return c.cacheAddr(name, busy), nil
	}
	if any != nil {
		return c.cacheAddr(name, any), nil
	}
	return "", fmt.Errorf("no instance registered for service %q", name)
}

func (c *Connector) cacheAddr(name string, svc *hubpb.ServiceInfo) string {
	addr := net.JoinHostPort(svc.GetServiceAddress(), fmt.Sprintf("%d", svc.GetServicePort()))
	c.cacheMu.Lock()
	c.cache[name] = cacheEntry{addr: addr, expires: time.Now().Add(c.cfg.DiscoveryTTL)}
	c.cacheMu.Unlock()
	return addr
}

// ClearCache drops all cached discovery results.
func (c *Connector) ClearCache() {
	c.cacheMu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.cacheMu.Unlock()
}

// IsOnline reports whether at least one online instance of name is
// registered. Always queries the hub directly.
func (c *Connector) IsOnline(ctx context.Context, name string) bool {
	client, err := c.currentClient()
	if err != nil {
		return false
	}
	resp, err := client.List(ctx, &hubpb.ListRequest{Filter: name})
	if err != nil {
		return false
	}
	for _, svc := range resp.GetServices() {
		if svc.GetServiceName() == name && svc.GetStatus() == "online" {
			return true
		}
	}
	return false
}

// SetBusy reports this service as busy to the hub, e.g. around an
// expensive exclusive operation.
func (c *Connector) SetBusy(ctx context.Context) error {
	return c.updateStatus(ctx, "busy")
}

// SetOnline reports this service as online again.
func (c *Connector) SetOnline(ctx context.Context) error {
	return c.updateStatus(ctx, "online")
}

func (c *Connector) updateStatus(ctx context.Context, status string) error {
	client, err := c.currentClient()
	if err != nil {
		return err
	}
	id := c.ServiceID()
	if id == "" {
		return fmt.Errorf("not registered with hub")
	}
	resp, err := client.UpdateStatus(ctx, &hubpb.UpdateStatusRequest{ServiceId: id, Status: status})
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !resp.GetSuccess() {
		return fmt.Errorf("update status: %s", resp.GetMessage())
	}
	return nil
}

// nextBackoff returns the next backoff duration, capped at backoffMax.
func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// jitter adds a random ±jitterFraction perturbation to d to avoid
// thundering herd on reconnect.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
