// Package health runs the two liveness loops that demote unresponsive
// service records to offline.
//
// The loops enforce different invariants and are deliberately independent:
// the staleness sweep catches crashed registrants that stopped
// heartbeating, while the active TCP probe catches hung registrants whose
// heartbeat path still works but whose service port is dead. Their timing
// must not couple, so they tick on separate tickers.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/registry"
)

// Config carries the monitor timings. The zero value is filled in with the
// production defaults by NewMonitor; tests shrink them to keep runs fast.
type Config struct {
	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration
	// StaleThreshold is the heartbeat age past which an online record is
	// demoted. Registrants heartbeat every 7 s, so 10 s leaves headroom
	// for network delays.
	StaleThreshold time.Duration
	// ProbeInterval is how often the TCP probe runs.
	ProbeInterval time.Duration
	// ProbeTimeout bounds each connection attempt; a timed-out dial counts
	// as a failure.
	ProbeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 10 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}

// Monitor owns the staleness sweep and the active probe.
type Monitor struct {
	hub    *hub.Hub
	cfg    Config
	logger *zap.Logger
}

// NewMonitor creates a Monitor over h with the given config.
func NewMonitor(h *hub.Hub, cfg Config, logger *zap.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		hub:    h,
		cfg:    cfg,
		logger: logger.Named("health"),
	}
}

// Run starts both loops and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.sweepLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		m.probeLoop(ctx)
	}()
	wg.Wait()
}

// sweepLoop demotes online records whose heartbeat has gone stale.
func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.hub.ExpireStale(m.cfg.StaleThreshold); n > 0 {
				m.logger.Info("staleness sweep demoted services", zap.Int("count", n))
			}
		}
	}
}

// probeLoop checks port reachability of every online or busy record.
// Targets are snapshotted first; all dialing happens without any registry
// lock held.
func (m *Monitor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	targets := m.hub.ProbeTargets()
	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(inst registry.Instance) {
			defer wg.Done()
			if err := m.probe(ctx, inst); err != nil {
				if m.hub.MarkOffline(inst.ID, hub.ReasonHealthCheckFailed) {
					m.logger.Warn("probe failed",
						zap.String("service_id", inst.ID),
						zap.String("service_name", inst.Name),
						zap.String("address", fmt.Sprintf("%s:%d", inst.Address, inst.Port)),
						zap.Error(err),
					)
				}
			}
		}(target)
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, inst registry.Instance) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(inst.Address, fmt.Sprintf("%d", inst.Port)))
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
