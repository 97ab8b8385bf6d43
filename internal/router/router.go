// Package router resolves logical service names to concrete instances and
// drives the busy/online/offline status cycle around each forwarded call.
package router

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/hub"
)

// Forwarder performs the actual downstream invocation. Implementations
// classify their own failures: an error returned from Forward is treated
// as downstream unless it is a context deadline (timeout). Reachability of
// the target is the router's job, checked before Forward is called.
type Forwarder interface {
	Forward(ctx context.Context, host string, port int, service, method string, payload []byte) ([]byte, error)
}

// Config carries router timings. Zero values fall back to the production
// defaults.
type Config struct {
	// CallTimeout bounds the whole forwarded call.
	CallTimeout time.Duration
	// DialTimeout bounds the reachability pre-check.
	DialTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
}

// Request describes one call to route. When Host and Port are set they are
// used verbatim and name resolution is skipped.
type Request struct {
	Service string
	Method  string
	Payload []byte
	Host    string
	Port    int
}

// Router is the front door to call forwarding.
type Router struct {
	hub    *hub.Hub
	fwd    Forwarder
	cfg    Config
	logger *zap.Logger
}

// New creates a Router. fwd may be nil, in which case every call fails
// with KindUnimplemented.
func New(h *hub.Hub, fwd Forwarder, cfg Config, logger *zap.Logger) *Router {
	cfg.applyDefaults()
	return &Router{
		hub:    h,
		fwd:    fwd,
		cfg:    cfg,
		logger: logger.Named("router"),
	}
}

// NormalizeName maps a caller-supplied service identifier to the logical
// name services register under: lowercase, keep the segment left of the
// first dot, underscores become hyphens. For example
// "web_content_extract.WebContentExtract" resolves to
// "web-content-extract".
func NormalizeName(s string) string {
	s = strings.ToLower(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "_", "-")
}

// Call resolves the target instance, runs the busy cycle around the
// forwarded call, and classifies failures. On a direct connection failure
// the instance is marked offline immediately, skipping the busy-to-online
// return.
func (r *Router) Call(ctx context.Context, req Request) ([]byte, error) {
	host, port := req.Host, req.Port
	var id string

	if host != "" && port != 0 {
		// Explicit target wins; the status cycle still applies when the
		// endpoint maps back to a registered instance.
		id, _ = r.hub.FindByAddr(host, port)
	} else {
		name := NormalizeName(req.Service)
		inst, ok := r.hub.SelectBest(name)
		if !ok {
			return nil, noInstanceError(name)
		}
		id, host, port = inst.ID, inst.Address, inst.Port
	}

	if r.fwd == nil {
		return nil, unimplementedError()
	}

	if id != "" {
		r.hub.SetBusy(id)
	}

	// Reachability pre-check so transport-level failures are classified
	// structurally instead of by parsing forwarder error strings.
	if err := r.checkReachable(ctx, host, port); err != nil {
		if id != "" {
			r.hub.MarkOffline(id, hub.ReasonDirectConnFailed)
		}
		r.logger.Warn("direct connection failed",
			zap.String("service", req.Service),
			zap.String("target", fmt.Sprintf("%s:%d", host, port)),
			zap.Error(err),
		)
		return nil, directError(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	out, err := r.fwd.Forward(callCtx, host, port, req.Service, req.Method, req.Payload)

	if err != nil {
		var cerr *CallError
		if errors.As(err, &cerr) {
			if id != "" {
				r.hub.ReleaseBusy(id)
			}
			return nil, cerr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// A deadline with zero response bytes means the instance
			// accepted the connection but never answered: a hung process
			// the pre-dial and the active probe cannot see. Treat it like
			// an unreachable target and take the instance out of rotation.
			if len(out) == 0 {
				if id != "" {
					r.hub.MarkOffline(id, hub.ReasonDirectConnFailed)
				}
				r.logger.Warn("no response before deadline",
					zap.String("service", req.Service),
					zap.String("target", fmt.Sprintf("%s:%d", host, port)),
				)
				return nil, directError(fmt.Errorf("no response from %s:%d within %s", host, port, r.cfg.CallTimeout))
			}
			if id != "" {
				r.hub.ReleaseBusy(id)
			}
			return nil, timeoutError(fmt.Errorf("call to %s/%s timed out after %s", req.Service, req.Method, r.cfg.CallTimeout))
		}
		if id != "" {
			r.hub.ReleaseBusy(id)
		}
		return nil, downstreamError(err)
	}

	// The call completed against a responsive instance; it returns to
	// online.
	if id != "" {
		r.hub.ReleaseBusy(id)
	}

	r.logger.Info("call forwarded",
		zap.String("service", req.Service),
		zap.String("method", req.Method),
		zap.String("target", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (r *Router) checkReachable(ctx context.Context, host string, port int) error {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("connect to %s:%d: %w", host, port, err)
	}
	_ = conn.Close()
	return nil
}
