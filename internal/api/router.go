package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/metrics"
	"github.com/grpchub-io/grpchub/internal/router"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct.
type RouterConfig struct {
	Hub     *hub.Hub
	Bus     *events.Bus
	Router  *router.Router
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// SSEKeepAlive overrides the keep-alive comment interval on the event
	// stream. Zero selects the production default.
	SSEKeepAlive time.Duration
}

// NewRouter builds and returns the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs for
	// tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and size.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	serviceHandler := NewServiceHandler(cfg.Hub, cfg.Logger)
	callHandler := NewCallHandler(cfg.Router, cfg.Metrics, cfg.Logger)
	eventsHandler := NewEventsHandler(cfg.Hub, cfg.Metrics, cfg.SSEKeepAlive, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Bus, cfg.Metrics, cfg.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/services", serviceHandler.List)
		r.Delete("/services/{id}", serviceHandler.Delete)
		r.Get("/service-schema", serviceHandler.Schema)
		r.Post("/service-status", serviceHandler.PostStatus)
		r.Post("/grpc-call", callHandler.Call)
		r.Get("/events", eventsHandler.Stream)
		r.Get("/ws", wsHandler.ServeWS)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	return r
}
