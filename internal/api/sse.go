package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/metrics"
)

// defaultKeepAlive is how often an SSE comment line is written so proxies
// and browsers keep the idle connection open.
const defaultKeepAlive = 30 * time.Second

// EventsHandler serves GET /api/events, the SSE feed of registry events.
type EventsHandler struct {
	hub       *hub.Hub
	metrics   *metrics.Metrics
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewEventsHandler creates an EventsHandler. keepAlive <= 0 selects the
// 30 s production default; tests shrink it. metrics may be nil.
func NewEventsHandler(h *hub.Hub, m *metrics.Metrics, keepAlive time.Duration, logger *zap.Logger) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsHandler{hub: h, metrics: m, keepAlive: keepAlive, logger: logger.Named("sse")}
}

// Stream handles GET /api/events. It subscribes the connection to the
// event bus and writes one SSE message per event until the client
// disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ErrInternal(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "cache-control")
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	if h.metrics != nil {
		h.metrics.StreamClients.WithLabelValues("sse").Inc()
		defer h.metrics.StreamClients.WithLabelValues("sse").Dec()
	}
	h.logger.Info("sse client connected", zap.String("remote_addr", r.RemoteAddr))
	defer h.logger.Info("sse client disconnected", zap.String("remote_addr", r.RemoteAddr))

	// Initial head message so the client knows the stream is live.
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n",
		events.TypeConnection,
		`{"type":"connected","message":"SSE connection established"}`,
	)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
				return
			}
			flusher.Flush()
			if h.metrics != nil {
				h.metrics.EventsStreamed.WithLabelValues("sse").Inc()
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
