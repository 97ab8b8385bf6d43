package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/metrics"
	"github.com/grpchub-io/grpchub/internal/ws"
)

// WSHandler handles GET /api/ws: a WebSocket mirror of the SSE event feed
// for clients that prefer a bidirectional transport with built-in
// ping/pong keepalive.
type WSHandler struct {
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWSHandler creates a WSHandler. metrics may be nil.
func NewWSHandler(bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *WSHandler {
	return &WSHandler{bus: bus, metrics: m, logger: logger.Named("ws_handler")}
}

// ServeWS upgrades the connection and streams events until the client
// disconnects. The handler blocks for the lifetime of the connection —
// this is expected for WebSocket handlers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	client, err := ws.NewClient(h.bus, w, r, h.logger)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	if h.metrics != nil {
		h.metrics.StreamClients.WithLabelValues("websocket").Inc()
		defer h.metrics.StreamClients.WithLabelValues("websocket").Dec()
	}

	h.logger.Info("ws: client connected", zap.String("remote_addr", r.RemoteAddr))
	client.Run()
	h.logger.Info("ws: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}
