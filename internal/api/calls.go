package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/metrics"
	"github.com/grpchub-io/grpchub/internal/router"
)

// CallHandler serves POST /api/grpc-call, the operator-facing entry point
// to call forwarding.
type CallHandler struct {
	router  *router.Router
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCallHandler creates a CallHandler. metrics may be nil in tests.
func NewCallHandler(r *router.Router, m *metrics.Metrics, logger *zap.Logger) *CallHandler {
	return &CallHandler{router: r, metrics: m, logger: logger.Named("calls")}
}

// flexPort accepts a port as a JSON number or a numeric string; browser
// clients have sent both.
type flexPort int

func (p *flexPort) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = flexPort(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("port must be a number or a numeric string")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number or a numeric string")
	}
	*p = flexPort(n)
	return nil
}

// callRequest is the body of POST /api/grpc-call. When host and port are
// both present they take precedence over name-based selection.
type callRequest struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Input   json.RawMessage `json:"input"`
	Host    string          `json:"host"`
	Port    flexPort        `json:"port"`
}

// Call handles POST /api/grpc-call.
func (h *CallHandler) Call(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Service == "" || req.Method == "" {
		ErrBadRequest(w, "Missing required fields: service, method, and either (host, port) or service name for intelligent selection")
		return
	}
	payload := []byte(req.Input)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	start := time.Now()
	out, err := h.router.Call(r.Context(), router.Request{
		Service: req.Service,
		Method:  req.Method,
		Payload: payload,
		Host:    req.Host,
		Port:    int(req.Port),
	})
	h.observe(err, time.Since(start))

	if err != nil {
		var cerr *router.CallError
		if errors.As(err, &cerr) && cerr.Kind == router.KindNoInstance {
			ErrNotFound(w, fmt.Sprintf("No available service found for '%s'", router.NormalizeName(req.Service)))
			return
		}
		// Forwarding failures are application results, not HTTP errors:
		// the caller gets a 200 with the structured failure payload.
		JSON(w, http.StatusOK, errorResponse{Error: err.Error()})
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    parseCallOutput(out),
	})
}

// parseCallOutput returns the forwarded response as parsed JSON when
// possible, falling back to the raw text.
func parseCallOutput(out []byte) any {
	if len(out) == 0 {
		return map[string]any{}
	}
	var data any
	if err := json.Unmarshal(out, &data); err != nil {
		return string(out)
	}
	return data
}

func (h *CallHandler) observe(err error, d time.Duration) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		var cerr *router.CallError
		if errors.As(err, &cerr) {
			outcome = cerr.Kind.String()
		}
	}
	h.metrics.CallsForwarded.WithLabelValues(outcome).Inc()
	h.metrics.CallDuration.Observe(d.Seconds())
}
