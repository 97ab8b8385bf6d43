package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/registry"
)

// ServiceHandler serves the registry read and mutation endpoints.
type ServiceHandler struct {
	hub    *hub.Hub
	logger *zap.Logger
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(h *hub.Hub, logger *zap.Logger) *ServiceHandler {
	return &ServiceHandler{hub: h, logger: logger.Named("services")}
}

// serviceJSON is the wire shape of one registry record.
type serviceJSON struct {
	ServiceID      string            `json:"service_id"`
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version"`
	ServiceAddress string            `json:"service_address"`
	ServicePort    int               `json:"service_port"`
	Methods        []string          `json:"methods"`
	Metadata       map[string]string `json:"metadata"`
	RegisteredAt   string            `json:"registered_at"`
	LastHeartbeat  string            `json:"last_heartbeat"`
	Status         string            `json:"status"`
}

func toServiceJSON(rec registry.Record) serviceJSON {
	methods := rec.Methods
	if methods == nil {
		methods = []string{}
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return serviceJSON{
		ServiceID:      rec.ID,
		ServiceName:    rec.Name,
		ServiceVersion: rec.Version,
		ServiceAddress: rec.Address,
		ServicePort:    rec.Port,
		Methods:        methods,
		Metadata:       metadata,
		RegisteredAt:   rec.RegisteredAt.UTC().Format(time.RFC3339),
		LastHeartbeat:  rec.LastHeartbeat.UTC().Format(time.RFC3339),
		Status:         string(rec.Status),
	}
}

// List handles GET /api/services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.hub.List(r.URL.Query().Get("filter"))
	services := make([]serviceJSON, 0, len(records))
	for _, rec := range records {
		services = append(services, toServiceJSON(rec))
	}
	JSON(w, http.StatusOK, map[string]any{"services": services})
}

// Delete handles DELETE /api/services/{id}.
func (h *ServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.hub.Unregister(id) {
		JSON(w, http.StatusOK, successResponse{Success: false, Message: "Service not found"})
		return
	}
	OkMessage(w, "Service unregistered successfully")
}

// methodSchema is the stub schema advertised for each method. The hub
// never parses method signatures, so the request schema is an empty
// object.
type methodSchema struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	RequestSchema any    `json:"request_schema"`
}

type serviceSchema struct {
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version"`
	ServiceAddress string            `json:"service_address"`
	ServicePort    int               `json:"service_port"`
	Methods        []methodSchema    `json:"methods"`
	Metadata       map[string]string `json:"metadata"`
}

// Schema handles GET /api/service-schema.
func (h *ServiceHandler) Schema(w http.ResponseWriter, _ *http.Request) {
	records := h.hub.List("")
	schemas := make([]serviceSchema, 0, len(records))
	for _, rec := range records {
		methods := make([]methodSchema, 0, len(rec.Methods))
		for _, m := range rec.Methods {
			methods = append(methods, methodSchema{
				Name:        m,
				Description: fmt.Sprintf("%s method", m),
				RequestSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			})
		}
		metadata := rec.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		schemas = append(schemas, serviceSchema{
			ServiceName:    rec.Name,
			ServiceVersion: rec.Version,
			ServiceAddress: rec.Address,
			ServicePort:    rec.Port,
			Methods:        methods,
			Metadata:       metadata,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

// statusRequest is the body of POST /api/service-status.
type statusRequest struct {
	ServiceID string `json:"service_id"`
	Status    string `json:"status"`
}

// PostStatus handles POST /api/service-status: a status reported on behalf
// of a service. The status_change event is emitted only when the stored
// value actually changes.
func (h *ServiceHandler) PostStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServiceID == "" || req.Status == "" {
		ErrBadRequest(w, "Missing required fields: service_id, status")
		return
	}
	status := registry.Status(req.Status)
	if !status.Valid() {
		ErrBadRequest(w, fmt.Sprintf("Invalid status %q: must be one of online, busy, offline", req.Status))
		return
	}

	_, found := h.hub.SetStatus(req.ServiceID, status, hub.ReasonStatusReported)
	if !found {
		ErrNotFound(w, fmt.Sprintf("Service %s not found", req.ServiceID))
		return
	}
	OkMessage(w, fmt.Sprintf("Service %s status updated to %s", req.ServiceID, req.Status))
}
