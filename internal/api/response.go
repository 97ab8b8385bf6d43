// Package api implements the operator-facing HTTP surface of the hub.
// It uses Chi as the router and exposes the registry under /api, the SSE
// event feed under /api/events, and a WebSocket mirror under /api/ws.
// The surface is unauthenticated: the hub runs on a trusted network and
// origin policy is left to the reverse proxy.
package api

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON-encoded response with the given status code.
// It sets Content-Type to application/json automatically.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// successResponse is the {success, message} shape used by mutation
// endpoints.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// errorResponse is the {success:false, error} shape used for every
// user-visible failure.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// OkMessage writes a 200 response with {success:true, message}.
func OkMessage(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, successResponse{Success: true, Message: message})
}

// ErrBadRequest writes a 400 response with {success:false, error}.
func ErrBadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

// ErrNotFound writes a 404 response with {success:false, error}.
func ErrNotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, errorResponse{Error: message})
}

// ErrInternal writes a 500 response. The internal error detail is
// intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	JSON(w, http.StatusInternalServerError, errorResponse{Error: "an internal error occurred"})
}

// decodeJSON decodes the request body into dst. Returns false and writes
// an appropriate error response if decoding fails, so callers can
// early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ErrBadRequest(w, "Invalid JSON request")
		return false
	}
	return true
}
