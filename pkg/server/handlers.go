package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"photoshare/gatekeeper/pkg/admission"
	"photoshare/gatekeeper/pkg/admission/engine"
)

// checkRequest is the decision endpoint request body.
type checkRequest struct {
	// Identifier is the caller being checked, e.g. "user:1234" or
	// "ip:203.0.113.9".
	Identifier string `json:"identifier"`

	// Route is the route key the request targets.
	Route string `json:"route"`
}

// checkResponse is the decision endpoint response body.
type checkResponse struct {
	Allowed           bool   `json:"allowed"`
	Warn              bool   `json:"warn,omitempty"`
	Count             int64  `json:"count"`
	Limit             int64  `json:"limit"`
	Remaining         int64  `json:"remaining"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	Reason            string `json:"reason,omitempty"`
	ShadowDenied      bool   `json:"shadowDenied,omitempty"`
	Degraded          bool   `json:"degraded,omitempty"`
}

// CheckHandler serves the decision endpoint. Gateways call it once per
// inbound request and enforce the verdict at the edge.
type CheckHandler struct {
	manager *admission.Manager
}

// NewCheckHandler creates the decision endpoint handler.
func NewCheckHandler(manager *admission.Manager) *CheckHandler {
	return &CheckHandler{manager: manager}
}

// ServeHTTP evaluates one admission check. POST takes a JSON body; GET takes
// identifier and route query parameters. The HTTP status is always 200; the
// verdict lives in the body so gateway-side errors are distinguishable from
// denials.
func (h *CheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req checkRequest

	switch r.Method {
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	case http.MethodGet:
		req.Identifier = r.URL.Query().Get("identifier")
		req.Route = r.URL.Query().Get("route")
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req.Identifier = strings.TrimSpace(req.Identifier)
	req.Route = strings.TrimSpace(req.Route)
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	if req.Route == "" {
		writeError(w, http.StatusBadRequest, "route is required")
		return
	}

	dec := h.manager.Check(r.Context(), req.Identifier, req.Route)
	writeJSON(w, http.StatusOK, toResponse(dec))
}

func toResponse(dec engine.Decision) checkResponse {
	return checkResponse{
		Allowed:           dec.Allowed,
		Warn:              dec.Warn,
		Count:             dec.Count,
		Limit:             dec.Limit,
		Remaining:         dec.Remaining,
		RetryAfterSeconds: dec.RetryAfterSeconds(),
		Reason:            dec.Reason,
		ShadowDenied:      dec.ShadowDenied,
		Degraded:          dec.Degraded,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
