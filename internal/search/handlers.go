package search

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/propsearch/prop-search/internal/pkg/errors"
)

// Handler provides HTTP handlers for search operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new search handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleSearch handles POST /v1/search
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	result, err := h.svc.Search(r.Context(), req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleIngest handles PUT /v1/properties
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	count, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"upserted": count})
}

// HandleAnalytics handles GET /v1/analytics
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
		return
	}

	writeJSON(w, http.StatusOK, h.svc.AnalyticsSnapshot(r.Context()))
}

// HandleHealth handles GET /health. Liveness only; it never touches
// dependencies.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady handles GET /ready. Readiness checks storage and the
// embedding backend.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Register wires the handlers onto a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/search", h.HandleSearch)
	mux.HandleFunc("/v1/properties", h.HandleIngest)
	mux.HandleFunc("/v1/analytics", h.HandleAnalytics)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/ready", h.HandleReady)
}
