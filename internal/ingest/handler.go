package ingest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/events", h.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

type acceptedResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	EventType string `json:"event_type"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload EventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Debug("Malformed ingest body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid_json",
			Code:  ErrMissingFields.Code,
		})
		return
	}

	result, err := h.service.Ingest(r.Context(), &payload, r.UserAgent())
	if err != nil {
		var rejection *Rejection
		if errors.As(err, &rejection) {
			writeJSON(w, rejection.Status, errorResponse{
				Error: rejection.Reason,
				Code:  rejection.Code,
				Field: rejection.Field,
			})
			return
		}

		h.logger.Error("Ingestion failed", zap.Error(err))
		writeJSON(w, ErrInternal.Status, errorResponse{
			Error: ErrInternal.Reason,
			Code:  ErrInternal.Code,
		})
		return
	}

	response := acceptedResponse{
		Status:    "accepted",
		EventType: result.EventType,
	}
	// The new session id is only part of the session_start response;
	// other events already know theirs.
	if result.Status == http.StatusCreated {
		response.SessionID = result.SessionID.String()
	}

	writeJSON(w, result.Status, response)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy, dependencies := h.service.HealthCheck(r.Context())

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"healthy":      healthy,
		"dependencies": dependencies,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
