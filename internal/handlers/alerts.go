package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fleetwatch/internal/engine"
	"fleetwatch/internal/storage"
)

// AlertsHandler serves the alert lifecycle endpoints.
type AlertsHandler struct {
	manager *engine.Manager
}

// NewAlertsHandler creates the handler.
func NewAlertsHandler(manager *engine.Manager) *AlertsHandler {
	return &AlertsHandler{manager: manager}
}

// ListRecent handles GET /alerts?limit=&offset=
func (h *AlertsHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	result, err := h.manager.ListRecent(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListByDay handles GET /alerts/day?date=2006-01-02
func (h *AlertsHandler) ListByDay(w http.ResponseWriter, r *http.Request) {
	date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
		return
	}

	result, err := h.manager.ListByDay(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListByAcknowledgment handles GET /alerts/acknowledged?acknowledged=&limit=&offset=
func (h *AlertsHandler) ListByAcknowledgment(w http.ResponseWriter, r *http.Request) {
	acknowledged, err := strconv.ParseBool(r.URL.Query().Get("acknowledged"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "acknowledged must be true or false")
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	result, err := h.manager.ListByAcknowledgment(r.Context(), acknowledged, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Acknowledge handles POST /alerts/{id}/acknowledge
func (h *AlertsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("id")
	if alertID == "" {
		writeError(w, http.StatusBadRequest, "alert id is required")
		return
	}

	err := h.manager.Acknowledge(r.Context(), alertID)
	if errors.Is(err, storage.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"alert_id": alertID,
	})
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()

	limit = engine.DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = n
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}

	return limit, offset, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
