package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fleetwatch/internal/aggregate"
)

// AggregationsHandler serves the analytical endpoints.
type AggregationsHandler struct {
	aggregator *aggregate.Aggregator
}

// NewAggregationsHandler creates the handler.
func NewAggregationsHandler(aggregator *aggregate.Aggregator) *AggregationsHandler {
	return &AggregationsHandler{aggregator: aggregator}
}

// CountsByType handles GET /aggregations/counts-by-type?date=2006-01-02
// date defaults to today.
func (h *AggregationsHandler) CountsByType(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}
		date = parsed
	}

	counts, err := h.aggregator.CountsByType(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate counts by type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// SeverityStatus handles GET /aggregations/severity-status?days=N
func (h *AggregationsHandler) SeverityStatus(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return
	}

	summary, err := h.aggregator.CountsBySeverityAndStatus(r.Context(), days)
	if errors.Is(err, aggregate.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate severity/status counts")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TopOffenders handles GET /aggregations/top-offenders?start=&end=
// Both bounds are optional.
func (h *AggregationsHandler) TopOffenders(w http.ResponseWriter, r *http.Request) {
	var start, end *time.Time

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be formatted as YYYY-MM-DD")
			return
		}
		start = &parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be formatted as YYYY-MM-DD")
			return
		}
		end = &parsed
	}

	offenders, err := h.aggregator.TopOffenders(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute top offenders")
		return
	}
	writeJSON(w, http.StatusOK, offenders)
}

// MachinesStatus handles GET /machines/status
func (h *AggregationsHandler) MachinesStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.aggregator.MachinesLatestStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to derive machine statuses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"machines": statuses})
}
