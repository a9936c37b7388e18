package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fleetwatch/internal/aggregate"
)

func newAggregationsMux(store *memoryAlertStore) *http.ServeMux {
	aggregator := aggregate.New(store, memoryTelemetryStore{}, nil)
	h := NewAggregationsHandler(aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /aggregations/counts-by-type", h.CountsByType)
	mux.HandleFunc("GET /aggregations/severity-status", h.SeverityStatus)
	mux.HandleFunc("GET /aggregations/top-offenders", h.TopOffenders)
	mux.HandleFunc("GET /machines/status", h.MachinesStatus)
	return mux
}

func TestCountsByTypeEndpoint(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregations/counts-by-type", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload struct {
		Counts []aggregate.SeverityCount `json:"counts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Counts) != 5 {
		t.Errorf("got %d severity rows, want all 5", len(payload.Counts))
	}
}

func TestCountsByTypeBadDate(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregations/counts-by-type?date=yesterday", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSeverityStatusWindowValidation(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	tests := []struct {
		target string
		want   int
	}{
		{"/aggregations/severity-status?days=7", http.StatusOK},
		{"/aggregations/severity-status?days=400", http.StatusBadRequest},
		{"/aggregations/severity-status?days=0", http.StatusBadRequest},
		{"/aggregations/severity-status?days=abc", http.StatusBadRequest},
		{"/aggregations/severity-status", http.StatusBadRequest},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestTopOffendersEndpoint(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregations/top-offenders?start=2026-08-01&end=2026-08-30", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var offenders aggregate.TopOffenders
	if err := json.NewDecoder(rec.Body).Decode(&offenders); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestTopOffendersBadBound(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregations/top-offenders?start=bad", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMachinesStatusEndpoint(t *testing.T) {
	mux := newAggregationsMux(newMemoryAlertStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/machines/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
