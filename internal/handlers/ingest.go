package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// IngestHandler accepts telemetry readings over HTTP and queues them for
// evaluation.
type IngestHandler struct {
	readingChan chan<- *models.TelemetryReading
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	ReadingChan chan<- *models.TelemetryReading
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 * 1024 * 1024 // 1MB default
	}

	return &IngestHandler{
		readingChan: cfg.ReadingChan,
		maxBodySize: maxBodySize,
	}
}

// ReadingInput is the wire format for one reading. The timestamp is a string
// for flexible parsing; the ID is optional and assigned when missing.
type ReadingInput struct {
	ID         string             `json:"id,omitempty"`
	MachineID  string             `json:"machine_id"`
	RecordedAt string             `json:"recorded_at"`
	Readings   map[string]float64 `json:"readings"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific reading
type IngestError struct {
	Index     int    `json:"index"`
	ReadingID string `json:"reading_id,omitempty"`
	Error     string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseIngestBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}

	response := h.processReadings(inputs)

	status := http.StatusAccepted
	if response.Rejected > 0 && response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// parseIngestBody accepts either a single reading object or an array.
func parseIngestBody(body []byte) ([]ReadingInput, error) {
	var many []ReadingInput
	if err := json.Unmarshal(body, &many); err == nil && len(many) > 0 {
		return many, nil
	}

	var single ReadingInput
	if err := json.Unmarshal(body, &single); err == nil && single.MachineID != "" {
		return []ReadingInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected reading object or array of readings")
}

// processReadings validates, normalizes, and queues readings
func (h *IngestHandler) processReadings(inputs []ReadingInput) IngestResponse {
	response := IngestResponse{
		Success: true,
		Errors:  make([]IngestError, 0),
	}

	for i, input := range inputs {
		reading, err := convertInput(input)
		if err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:     i,
				ReadingID: input.ID,
				Error:     err.Error(),
			})
			response.Rejected++
			metrics.IngestReadingsTotal.WithLabelValues("http", "rejected").Inc()
			continue
		}

		reading.Normalize()

		if err := reading.Validate(); err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:     i,
				ReadingID: reading.ID,
				Error:     err.Error(),
			})
			response.Rejected++
			metrics.IngestReadingsTotal.WithLabelValues("http", "rejected").Inc()
			continue
		}

		// Non-blocking send: a full queue rejects rather than stalls ingest
		select {
		case h.readingChan <- reading:
			response.Accepted++
			metrics.IngestReadingsTotal.WithLabelValues("http", "accepted").Inc()
		default:
			response.Errors = append(response.Errors, IngestError{
				Index:     i,
				ReadingID: reading.ID,
				Error:     "evaluation queue full, try again later",
			})
			response.Rejected++
			metrics.IngestReadingsTotal.WithLabelValues("http", "rejected").Inc()
		}
	}

	response.Success = response.Rejected == 0
	return response
}

// convertInput converts ReadingInput to a TelemetryReading
func convertInput(input ReadingInput) (*models.TelemetryReading, error) {
	ts, err := models.ParseTimestamp(input.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("recorded_at: %w", err)
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.TelemetryReading{
		ID:         id,
		MachineID:  input.MachineID,
		RecordedAt: ts,
		Readings:   input.Readings,
	}, nil
}
