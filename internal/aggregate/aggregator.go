package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/internal/engine"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"
	"fleetwatch/internal/storage"
)

// Validation errors
var (
	ErrInvalidWindow = errors.New("days must be between 1 and 365")
)

// MaxWindowDays bounds the severity/status window.
const MaxWindowDays = 365

// SeverityCount is one row of the counts-by-type result.
type SeverityCount struct {
	Severity models.Severity `json:"severity"`
	Count    int64           `json:"count"`
}

// DateRange echoes the resolved calendar window of a query.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SeverityStatusSummary is the counts-by-severity-and-status result.
type SeverityStatusSummary struct {
	Counts       map[models.Severity]int64 `json:"counts"`
	Acknowledged int64                     `json:"acknowledged"`
	Total        int64                     `json:"total"`
	DateRange    DateRange                 `json:"date_range"`
}

// OffenderCounts is the per-severity breakdown of one pivot row.
type OffenderCounts struct {
	Catastrophic int64 `json:"catastrophic"`
	Critical     int64 `json:"critical"`
	High         int64 `json:"high"`
	Medium       int64 `json:"medium"`
	Low          int64 `json:"low"`
	Total        int64 `json:"total"`
}

// MachineOffender is one top-machines row.
type MachineOffender struct {
	MachineID string `json:"machine_id"`
	OffenderCounts
}

// ParameterOffender is one top-parameters row.
type ParameterOffender struct {
	SensorType string `json:"sensor_type"`
	OffenderCounts
}

// TopOffenders holds both pivots over the same filtered alert set.
type TopOffenders struct {
	TopMachines   []MachineOffender   `json:"top_machines"`
	TopParameters []ParameterOffender `json:"top_parameters"`
}

// MachineStatus is one machines-latest-status row. Status reflects only the
// alert tied to the machine's single most recent reading, not its history.
type MachineStatus struct {
	MachineID       string    `json:"machine_id"`
	Status          string    `json:"status"` // critical, warning, normal
	LastTelemetryAt time.Time `json:"last_telemetry_at"`
}

// StatusCache is an optional read-through cache for the latest-status query.
// Implementations degrade to a miss on any failure.
type StatusCache interface {
	GetMachineStatuses(ctx context.Context) ([]MachineStatus, bool)
	SetMachineStatuses(ctx context.Context, statuses []MachineStatus)
}

// Aggregator answers time-boxed analytical queries over persisted alerts and
// telemetry. All operations are read-only and read a best-effort snapshot.
type Aggregator struct {
	alerts    storage.AlertStore
	telemetry storage.TelemetryStore
	cache     StatusCache
	log       zerolog.Logger

	// Injectable clock for tests
	now func() time.Time
}

// New wires the aggregation engine. cache may be nil.
func New(alerts storage.AlertStore, telemetry storage.TelemetryStore, cache StatusCache) *Aggregator {
	return &Aggregator{
		alerts:    alerts,
		telemetry: telemetry,
		cache:     cache,
		log:       logger.WithComponent("aggregate"),
		now:       time.Now,
	}
}

// CountsByType groups alerts triggered within the given calendar day by
// severity. The result always carries all five severities, missing ones at
// zero, ordered by descending count (most severe first on ties).
func (a *Aggregator) CountsByType(ctx context.Context, date time.Time) ([]SeverityCount, error) {
	start, end := engine.DayBounds(date)

	counts, err := a.alerts.CountsBySeverity(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts by type: %w", err)
	}

	out := make([]SeverityCount, 0, len(models.Severities))
	for _, sev := range models.Severities {
		out = append(out, SeverityCount{Severity: sev, Count: counts[sev]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out, nil
}

// CountsBySeverityAndStatus summarizes the window [today-days, today]
// inclusive. days outside [1,365] is a validation error and no query runs.
func (a *Aggregator) CountsBySeverityAndStatus(ctx context.Context, days int) (SeverityStatusSummary, error) {
	if days < 1 || days > MaxWindowDays {
		return SeverityStatusSummary{}, ErrInvalidWindow
	}

	now := a.now()
	start, _ := engine.DayBounds(now.AddDate(0, 0, -days))
	_, end := engine.DayBounds(now)

	rows, err := a.alerts.SeverityStatusCounts(ctx, start, end)
	if err != nil {
		return SeverityStatusSummary{}, fmt.Errorf("failed to aggregate severity/status counts: %w", err)
	}

	summary := SeverityStatusSummary{
		Counts: make(map[models.Severity]int64, len(models.Severities)),
		DateRange: DateRange{
			Start: start.Format("2006-01-02"),
			End:   end.Format("2006-01-02"),
		},
	}
	for _, sev := range models.Severities {
		summary.Counts[sev] = 0
	}

	for _, row := range rows {
		summary.Counts[row.Severity] = row.Total
		summary.Total += row.Total
		summary.Acknowledged += row.Acknowledged
	}
	return summary, nil
}

// TopOffenders pivots the alert set filtered by the optional open-ended date
// window into per-machine and per-sensor severity breakdowns.
func (a *Aggregator) TopOffenders(ctx context.Context, startDate, endDate *time.Time) (TopOffenders, error) {
	var start, end *time.Time
	if startDate != nil {
		s, _ := engine.DayBounds(*startDate)
		start = &s
	}
	if endDate != nil {
		_, e := engine.DayBounds(*endDate)
		end = &e
	}

	machineRows, err := a.alerts.OffendersByMachine(ctx, start, end)
	if err != nil {
		return TopOffenders{}, fmt.Errorf("failed to pivot offenders by machine: %w", err)
	}
	sensorRows, err := a.alerts.OffendersBySensor(ctx, start, end)
	if err != nil {
		return TopOffenders{}, fmt.Errorf("failed to pivot offenders by sensor: %w", err)
	}

	machines := make([]MachineOffender, 0, len(machineRows))
	for _, row := range machineRows {
		machines = append(machines, MachineOffender{MachineID: row.Key, OffenderCounts: toCounts(row)})
	}
	sort.SliceStable(machines, func(i, j int) bool {
		if c := severityCascade(machines[i].OffenderCounts, machines[j].OffenderCounts); c != 0 {
			return c > 0
		}
		if machines[i].Total != machines[j].Total {
			return machines[i].Total > machines[j].Total
		}
		return machines[i].MachineID < machines[j].MachineID
	})

	parameters := make([]ParameterOffender, 0, len(sensorRows))
	for _, row := range sensorRows {
		parameters = append(parameters, ParameterOffender{SensorType: row.Key, OffenderCounts: toCounts(row)})
	}
	sort.SliceStable(parameters, func(i, j int) bool {
		if parameters[i].Total != parameters[j].Total {
			return parameters[i].Total > parameters[j].Total
		}
		if c := severityCascade(parameters[i].OffenderCounts, parameters[j].OffenderCounts); c != 0 {
			return c > 0
		}
		return parameters[i].SensorType < parameters[j].SensorType
	})

	return TopOffenders{TopMachines: machines, TopParameters: parameters}, nil
}

func toCounts(row storage.OffenderRow) OffenderCounts {
	return OffenderCounts{
		Catastrophic: row.Catastrophic,
		Critical:     row.Critical,
		High:         row.High,
		Medium:       row.Medium,
		Low:          row.Low,
		Total:        row.Total,
	}
}

// severityCascade compares two breakdowns lexicographically by decreasing
// severity weight. Positive means a ranks before b.
func severityCascade(a, b OffenderCounts) int {
	pairs := [][2]int64{
		{a.Catastrophic, b.Catastrophic},
		{a.Critical, b.Critical},
		{a.High, b.High},
		{a.Medium, b.Medium},
		{a.Low, b.Low},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			if p[0] > p[1] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// MachinesLatestStatus derives the current status of every machine from the
// alert (if any) tied to its most recent telemetry reading.
func (a *Aggregator) MachinesLatestStatus(ctx context.Context) ([]MachineStatus, error) {
	if a.cache != nil {
		if cached, ok := a.cache.GetMachineStatuses(ctx); ok {
			return cached, nil
		}
	}

	latest, err := a.telemetry.LatestPerMachine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest readings: %w", err)
	}
	if len(latest) == 0 {
		return []MachineStatus{}, nil
	}

	readingIDs := make([]string, len(latest))
	for i, row := range latest {
		readingIDs[i] = row.ReadingID
	}

	severities, err := a.alerts.LatestAlertSeverities(ctx, readingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest alert severities: %w", err)
	}

	statuses := make([]MachineStatus, 0, len(latest))
	for _, row := range latest {
		statuses = append(statuses, MachineStatus{
			MachineID:       row.MachineID,
			Status:          deriveStatus(severities, row.ReadingID),
			LastTelemetryAt: row.RecordedAt,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].MachineID < statuses[j].MachineID
	})

	if a.cache != nil {
		a.cache.SetMachineStatuses(ctx, statuses)
	}
	return statuses, nil
}

func deriveStatus(severities map[string]models.Severity, readingID string) string {
	sev, ok := severities[readingID]
	if !ok {
		return "normal"
	}
	switch sev {
	case models.SeverityHigh, models.SeverityCritical, models.SeverityCatastrophic:
		return "critical"
	case models.SeverityLow, models.SeverityMedium:
		return "warning"
	default:
		return "normal"
	}
}
