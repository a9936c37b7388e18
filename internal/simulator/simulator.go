package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"
)

// Simulator generates synthetic telemetry for a small fleet on a fixed
// interval. Values are drawn inside each sensor's optimal range, with a
// configurable probability of escaping past either boundary, so the engine
// sees a realistic mix of clean and violating readings during local dev.
type Simulator struct {
	registry  *rules.Registry
	machines  []string
	interval  time.Duration
	faultRate float64

	readingChan chan<- *models.TelemetryReading
	rng         *rand.Rand
}

// New creates a simulator for cfg.Machines synthetic machines.
func New(cfg config.SimulatorConfig, registry *rules.Registry, readingChan chan<- *models.TelemetryReading) *Simulator {
	machines := make([]string, cfg.Machines)
	for i := range machines {
		machines[i] = fmt.Sprintf("machine-%03d", i+1)
	}

	return &Simulator{
		registry:    registry,
		machines:    machines,
		interval:    cfg.Interval,
		faultRate:   cfg.FaultRate,
		readingChan: readingChan,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits readings until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	log := logger.WithComponent("simulator")
	log.Info().
		Int("machines", len(s.machines)).
		Dur("interval", s.interval).
		Float64("fault_rate", s.faultRate).
		Msg("simulator started")
	defer log.Info().Msg("simulator stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, machineID := range s.machines {
				reading := s.generate(machineID)
				select {
				case s.readingChan <- reading:
					metrics.IngestReadingsTotal.WithLabelValues("simulator", "accepted").Inc()
				default:
					metrics.IngestReadingsTotal.WithLabelValues("simulator", "rejected").Inc()
				}
			}
		}
	}
}

func (s *Simulator) generate(machineID string) *models.TelemetryReading {
	readings := make(map[string]float64)

	for _, rng := range s.registry.Ranges() {
		if !rng.Enabled {
			continue
		}
		readings[rng.SensorType] = s.value(rng)
	}

	return &models.TelemetryReading{
		ID:         uuid.New().String(),
		MachineID:  machineID,
		RecordedAt: time.Now().UTC(),
		Readings:   readings,
	}
}

func (s *Simulator) value(rng rules.SensorOptimalRange) float64 {
	width := rng.Max - rng.Min

	if s.rng.Float64() < s.faultRate {
		// Escape past a random boundary by up to 120% of the range width.
		excess := s.rng.Float64() * 1.2 * width
		if s.rng.Float64() < 0.5 {
			return rng.Max + excess
		}
		return rng.Min - excess
	}

	return rng.Min + s.rng.Float64()*width
}
