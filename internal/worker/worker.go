package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// Evaluator consumes one telemetry reading and produces alerts for it.
type Evaluator interface {
	Evaluate(ctx context.Context, reading *models.TelemetryReading) ([]models.Alert, error)
}

// Pool manages a fixed set of workers draining the evaluation queue. Each
// reading is evaluated sequentially by one worker; distinct readings are
// evaluated concurrently across workers.
type Pool struct {
	evaluator   Evaluator
	readingChan chan *models.TelemetryReading
	workers     int
	timeout     time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Evaluator   Evaluator
	ReadingChan chan *models.TelemetryReading
	Workers     int

	// Per-reading evaluation deadline
	Timeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		evaluator:   cfg.Evaluator,
		readingChan: cfg.ReadingChan,
		workers:     cfg.Workers,
		timeout:     cfg.Timeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing readings
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Dur("timeout", p.timeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully stops all workers
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

// worker evaluates readings from the channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	for {
		select {
		case <-p.ctx.Done():
			// Drain whatever is already queued before exiting
			for {
				select {
				case reading, ok := <-p.readingChan:
					if !ok {
						return
					}
					p.evaluate(log, reading)
				default:
					return
				}
			}

		case reading, ok := <-p.readingChan:
			if !ok {
				return
			}
			p.evaluate(log, reading)
		}
	}
}

func (p *Pool) evaluate(log zerolog.Logger, reading *models.TelemetryReading) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	metrics.WorkerQueueSize.Set(float64(len(p.readingChan)))

	_, err := p.evaluator.Evaluate(ctx, reading)
	if err != nil {
		p.failed.Add(1)
		metrics.WorkerFailedTotal.Inc()
		log.Error().
			Err(err).
			Str("reading_id", reading.ID).
			Str("machine_id", reading.MachineID).
			Msg("evaluation failed")
		return
	}

	p.processed.Add(1)
	metrics.WorkerProcessedTotal.Inc()
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats holds worker pool counters
type Stats struct {
	Processed uint64
	Failed    uint64
}
