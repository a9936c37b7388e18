package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetwatch/internal/aggregate"
	"fleetwatch/internal/broadcast"
	"fleetwatch/internal/config"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/handlers"
	"fleetwatch/internal/kafka"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/middleware"
	"fleetwatch/internal/models"
	"fleetwatch/internal/mqtt"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/simulator"
	"fleetwatch/internal/state"
	"fleetwatch/internal/storage"
	"fleetwatch/internal/worker"
	"fleetwatch/internal/ws"
)

// Service is the high-level coordinator wiring ingestion, evaluation,
// broadcast and the HTTP API together.
type Service struct {
	cfg *config.Config

	db          *sql.DB
	cache       *state.StatusCache
	registry    *rules.Registry
	manager     *engine.Manager
	aggregator  *aggregate.Aggregator
	broadcaster *broadcast.Broadcaster
	pool        *worker.Pool
	producer    *kafka.Producer
	consumer    *kafka.Consumer
	mqttSource  *mqtt.Source
	sim         *simulator.Simulator
	httpServer  *http.Server

	readingChan chan *models.TelemetryReading
	wg          sync.WaitGroup
}

// New constructs a Service with the given config.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg:         cfg,
		readingChan: make(chan *models.TelemetryReading, cfg.QueueSize),
	}
}

// evaluator publishes each reading to subscribers before running the
// lifecycle manager over it.
type evaluator struct {
	manager     *engine.Manager
	broadcaster *broadcast.Broadcaster
}

func (e evaluator) Evaluate(ctx context.Context, reading *models.TelemetryReading) ([]models.Alert, error) {
	e.broadcaster.PublishTelemetry(reading)
	return e.manager.Evaluate(ctx, reading)
}

// broadcastPublisher adapts the broadcaster to the engine's Publisher
// interface. Fan-out never fails; drops are handled inside the broadcaster.
type broadcastPublisher struct {
	b *broadcast.Broadcaster
}

func (p broadcastPublisher) PublishAlert(_ context.Context, alert *models.Alert) error {
	p.b.PublishAlert(alert)
	return nil
}

// Run starts all components and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Msg("service starting")

	if err := s.initStores(ctx); err != nil {
		return err
	}
	defer s.db.Close()
	if s.cache != nil {
		defer s.cache.Close()
	}

	s.registry = rules.NewRegistry(nil, nil)
	s.broadcaster = broadcast.New(broadcast.DefaultQueueSize)

	publishers := []engine.Publisher{broadcastPublisher{b: s.broadcaster}}
	if s.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(s.cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
		s.producer = producer
		publishers = append(publishers, producer)
	}

	alertRepo := storage.NewAlertRepository(s.db)
	telemetryRepo := storage.NewTelemetryRepository(s.db)

	s.manager = engine.NewManager(s.registry, alertRepo, telemetryRepo, publishers...)

	var cache aggregate.StatusCache
	if s.cache != nil {
		cache = s.cache
	}
	s.aggregator = aggregate.New(alertRepo, telemetryRepo, cache)

	s.pool = worker.NewPool(worker.Config{
		Evaluator:   evaluator{manager: s.manager, broadcaster: s.broadcaster},
		ReadingChan: s.readingChan,
		Workers:     s.cfg.Workers,
	})
	s.pool.Start()

	s.initHTTPServer()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if err := s.initSources(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown()
}

func (s *Service) initStores(ctx context.Context) error {
	log := logger.WithComponent("service")

	db, err := storage.Open(ctx, s.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return err
	}
	s.db = db

	cache, err := state.NewStatusCache(ctx, s.cfg.Redis)
	if err != nil {
		// The cache is an optimization; run without it.
		log.Warn().Err(err).Str("addr", s.cfg.Redis.Addr).Msg("redis unavailable, status cache disabled")
	} else {
		s.cache = cache
	}
	return nil
}

func (s *Service) initSources(ctx context.Context) error {
	log := logger.WithComponent("service")

	if s.cfg.Kafka.Enabled {
		s.consumer = kafka.NewConsumer(s.cfg.Kafka, s.readingChan)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer error")
			}
		}()
	}

	if s.cfg.MQTT.Enabled {
		source, err := mqtt.NewSource(s.cfg.MQTT, s.readingChan)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt source: %w", err)
		}
		s.mqttSource = source
	}

	if s.cfg.Simulator.Enabled {
		s.sim = simulator.New(s.cfg.Simulator, s.registry, s.readingChan)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sim.Run(ctx)
		}()
	}

	return nil
}

func (s *Service) initHTTPServer() {
	mux := http.NewServeMux()

	ingestHandler := handlers.NewIngestHandler(handlers.IngestConfig{
		ReadingChan: s.readingChan,
	})
	alertsHandler := handlers.NewAlertsHandler(s.manager)
	aggregationsHandler := handlers.NewAggregationsHandler(s.aggregator)
	hub := ws.NewHub(s.broadcaster)

	wrap := func(h http.Handler) http.Handler {
		return middleware.Chain(h, middleware.Recovery, middleware.Logging)
	}

	mux.Handle("POST /telemetry", wrap(ingestHandler))
	mux.Handle("GET /alerts", wrap(http.HandlerFunc(alertsHandler.ListRecent)))
	mux.Handle("GET /alerts/day", wrap(http.HandlerFunc(alertsHandler.ListByDay)))
	mux.Handle("GET /alerts/acknowledged", wrap(http.HandlerFunc(alertsHandler.ListByAcknowledgment)))
	mux.Handle("POST /alerts/{id}/acknowledge", wrap(http.HandlerFunc(alertsHandler.Acknowledge)))
	mux.Handle("GET /aggregations/counts-by-type", wrap(http.HandlerFunc(aggregationsHandler.CountsByType)))
	mux.Handle("GET /aggregations/severity-status", wrap(http.HandlerFunc(aggregationsHandler.SeverityStatus)))
	mux.Handle("GET /aggregations/top-offenders", wrap(http.HandlerFunc(aggregationsHandler.TopOffenders)))
	mux.Handle("GET /machines/status", wrap(http.HandlerFunc(aggregationsHandler.MachinesStatus)))
	mux.Handle("GET /ws", hub)

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	metrics.WorkerQueueCapacity.Set(float64(cap(s.readingChan)))

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}
}

// shutdown performs graceful shutdown
func (s *Service) shutdown() error {
	log := logger.WithComponent("service")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop sources so nothing new lands on the queue
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka consumer close error")
		}
	}
	if s.mqttSource != nil {
		s.mqttSource.Close()
	}

	// 3. Close the queue and let workers drain it
	close(s.readingChan)

	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	// 4. Close the alert publisher
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka producer close error")
		}
	}

	s.wg.Wait()

	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs throughput statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workerStats := s.pool.Stats()
			metrics.WorkerQueueSize.Set(float64(len(s.readingChan)))

			event := log.Info().
				Uint64("readings_processed", workerStats.Processed).
				Uint64("readings_failed", workerStats.Failed).
				Int("queue_size", len(s.readingChan)).
				Int("subscribers", s.broadcaster.Subscribers())

			if s.producer != nil {
				published, failed := s.producer.Stats()
				event = event.
					Uint64("alerts_published", published).
					Uint64("alerts_publish_failed", failed)
			}
			event.Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	workerStats := s.pool.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"worker": {
			"processed": %d,
			"failed": %d
		},
		"queue": {
			"buffered": %d,
			"capacity": %d
		},
		"broadcast": {
			"subscribers": %d
		}
	}`,
		workerStats.Processed,
		workerStats.Failed,
		len(s.readingChan),
		cap(s.readingChan),
		s.broadcaster.Subscribers(),
	)
}
