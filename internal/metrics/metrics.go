package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_evaluations_total",
			Help: "Total number of telemetry readings evaluated",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one reading across all sensors",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	SensorsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_sensors_skipped_total",
			Help: "Sensor values skipped during evaluation",
		},
		[]string{"reason"}, // reason: absent, nan, disabled
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_created_total",
			Help: "Total number of alerts persisted",
		},
		[]string{"severity", "sensor_type"},
	)

	AlertsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged",
		},
	)

	// Ingest metrics
	IngestReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_ingest_readings_total",
			Help: "Total number of telemetry readings received",
		},
		[]string{"source", "status"}, // source: http, kafka, mqtt, simulator; status: accepted, rejected
	)

	// Broadcast metrics
	BroadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_broadcast_subscribers",
			Help: "Number of currently subscribed listeners",
		},
	)

	BroadcastDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_broadcast_delivered_total",
			Help: "Events delivered to subscriber queues",
		},
	)

	BroadcastDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_broadcast_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
	)

	// Store metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_store_query_duration_seconds",
			Help:    "Alert/telemetry store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_worker_queue_size",
			Help: "Current size of the evaluation queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_worker_queue_capacity",
			Help: "Capacity of the evaluation queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_worker_processed_total",
			Help: "Total number of readings processed by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_worker_failed_total",
			Help: "Total number of readings whose evaluation failed",
		},
	)

	// Kafka metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_kafka_publish_total",
			Help: "Total number of alerts published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
