package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// Consumer reads telemetry readings from the telemetry topic and pushes them
// onto the evaluation queue. Malformed or invalid messages are logged and
// skipped; a full queue drops the reading (the transport layer owns retries).
type Consumer struct {
	reader      *kafka.Reader
	readingChan chan<- *models.TelemetryReading
}

// NewConsumer creates a consumer in the configured group.
func NewConsumer(cfg config.KafkaConfig, readingChan chan<- *models.TelemetryReading) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.TelemetryTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader:      reader,
		readingChan: readingChan,
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("kafka consumer started")
	defer log.Info().Msg("kafka consumer stopped")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var reading models.TelemetryReading
		if err := json.Unmarshal(msg.Value, &reading); err != nil {
			metrics.IngestReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("malformed telemetry message")
			continue
		}

		reading.Normalize()
		if err := reading.Validate(); err != nil {
			metrics.IngestReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().Err(err).Str("reading_id", reading.ID).Msg("invalid telemetry message")
			continue
		}

		select {
		case c.readingChan <- &reading:
			metrics.IngestReadingsTotal.WithLabelValues("kafka", "accepted").Inc()
		default:
			metrics.IngestReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
			log.Warn().Str("reading_id", reading.ID).Msg("evaluation queue full, reading dropped")
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
