package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize alert")
)

// Producer publishes persisted alerts to the alerts topic, keyed by machine
// ID so one machine's alerts stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
	closed atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewProducer creates the alert publisher.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.AlertsTopic == "" {
		return nil, errors.New("alerts topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafka.Hash{}, // Partition by key
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		Async:        false,
	}

	log := logger.WithComponent("kafka_producer")
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.AlertsTopic).Msg("kafka producer initialized")

	return &Producer{writer: writer}, nil
}

// PublishAlert sends one alert to the alerts topic.
func (p *Producer) PublishAlert(ctx context.Context, alert *models.Alert) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	data, err := json.Marshal(alert)
	if err != nil {
		p.failed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.MachineID()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "rule_id", Value: []byte(alert.RuleID)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
		Time: alert.TriggeredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.published.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	return nil
}

// Stats returns producer counters.
func (p *Producer) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
