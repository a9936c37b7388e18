package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// Source subscribes to the telemetry topic tree and feeds decoded readings
// onto the evaluation queue. Delivery is QoS 0; a reading that cannot be
// decoded, validated or queued is dropped.
type Source struct {
	client      paho.Client
	topic       string
	readingChan chan<- *models.TelemetryReading
}

// NewSource connects to the broker and subscribes.
func NewSource(cfg config.MQTTConfig, readingChan chan<- *models.TelemetryReading) (*Source, error) {
	s := &Source{
		topic:       cfg.Topic,
		readingChan: readingChan,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}

	if token := s.client.Subscribe(cfg.Topic, 0, s.handle); token.Wait() && token.Error() != nil {
		s.client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Topic, token.Error())
	}

	log := logger.WithComponent("mqtt_source")
	log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("mqtt source connected")

	return s, nil
}

func (s *Source) handle(_ paho.Client, msg paho.Message) {
	log := logger.WithComponent("mqtt_source")

	var reading models.TelemetryReading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		metrics.IngestReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("malformed telemetry payload")
		return
	}

	reading.Normalize()
	if err := reading.Validate(); err != nil {
		metrics.IngestReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
		log.Warn().Err(err).Str("reading_id", reading.ID).Msg("invalid telemetry payload")
		return
	}

	select {
	case s.readingChan <- &reading:
		metrics.IngestReadingsTotal.WithLabelValues("mqtt", "accepted").Inc()
	default:
		metrics.IngestReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
		log.Warn().Str("reading_id", reading.ID).Msg("evaluation queue full, reading dropped")
	}
}

// Close unsubscribes and disconnects.
func (s *Source) Close() error {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		log := logger.WithComponent("mqtt_source")
		log.Warn().Err(token.Error()).Msg("unsubscribe failed")
	}
	s.client.Disconnect(250)
	return nil
}
