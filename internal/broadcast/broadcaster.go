package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/models"
)

// EventType tags what a broadcast event carries.
type EventType string

const (
	EventAlert     EventType = "alert"
	EventTelemetry EventType = "telemetry"
)

// Event is one fan-out message delivered to subscribers.
type Event struct {
	Type    EventType                `json:"type"`
	Alert   *models.Alert            `json:"alert,omitempty"`
	Reading *models.TelemetryReading `json:"reading,omitempty"`
}

// Subscriber is a handle to one listener's event stream. Events arrive on C
// until Unsubscribe closes it.
type Subscriber struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Broadcaster fans events out to all currently subscribed listeners.
// Delivery is best effort: each subscriber has a bounded queue and events are
// dropped (drop-new) when that queue is full, so one slow listener never
// blocks publishing or delivery to other listeners. There is no buffering or
// replay; listeners only see events published while they are subscribed.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueSize   int
	log         zerolog.Logger
}

// DefaultQueueSize is the per-subscriber queue depth.
const DefaultQueueSize = 64

// New creates a broadcaster. queueSize <= 0 falls back to DefaultQueueSize.
func New(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		log:         logger.WithComponent("broadcaster"),
	}
}

// Subscribe registers a new listener and returns its handle.
func (b *Broadcaster) Subscribe() *Subscriber {
	ch := make(chan Event, b.queueSize)
	sub := &Subscriber{
		ID: uuid.New().String(),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	metrics.BroadcastSubscribers.Set(float64(count))
	b.log.Debug().Str("subscriber_id", sub.ID).Int("subscribers", count).Msg("subscriber added")
	return sub
}

// Unsubscribe removes a listener and closes its channel. Safe to call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	existing, ok := b.subscribers[sub.ID]
	if ok {
		delete(b.subscribers, sub.ID)
		close(existing.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		metrics.BroadcastSubscribers.Set(float64(count))
		b.log.Debug().Str("subscriber_id", sub.ID).Int("subscribers", count).Msg("subscriber removed")
	}
}

// PublishAlert delivers a newly created alert to all current subscribers.
func (b *Broadcaster) PublishAlert(alert *models.Alert) {
	b.publish(Event{Type: EventAlert, Alert: alert})
}

// PublishTelemetry delivers a reading to all current subscribers.
func (b *Broadcaster) PublishTelemetry(reading *models.TelemetryReading) {
	b.publish(Event{Type: EventTelemetry, Reading: reading})
}

func (b *Broadcaster) publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
			metrics.BroadcastDeliveredTotal.Inc()
		default:
			// Queue full: drop the new event for this subscriber only.
			metrics.BroadcastDroppedTotal.Inc()
			b.log.Warn().
				Str("subscriber_id", sub.ID).
				Str("event_type", string(event.Type)).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// Subscribers returns the current listener count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
