package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NoopPublisher drops every event. Used when no brokers are configured.
type NoopPublisher struct{}

// PublishActivityNotified performs no action.
func (NoopPublisher) PublishActivityNotified(context.Context, ActivityNotified) error { return nil }

// PublishAthleteConnected performs no action.
func (NoopPublisher) PublishAthleteConnected(context.Context, AthleteConnected) error { return nil }

// Close performs no action.
func (NoopPublisher) Close() error { return nil }

// KafkaPublisher writes relay events to a single topic, keyed by athlete so per-athlete order holds.
type KafkaPublisher struct {
	mu     sync.Mutex
	writer messageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

func newKafkaPublisherWithWriter(writer messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic}
}

// PublishActivityNotified writes an activity.notified record.
func (p *KafkaPublisher) PublishActivityNotified(ctx context.Context, event ActivityNotified) error {
	return p.write(ctx, EventTypeActivityNotified, event.AthleteID, event.OccurredAt, event)
}

// PublishAthleteConnected writes an athlete.connected record.
func (p *KafkaPublisher) PublishAthleteConnected(ctx context.Context, event AthleteConnected) error {
	return p.write(ctx, EventTypeAthleteConnected, event.AthleteID, event.OccurredAt, event)
}

func (p *KafkaPublisher) write(ctx context.Context, eventType string, athleteID int64, at time.Time, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(athleteID, 10)),
		Value: body,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	p.mu.Lock()
	writer := p.writer
	p.mu.Unlock()
	return writer.WriteMessages(ctx, msg)
}

// Topic reports the destination topic.
func (p *KafkaPublisher) Topic() string { return p.topic }

// Close releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Close()
}
