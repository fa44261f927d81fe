package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-matching/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events.KafkaPublisher.Publish: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(e.Key()),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events.KafkaPublisher.Publish: %w", err)
	}
	observability.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Handler consumes one event.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// Direct hands events straight to a Handler on the caller's goroutine. It
// stands in for Kafka when no brokers are configured.
type Direct struct {
	Handler Handler
}

func (d Direct) Publish(ctx context.Context, e Event) error {
	observability.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
	if err := d.Handler.Handle(ctx, e); err != nil {
		return fmt.Errorf("events.Direct.Publish: %w", err)
	}
	return nil
}

// Decode parses a message value produced by KafkaPublisher.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("events.Decode: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("events.Decode: missing type")
	}
	return e, nil
}
