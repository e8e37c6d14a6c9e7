package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaEmitter publishes domain events to a kafka topic. The message key is
// the event's idempotency key so consumers can deduplicate and partitioning
// keeps one entity's events ordered.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter returns an emitter writing to the given brokers/topic.
func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Emit publishes the event as JSON.
func (e *KafkaEmitter) Emit(ctx context.Context, seq int64, ev Event) error {
	payload := struct {
		Type  string `json:"type"`
		Seq   int64  `json:"seq"`
		Event Event  `json:"event"`
	}{Type: ev.Type(), Seq: seq, Event: ev}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type(), err)
	}

	return e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Type() + ":" + ev.Key()),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
