package viewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewReader reads topic from the latest offset as part of group.
func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

// Consume relays every message of r to hub until ctx is done. Messages that
// are not JSON are skipped.
func Consume(ctx context.Context, r MessageReader, hub *Hub, topic string) {
	defer r.Close()
	log.Info().Str("topic", topic).Msg("Consuming from Kafka topic")

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !json.Valid(msg.Value) {
			log.Warn().Str("topic", topic).Msg("Skipping non-JSON message")
			continue
		}
		hub.Broadcast(Event{
			Topic:     topic,
			EventType: headerValue(msg.Headers, "eventType"),
			Key:       string(msg.Key),
			Payload:   json.RawMessage(msg.Value),
		})
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
