package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
)

// messageWriter is the subset of *kafka.Writer the bus uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus publishes fragments and interactions to separate Kafka topics.
// When disabled it only logs, which is also the "log" bus backend.
type KafkaBus struct {
	writerFragment    messageWriter
	writerInteraction messageWriter
	principal         string
	topicFragment     string
	topicInteraction  string
	enabled           bool
	metrics           *metrics.Metrics
}

// KafkaConfig holds Kafka bus configuration.
type KafkaConfig struct {
	Brokers          []string
	TopicFragment    string
	TopicInteraction string
	Principal        string
	Enabled          bool
}

// NewKafka creates a Kafka bus. Messages are partitioned by key hash so all
// fragments of a session, and all interactions of a tenant, share a partition.
func NewKafka(cfg *KafkaConfig, m *metrics.Metrics) *KafkaBus {
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &KafkaBus{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &KafkaBus{
			principal:        cfg.Principal,
			topicFragment:    cfg.TopicFragment,
			topicInteraction: cfg.TopicInteraction,
			metrics:          m,
		}
	}

	// Longer dial timeout for DNS resolution inside Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicFragment", cfg.TopicFragment).
		Str("topicInteraction", cfg.TopicInteraction).
		Str("principal", cfg.Principal).
		Msg("Kafka bus initialized")

	return &KafkaBus{
		writerFragment:    newWriter(cfg.TopicFragment),
		writerInteraction: newWriter(cfg.TopicInteraction),
		principal:         cfg.Principal,
		topicFragment:     cfg.TopicFragment,
		topicInteraction:  cfg.TopicInteraction,
		enabled:           true,
		metrics:           m,
	}
}

// BroadcastFragment publishes a finalized fragment to the fragment topic.
func (b *KafkaBus) BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error {
	return b.publish(ctx, b.writerFragment, b.topicFragment, eventFragment, ev.SessionID, ev.TenantID, ev)
}

// PublishInteraction publishes a completed interaction to the interaction
// topic, keyed by tenant.
func (b *KafkaBus) PublishInteraction(ctx context.Context, payload models.BusPayload) error {
	return b.publish(ctx, b.writerInteraction, b.topicInteraction, eventInteraction, payload.TenantID, payload.TenantID, payload)
}

func (b *KafkaBus) publish(ctx context.Context, writer messageWriter, topic, eventType, key, tenantID string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", b.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !b.enabled || writer == nil {
		b.metrics.RecordBusPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(b.principal)},
			{Key: "tenantId", Value: []byte(tenantID)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		b.metrics.RecordBusPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	b.metrics.RecordBusPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (b *KafkaBus) Close() error {
	var err error
	if b.writerFragment != nil {
		if e := b.writerFragment.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing fragment writer")
			err = e
		}
	}
	if b.writerInteraction != nil {
		if e := b.writerInteraction.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing interaction writer")
			err = e
		}
	}
	return err
}
