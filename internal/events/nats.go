package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSBus publishes to core NATS subjects under a prefix:
//
//	{prefix}.transcript.fragment
//	{prefix}.interaction.completed.{tenant}
type NATSBus struct {
	nc        natsConn
	prefix    string
	principal string
	metrics   *metrics.Metrics
}

// NATSConfig holds NATS bus configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Principal     string
}

// NewNATS connects to NATS. The connection retries in the background if the
// server is not up yet.
func NewNATS(cfg NATSConfig, m *metrics.Metrics) (*NATSBus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Principal),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info().
		Str("url", cfg.URL).
		Str("subjectPrefix", cfg.SubjectPrefix).
		Msg("NATS bus initialized")

	return newNATSBus(nc, cfg, m), nil
}

func newNATSBus(nc natsConn, cfg NATSConfig, m *metrics.Metrics) *NATSBus {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "speech"
	}
	return &NATSBus{nc: nc, prefix: prefix, principal: cfg.Principal, metrics: m}
}

// BroadcastFragment publishes a finalized fragment.
func (b *NATSBus) BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error {
	subject := b.prefix + ".transcript.fragment"
	return b.publish(ctx, subject, eventFragment, ev.TenantID, ev, false)
}

// PublishInteraction publishes a completed interaction on the tenant's
// subject and flushes so the caller learns about delivery failures.
func (b *NATSBus) PublishInteraction(ctx context.Context, payload models.BusPayload) error {
	subject := b.prefix + ".interaction.completed." + subjectToken(payload.TenantID)
	return b.publish(ctx, subject, eventInteraction, payload.TenantID, payload, true)
}

func (b *NATSBus) publish(ctx context.Context, subject, eventType, tenantID string, event any, flush bool) error {
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("eventType", eventType)
	msg.Header.Set("principal", b.principal)
	msg.Header.Set("tenantId", tenantID)

	err = b.nc.PublishMsg(msg)
	if err == nil && flush {
		err = b.nc.FlushWithContext(ctx)
	}
	b.metrics.RecordBusPublish(subject, eventType, err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

// subjectToken makes s safe to use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
