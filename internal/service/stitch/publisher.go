package stitch

import (
	"context"
	"strings"
	"time"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/logging"
	"ai-speech-intelligence-service/internal/observability/metrics"
)

// Options tunes the Publisher and Stitcher.
type Options struct {
	KeyPrefix    string
	TTL          time.Duration
	StoreTimeout time.Duration
	Metrics      *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = metrics.DefaultMetrics
	}
	return o
}

// Publisher performs the dual write for every finalized fragment: a live
// broadcast and a durable append. The two writes are independent; neither
// failure is reported to the caller.
//
// One session must have exactly one publishing goroutine. Sequential calls
// for a session are appended in call order.
type Publisher struct {
	log         OrderedLog
	broadcaster Broadcaster
	opts        Options
}

// NewPublisher creates a Publisher. A nil broadcaster disables the live write.
func NewPublisher(log OrderedLog, broadcaster Broadcaster, opts Options) *Publisher {
	return &Publisher{
		log:         log,
		broadcaster: broadcaster,
		opts:        opts.withDefaults(),
	}
}

// Publish records text for sessionID. Empty or whitespace-only text is a
// no-op. metadata travels only with the broadcast.
func (p *Publisher) Publish(ctx context.Context, text, sessionID, tenantID string, metadata map[string]any) {
	if strings.TrimSpace(text) == "" {
		return
	}

	logger := logging.WithSession(sessionID, tenantID)
	if sessionID == "" {
		logger.Error().Msg("Fragment publish rejected: empty session id")
		return
	}

	if p.broadcaster != nil {
		bctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		err := p.broadcaster.BroadcastFragment(bctx, models.TranscriptFragment{
			EventType: models.EventTranscriptFragment,
			SessionID: sessionID,
			TenantID:  tenantID,
			Timestamp: time.Now().UnixMilli(),
			Text:      text,
			Metadata:  metadata,
		})
		cancel()
		if err != nil {
			p.opts.Metrics.RecordBroadcastError()
			logger.Warn().Err(err).Msg("Fragment broadcast failed")
		}
	}

	actx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	if err := p.log.Append(actx, Key(p.opts.KeyPrefix, sessionID), text, p.opts.TTL); err != nil {
		p.opts.Metrics.RecordAppendError()
		logger.Error().Err(err).Int("chars", len(text)).Msg("Fragment append failed, fragment lost")
		return
	}

	logger.Debug().Int("chars", len(text)).Msg("Fragment appended")
}
