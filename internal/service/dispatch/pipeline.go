package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/logging"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/schema"
	"ai-speech-intelligence-service/internal/service/intelligence"
	"ai-speech-intelligence-service/internal/service/session"
)

// Lane names.
const (
	LanePublish      = "publish"
	LaneIntelligence = "intelligence"
)

// ErrEmptyText is returned for text ingestion requests with no content.
var ErrEmptyText = errors.New("text cannot be empty or whitespace")

// Cleaner edits raw text. It returns a usable output even when it fails.
type Cleaner interface {
	Clean(ctx context.Context, raw, sessionID string) (models.MeetingOutput, error)
}

// InteractionPublisher publishes completed interactions to the event bus.
type InteractionPublisher interface {
	PublishInteraction(ctx context.Context, p models.BusPayload) error
}

// Analyzer extracts and stores intelligence.
type Analyzer interface {
	Process(ctx context.Context, req intelligence.Request) (*models.InteractionAnalysis, error)
}

// Config bounds the time spent cleaning and running each lane.
type Config struct {
	LaneTimeout  time.Duration
	CleanTimeout time.Duration
}

// Pipeline implements session.Dispatcher and serves text ingestion.
type Pipeline struct {
	cleaner   Cleaner
	bus       InteractionPublisher
	analyzer  Analyzer
	validator *schema.Validator
	fan       *FanOut
	cfg       Config
	now       func() time.Time
}

// NewPipeline wires a pipeline. A nil bus or analyzer drops that lane.
func NewPipeline(c Cleaner, bus InteractionPublisher, a Analyzer, v *schema.Validator, cfg Config, m *metrics.Metrics) *Pipeline {
	if v == nil {
		v = schema.New()
	}
	return &Pipeline{
		cleaner:   c,
		bus:       bus,
		analyzer:  a,
		validator: v,
		fan:       NewFanOut(cfg.LaneTimeout, m),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ session.Dispatcher = (*Pipeline)(nil)

// Dispatch cleans a finished live session, fans it out and returns the
// result to push to the client.
func (p *Pipeline) Dispatch(ctx context.Context, c session.Completed) *models.SessionResult {
	interactionID := uuid.NewString()
	traceID := uuid.NewString()
	logger := logging.WithInteraction(interactionID, c.TenantID).With().
		Str("sessionId", c.SessionID).
		Str("traceId", traceID).
		Logger()

	out := p.clean(ctx, c.Transcript, c.SessionID, logger)

	env := models.EnvelopeV1{
		SchemaVersion:   models.SchemaVersionV1,
		TenantID:        c.TenantID,
		UserID:          c.UserID,
		InteractionType: models.InteractionTranscript,
		Content:         models.Content{Text: out.CleanedTranscript, Format: models.FormatPlain},
		Timestamp:       p.now(),
		Source:          models.SourceWebMic,
		Extras: map[string]any{
			"session_id":      c.SessionID,
			"summary":         out.Summary,
			"action_items":    out.ActionItems,
			"fragment_count":  c.Fragments,
			"finalize_reason": c.Reason,
		},
		InteractionID: interactionID,
		TraceID:       traceID,
	}
	p.fanOut(ctx, env, "", "", logger)

	logger.Info().Int("rawChars", len(c.Transcript)).Msg("Session dispatched")
	return &models.SessionResult{
		InteractionID:     interactionID,
		RawTranscript:     c.Transcript,
		CleanedTranscript: out.CleanedTranscript,
		Summary:           out.Summary,
		ActionItems:       out.ActionItems,
	}
}

// TextRequest is a raw note submitted over the API.
type TextRequest struct {
	Text      string
	Metadata  map[string]any
	Source    string
	TenantID  string
	UserID    string
	AccountID string
	TraceID   string
}

// TextResult is returned to the submitter.
type TextResult struct {
	RawText       string
	CleanedText   string
	InteractionID string
	Outcomes      []Outcome
}

// IngestText cleans a note and runs the same fan-out as a live session. Only
// blank text is an error; cleaning failures fall back to the original text.
func (p *Pipeline) IngestText(ctx context.Context, req TextRequest) (TextResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return TextResult{}, ErrEmptyText
	}
	interactionID := uuid.NewString()
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = models.SourceAPI
	}
	logger := logging.WithInteraction(interactionID, req.TenantID).With().
		Str("traceId", req.TraceID).
		Logger()
	logger.Info().Str("userId", req.UserID).Int("chars", len(req.Text)).Msg("Text cleaning started")

	cleaned := req.Text
	if out := p.clean(ctx, req.Text, interactionID, logger); out.CleanedTranscript != "" {
		cleaned = out.CleanedTranscript
	}

	env := models.EnvelopeV1{
		SchemaVersion:   models.SchemaVersionV1,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		InteractionType: models.InteractionNote,
		Content:         models.Content{Text: cleaned, Format: models.FormatPlain},
		Timestamp:       p.now(),
		Source:          req.Source,
		Extras:          req.Metadata,
		InteractionID:   interactionID,
		TraceID:         req.TraceID,
	}
	outcomes := p.fanOut(ctx, env, req.AccountID, "", logger)

	return TextResult{
		RawText:       req.Text,
		CleanedText:   cleaned,
		InteractionID: interactionID,
		Outcomes:      outcomes,
	}, nil
}

// TranscriptRequest is a transcript that was already cleaned by its caller.
type TranscriptRequest struct {
	InteractionID   string
	Text            string
	Format          string
	InteractionType string
	// AnalysisType labels the interaction for intelligence. Empty means
	// InteractionType.
	AnalysisType string
	Source       string
	TenantID     string
	UserID       string
	AccountID    string
	TraceID      string
	Extras       map[string]any
}

// PublishTranscript fans out a prepared transcript without cleaning it.
func (p *Pipeline) PublishTranscript(ctx context.Context, req TranscriptRequest) ([]Outcome, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if req.InteractionID == "" {
		req.InteractionID = uuid.NewString()
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.Format == "" {
		req.Format = models.FormatPlain
	}
	if req.InteractionType == "" {
		req.InteractionType = models.InteractionTranscript
	}
	if req.Source == "" {
		req.Source = models.SourceAPI
	}
	logger := logging.WithInteraction(req.InteractionID, req.TenantID).With().
		Str("traceId", req.TraceID).
		Logger()

	env := models.EnvelopeV1{
		SchemaVersion:   models.SchemaVersionV1,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		InteractionType: req.InteractionType,
		Content:         models.Content{Text: req.Text, Format: req.Format},
		Timestamp:       p.now(),
		Source:          req.Source,
		Extras:          req.Extras,
		InteractionID:   req.InteractionID,
		TraceID:         req.TraceID,
	}
	return p.fanOut(ctx, env, req.AccountID, req.AnalysisType, logger), nil
}

func (p *Pipeline) clean(ctx context.Context, raw, id string, logger zerolog.Logger) models.MeetingOutput {
	if p.cleaner == nil {
		return models.MeetingOutput{CleanedTranscript: raw, ActionItems: []string{}}
	}
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.CleanTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, p.cfg.CleanTimeout)
	}
	defer cancel()

	out, err := p.cleaner.Clean(cctx, raw, id)
	if err != nil {
		logger.Warn().Err(err).Msg("Cleaning failed, using raw transcript")
		out.CleanedTranscript = raw
	}
	return out
}

func (p *Pipeline) fanOut(ctx context.Context, env models.EnvelopeV1, accountID, analysisType string, logger zerolog.Logger) []Outcome {
	if analysisType == "" {
		analysisType = env.InteractionType
	}
	var lanes []Lane
	if p.bus != nil {
		lanes = append(lanes, Lane{Name: LanePublish, Run: func(ctx context.Context) (any, error) {
			if err := p.validator.Validate(env); err != nil {
				return nil, err
			}
			return nil, p.bus.PublishInteraction(ctx, models.WrapEnvelope(env))
		}})
	}
	if p.analyzer != nil {
		lanes = append(lanes, Lane{Name: LaneIntelligence, Run: func(ctx context.Context) (any, error) {
			return p.analyzer.Process(ctx, intelligence.Request{
				Transcript:      env.Content.Text,
				InteractionID:   env.InteractionID,
				TenantID:        env.TenantID,
				TraceID:         env.TraceID,
				InteractionType: analysisType,
				AccountID:       accountID,
				Timestamp:       env.Timestamp,
			})
		}})
	}
	return p.fan.Run(ctx, logger, lanes...)
}
