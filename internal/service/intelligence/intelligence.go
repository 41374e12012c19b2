// Package intelligence extracts structured GTM insights from cleaned
// transcripts and persists them.
package intelligence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/llm"
	"ai-speech-intelligence-service/internal/models"
)

// DefaultPersona is the persona insights are attributed to.
const DefaultPersona = "gtm"

var (
	ErrEmptyTranscript = errors.New("intelligence: empty transcript")
	ErrInvalidAnalysis = errors.New("intelligence: analysis failed validation")
	ErrUnavailable     = errors.New("intelligence: llm not configured")
)

const systemPrompt = `You are an expert Go-To-Market (GTM) analyst reviewing customer interaction transcripts.

Extract actionable intelligence that helps GTM teams identify sales opportunities and deal risks, track customer commitments, capture competitive intelligence and surface product feedback.

Respond with a JSON object with these fields:
- "summaries": {"title": 5-10 words, "headline": 1-2 sentences, "brief": 2-3 paragraph executive summary, "detailed": comprehensive summary, "spotlight": the single most important takeaway}
- "action_items": [{"description", "owner" (optional), "due_date" (optional, YYYY-MM-DD)}]
- "decisions": [{"decision", "rationale" (optional)}]
- "risks": [{"risk", "severity" ("low", "medium" or "high"), "mitigation" (optional)}]
- "key_takeaways": [string]
- "product_feedback": [{"text"}] for feature requests, pain points, bugs or UX issues
- "market_intelligence": [{"text"}] for competitor mentions, market trends or industry themes

Only extract information explicitly present in the transcript. Use empty arrays when nothing applies.`

// Repository persists analyses.
type Repository interface {
	SaveAnalysis(ctx context.Context, rec models.AnalysisRecord) error
}

// Request describes one interaction to analyze.
type Request struct {
	Transcript      string
	InteractionID   string
	TenantID        string
	TraceID         string
	InteractionType string
	AccountID       string
	PersonaCode     string
	Timestamp       time.Time
}

// Service runs extraction and persistence.
type Service struct {
	llm  llm.Completer
	repo Repository
}

// New creates a Service. A nil repository skips persistence.
func New(c llm.Completer, repo Repository) *Service {
	return &Service{llm: c, repo: repo}
}

// Process extracts an analysis from req.Transcript and persists it. Any
// failure returns a nil analysis with the cause.
func (s *Service) Process(ctx context.Context, req Request) (*models.InteractionAnalysis, error) {
	logger := log.With().
		Str("interactionId", req.InteractionID).
		Str("tenantId", req.TenantID).
		Str("traceId", req.TraceID).
		Logger()

	if strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	if s.llm == nil {
		return nil, ErrUnavailable
	}
	logger.Info().Msg("Processing transcript")

	analysis, err := s.extract(ctx, req.Transcript)
	if err != nil {
		logger.Error().Err(err).Msg("Intelligence extraction failed")
		return nil, err
	}

	if s.repo != nil {
		rec := s.record(req, analysis)
		if err := s.repo.SaveAnalysis(ctx, rec); err != nil {
			logger.Error().Err(err).Msg("Intelligence persistence failed")
			return nil, fmt.Errorf("persist analysis: %w", err)
		}
	}

	logger.Info().
		Int("actionItems", len(analysis.ActionItems)).
		Int("decisions", len(analysis.Decisions)).
		Int("risks", len(analysis.Risks)).
		Int("insights", analysis.InsightCount()).
		Msg("Intelligence processing complete")
	return analysis, nil
}

func (s *Service) extract(ctx context.Context, transcript string) (*models.InteractionAnalysis, error) {
	var a models.InteractionAnalysis
	err := s.llm.CompleteJSON(ctx, llm.Request{
		System: systemPrompt,
		User:   "Analyze this transcript:\n\n" + transcript,
	}, &a)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if !a.Valid() {
		return nil, ErrInvalidAnalysis
	}
	return &a, nil
}

func (s *Service) record(req Request, a *models.InteractionAnalysis) models.AnalysisRecord {
	persona := req.PersonaCode
	if persona == "" {
		persona = DefaultPersona
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	itype := req.InteractionType
	if itype == "" {
		itype = "meeting"
	}
	return models.AnalysisRecord{
		InteractionID:   req.InteractionID,
		TenantID:        req.TenantID,
		TraceID:         req.TraceID,
		AccountID:       req.AccountID,
		PersonaCode:     persona,
		InteractionType: itype,
		Timestamp:       ts,
		Source:          "openai:" + s.llm.Model(),
		Analysis:        *a,
	}
}
