// Package cleaner turns raw transcripts into edited, structured documents.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/llm"
	"ai-speech-intelligence-service/internal/models"
)

// EmptySummary is the summary returned for a transcript with no content.
const EmptySummary = "No content to summarize."

// ErrUnavailable is returned when no LLM is configured.
var ErrUnavailable = errors.New("cleaner: llm not configured")

const systemPrompt = `You are an expert transcript editor. Your job is to clean and improve transcripts while preserving the speaker's authentic voice and meaning.

Your role is editor, not author:
- Clean existing content without adding new words or ideas
- Preserve the speaker's natural voice and patterns
- Keep the original meaning

Cleaning tasks:
1. Remove filler words (um, uh, like, you know)
2. Fix grammar and sentence structure
3. Add punctuation and capitalization
4. Remove false starts and repetitions
5. Organize into clear paragraphs

Respond with a JSON object with these fields:
- "summary": a concise 2-3 sentence summary of the main points
- "action_items": an array of strings, one per actionable task, decision or next step mentioned
- "cleaned_transcript": the polished transcript

Do not add information that was not in the original. Do not change the meaning or intent. Preserve technical terms and names exactly as spoken.`

// Service cleans transcripts with an LLM.
type Service struct {
	llm llm.Completer
}

// New creates a Service. A nil completer leaves every transcript uncleaned.
func New(c llm.Completer) *Service {
	return &Service{llm: c}
}

// Clean edits raw into a MeetingOutput. It always returns a usable output:
// on failure the raw text is passed through as the cleaned transcript, the
// summary names the error and the error is returned alongside.
func (s *Service) Clean(ctx context.Context, raw, sessionID string) (models.MeetingOutput, error) {
	logger := log.With().Str("sessionId", sessionID).Logger()

	if strings.TrimSpace(raw) == "" {
		logger.Warn().Msg("Empty transcript, nothing to clean")
		return models.MeetingOutput{Summary: EmptySummary, ActionItems: []string{}}, nil
	}
	if s.llm == nil {
		return fallback(raw, ErrUnavailable), ErrUnavailable
	}

	logger.Info().Int("chars", len(raw)).Msg("Cleaning transcript")

	var out models.MeetingOutput
	err := s.llm.CompleteJSON(ctx, llm.Request{
		System:      systemPrompt,
		User:        "Please clean and structure this transcript:\n\n" + raw,
		Temperature: 0.3,
	}, &out)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to clean transcript")
		return fallback(raw, err), fmt.Errorf("clean transcript: %w", err)
	}
	if strings.TrimSpace(out.CleanedTranscript) == "" {
		out.CleanedTranscript = raw
	}
	if out.ActionItems == nil {
		out.ActionItems = []string{}
	}

	logger.Info().
		Int("summaryChars", len(out.Summary)).
		Int("actionItems", len(out.ActionItems)).
		Int("cleanedChars", len(out.CleanedTranscript)).
		Msg("Transcript cleaned")
	return out, nil
}

func fallback(raw string, err error) models.MeetingOutput {
	return models.MeetingOutput{
		Summary:           "Error processing transcript: " + err.Error(),
		ActionItems:       []string{},
		CleanedTranscript: raw,
	}
}
