package mock

import (
	"context"
	"strings"
	"time"

	"ai-speech-intelligence-service/internal/service/stt"
)

// Transcriber implements stt.Transcriber by reading the final text of every
// simulated utterance, alternating between two speakers.
type Transcriber struct {
	opts Options
}

var _ stt.Transcriber = (*Transcriber)(nil)

// NewTranscriber creates a mock batch transcriber.
func NewTranscriber(opts Options) *Transcriber {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	return &Transcriber{opts: opts}
}

// Transcribe returns an empty transcript for empty audio, the way a provider
// reports silence.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, _ string) (string, error) {
	if t.opts.Latency > 0 {
		timer := time.NewTimer(t.opts.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if len(audio) == 0 {
		return "", nil
	}

	var words []stt.Word
	for i, u := range t.opts.Utterances {
		speaker := i%2 + 1
		for _, w := range strings.Fields(u.Final) {
			words = append(words, stt.Word{Text: w, Speaker: speaker})
		}
	}
	return stt.FormatSpeakerTurns(words), nil
}
