package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for audio a transcriber cannot decode.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// UnknownSpeaker marks a word the provider did not attribute.
const UnknownSpeaker = 0

// Transcriber recognizes a complete recording in one call.
type Transcriber interface {
	// Transcribe returns the diarized transcript of audio, one
	// "SPEAKER_<n>: text" line per speaker turn.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Word is one recognized word and the speaker it was attributed to.
type Word struct {
	Text    string
	Speaker int
}

// FormatSpeakerTurns groups consecutive words by speaker into
// "SPEAKER_<n>: text" lines. An unattributed word stays with the current
// speaker; before any speaker is known it is labelled SPEAKER_UNKNOWN.
func FormatSpeakerTurns(words []Word) string {
	var (
		lines   []string
		current []string
		speaker = -1
	)
	flush := func() {
		if len(current) > 0 {
			lines = append(lines, speakerLabel(speaker)+": "+strings.Join(current, " "))
		}
		current = current[:0]
	}
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		next := w.Speaker
		if next == UnknownSpeaker && speaker != -1 {
			next = speaker
		}
		if next != speaker {
			flush()
			speaker = next
		}
		current = append(current, text)
	}
	flush()
	return strings.Join(lines, "\n")
}

func speakerLabel(n int) string {
	if n == UnknownSpeaker {
		return "SPEAKER_UNKNOWN"
	}
	return fmt.Sprintf("SPEAKER_%d", n)
}
