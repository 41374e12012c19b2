package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/status"

	"ai-speech-intelligence-service/internal/service/stt"
)

// Speaker bounds handed to diarization.
const (
	minSpeakers = 1
	maxSpeakers = 6
)

var _ stt.Transcriber = (*Provider)(nil)

// Transcribe runs a long-running diarized recognition over a whole recording
// and waits for it to finish.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	enc, ok := batchEncoding(mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %s", stt.ErrUnsupportedFormat, mimeType)
	}

	start := time.Now()
	op, err := p.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: batchRecognitionConfig(p.cfg, enc),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		p.metrics.RecordSTTError(providerName, "recognize")
		return "", fmt.Errorf("start recognition: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		p.metrics.RecordSTTError(providerName, status.Code(err).String())
		return "", fmt.Errorf("wait for recognition: %w", err)
	}

	text := formatResults(resp.GetResults())
	log.Info().
		Str("mimeType", mimeType).
		Int("audioBytes", len(audio)).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("Batch recognition complete")
	return text, nil
}

func batchRecognitionConfig(cfg Config, enc speechpb.RecognitionConfig_AudioEncoding) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   enc,
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          minSpeakers,
			MaxSpeakerCount:          maxSpeakers,
		},
	}
}

// batchEncoding maps an upload MIME type to a recognition encoding. WAV and
// FLAC carry their own headers and are left unspecified. AAC containers are
// not decodable by the v1 API.
func batchEncoding(mimeType string) (speechpb.RecognitionConfig_AudioEncoding, bool) {
	switch strings.ToLower(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/flac":
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, true
	case "audio/mpeg":
		return speechpb.RecognitionConfig_MP3, true
	case "audio/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS, true
	case "audio/ogg":
		return speechpb.RecognitionConfig_OGG_OPUS, true
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false
	}
}

// formatResults renders diarized results. With diarization on, the last
// result repeats every word of the recording with its speaker tag, so it is
// preferred over the per-segment words.
func formatResults(results []*speechpb.SpeechRecognitionResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if words := tagged(results[i]); len(words) > 0 {
			return stt.FormatSpeakerTurns(words)
		}
	}

	var words []stt.Word
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if len(alts[0].GetWords()) == 0 {
			for _, w := range strings.Fields(alts[0].GetTranscript()) {
				words = append(words, stt.Word{Text: w, Speaker: stt.UnknownSpeaker})
			}
			continue
		}
		for _, w := range alts[0].GetWords() {
			words = append(words, stt.Word{Text: w.GetWord(), Speaker: int(w.GetSpeakerTag())})
		}
	}
	return stt.FormatSpeakerTurns(words)
}

// tagged returns the words of r's top alternative when any of them carries a
// speaker tag.
func tagged(r *speechpb.SpeechRecognitionResult) []stt.Word {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return nil
	}
	var (
		words      []stt.Word
		attributed bool
	)
	for _, w := range alts[0].GetWords() {
		tag := int(w.GetSpeakerTag())
		attributed = attributed || tag != stt.UnknownSpeaker
		words = append(words, stt.Word{Text: w.GetWord(), Speaker: tag})
	}
	if !attributed {
		return nil
	}
	return words
}
