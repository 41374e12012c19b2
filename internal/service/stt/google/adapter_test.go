package google

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
	if cfg.CloseTimeout <= 0 {
		t.Error("expected a positive close timeout")
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"linear16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRecognitionConfig(t *testing.T) {
	rc := recognitionConfig(Config{
		LanguageCode:  "es-ES",
		SampleRateHz:  48000,
		AudioEncoding: "WEBM_OPUS",
	})

	if rc.LanguageCode != "es-ES" {
		t.Errorf("expected es-ES, got %s", rc.LanguageCode)
	}
	if rc.SampleRateHertz != 48000 {
		t.Errorf("expected 48000, got %d", rc.SampleRateHertz)
	}
	if rc.Encoding != speechpb.RecognitionConfig_WEBM_OPUS {
		t.Errorf("expected WEBM_OPUS, got %v", rc.Encoding)
	}
	if !rc.EnableAutomaticPunctuation {
		t.Error("expected automatic punctuation")
	}
}

func TestDeliverResponse(t *testing.T) {
	var mu sync.Mutex
	var got []models.Fragment
	d := stt.NewDeliverer(stt.Callbacks{
		OnFragment: func(f models.Fragment) {
			mu.Lock()
			got = append(got, f)
			mu.Unlock()
		},
	}, 0)

	deliverResponse(d, &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: nil},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello", Confidence: 0}},
				Stability:    0.5,
			},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{
					{Transcript: "hello world.", Confidence: 0.9},
					{Transcript: "yellow world.", Confidence: 0.1},
				},
				IsFinal:       true,
				ResultEndTime: durationpb.New(1500 * time.Millisecond),
			},
		},
	})
	d.Close()

	if len(got) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(got))
	}
	if got[0].IsFinal || got[0].Text != "hello" {
		t.Errorf("unexpected interim fragment %+v", got[0])
	}
	if !got[1].IsFinal || got[1].Text != "hello world." {
		t.Errorf("unexpected final fragment %+v", got[1])
	}
	if got[1].Raw["result_end_ms"] != int64(1500) {
		t.Errorf("unexpected result end %v", got[1].Raw["result_end_ms"])
	}
	if got[1].Confidence < 0.89 || got[1].Confidence > 0.91 {
		t.Errorf("unexpected confidence %f", got[1].Confidence)
	}
}

func TestAdapter_NotStarted(t *testing.T) {
	a := &Adapter{cfg: DefaultConfig()}

	if err := a.SendAudio(context.Background(), []byte("x")); err != stt.ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("expected no error closing unstarted adapter, got %v", err)
	}
}

// scriptedStream replays responses and then ends with end.
type scriptedStream struct {
	grpc.ClientStream

	mu         sync.Mutex
	responses  []*speechpb.StreamingRecognizeResponse
	end        error
	sends      int
	closeSends int
}

func (s *scriptedStream) Send(*speechpb.StreamingRecognizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	return nil
}

func (s *scriptedStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, s.end
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptedStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSends++
	return nil
}

func finalResponse(text string) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.9}},
			IsFinal:      true,
		}},
	}
}

type endRecorder struct {
	mu     sync.Mutex
	texts  []string
	errs   []error
	closed chan struct{}
}

func newEndRecorder() *endRecorder {
	return &endRecorder{closed: make(chan struct{})}
}

func (r *endRecorder) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnFragment: func(f models.Fragment) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.texts = append(r.texts, f.Text)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnClose: func() { close(r.closed) },
	}
}

func (r *endRecorder) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called after the provider ended the stream")
	}
}

func newAttachedAdapter(stream *scriptedStream, rec *endRecorder) *Adapter {
	a := &Adapter{cfg: DefaultConfig(), metrics: metrics.NewMetrics(nil)}
	a.attach(stream, func() {}, rec.callbacks())
	return a
}

func TestAdapter_ProviderEndOfStreamCallsOnClose(t *testing.T) {
	stream := &scriptedStream{
		responses: []*speechpb.StreamingRecognizeResponse{finalResponse("hello world.")},
		end:       io.EOF,
	}
	rec := newEndRecorder()
	a := newAttachedAdapter(stream, rec)

	rec.waitClosed(t)

	rec.mu.Lock()
	if len(rec.texts) != 1 || rec.texts[0] != "hello world." {
		t.Errorf("expected the final before OnClose, got %v", rec.texts)
	}
	if len(rec.errs) != 0 {
		t.Errorf("expected no errors on clean end, got %v", rec.errs)
	}
	rec.mu.Unlock()

	if err := a.SendAudio(context.Background(), []byte("late")); err != nil {
		t.Errorf("expected audio after the end to be dropped, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.sends != 0 {
		t.Errorf("expected no sends after the stream ended, got %d", stream.sends)
	}
	if stream.closeSends != 0 {
		t.Errorf("expected no half-close on an ended stream, got %d", stream.closeSends)
	}
}

func TestAdapter_ProviderErrorCallsOnErrorThenOnClose(t *testing.T) {
	stream := &scriptedStream{end: status.Error(codes.ResourceExhausted, "quota")}
	rec := newEndRecorder()
	a := newAttachedAdapter(stream, rec)

	rec.waitClosed(t)

	rec.mu.Lock()
	if len(rec.errs) != 1 || status.Code(rec.errs[0]) != codes.ResourceExhausted {
		t.Errorf("expected one ResourceExhausted error, got %v", rec.errs)
	}
	rec.mu.Unlock()

	if err := a.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
