// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/stt"
)

const providerName = "google"

// Config holds recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	// CloseTimeout bounds how long Close waits for the provider to flush
	// after half-closing the stream.
	CloseTimeout time.Duration
}

// DefaultConfig returns the defaults for browser microphone audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		CloseTimeout:   5 * time.Second,
	}
}

// Provider owns the Speech client shared by every session.
type Provider struct {
	client  *speech.Client
	cfg     Config
	metrics *metrics.Metrics
}

// NewProvider creates the Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func NewProvider(ctx context.Context, cfg Config, m *metrics.Metrics) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}
	log.Info().
		Str("languageCode", cfg.LanguageCode).
		Int("sampleRateHz", cfg.SampleRateHz).
		Str("encoding", cfg.AudioEncoding).
		Msg("Google STT provider initialized")
	return &Provider{client: c, cfg: cfg, metrics: m}, nil
}

// NewAdapter implements stt.Factory.
func (p *Provider) NewAdapter(context.Context) (stt.Adapter, error) {
	return &Adapter{client: p.client, cfg: p.cfg, metrics: p.metrics}, nil
}

// Close releases the Speech client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Adapter implements stt.Adapter for one streaming recognition session.
type Adapter struct {
	client  *speech.Client
	cfg     Config
	metrics *metrics.Metrics

	mu         sync.Mutex
	stream     speechpb.Speech_StreamingRecognizeClient
	cancel     context.CancelFunc
	deliverer  *stt.Deliverer
	listenDone chan struct{}
	closing    bool
	ended      bool // the provider finished the stream on its own
}

// Start opens the stream, sends the recognition config and starts
// receiving results.
func (a *Adapter) Start(ctx context.Context, cb stt.Callbacks) error {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := a.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		a.metrics.RecordSTTError(providerName, "open")
		return err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(a.cfg),
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		a.metrics.RecordSTTError(providerName, "config")
		return err
	}

	a.attach(stream, cancel, cb)
	return nil
}

func (a *Adapter) attach(stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc, cb stt.Callbacks) {
	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.deliverer = stt.NewDeliverer(cb, 0)
	a.listenDone = make(chan struct{})
	a.mu.Unlock()

	go a.listen()
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing || a.ended {
		return nil
	}
	if a.stream == nil {
		return stt.ErrNotStarted
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream and waits for the remaining results. If the
// provider does not finish within CloseTimeout the stream is canceled.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.stream == nil {
		a.closing = true
		a.mu.Unlock()
		return nil
	}
	if a.closing {
		d := a.deliverer
		a.mu.Unlock()
		<-d.Done()
		return nil
	}
	a.closing = true
	var err error
	if !a.ended {
		err = a.stream.CloseSend()
	}
	a.mu.Unlock()

	timer := time.NewTimer(a.cfg.CloseTimeout)
	select {
	case <-a.listenDone:
		timer.Stop()
	case <-timer.C:
		log.Warn().Dur("timeout", a.cfg.CloseTimeout).Msg("Google STT did not finish in time, canceling stream")
		a.cancel()
		<-a.listenDone
	}
	a.cancel()
	a.deliverer.Close()
	return err
}

func (a *Adapter) listen() {
	defer close(a.listenDone)
	for {
		resp, err := a.stream.Recv()
		if err == nil {
			deliverResponse(a.deliverer, resp)
			continue
		}

		a.mu.Lock()
		closing := a.closing
		a.ended = true
		a.mu.Unlock()

		if !errors.Is(err, io.EOF) && !(closing && status.Code(err) == codes.Canceled) {
			a.metrics.RecordSTTError(providerName, status.Code(err).String())
			a.deliverer.Error(err)
		}
		// Without a Close in progress nobody else ends delivery, so the
		// session learns about the end of the stream through OnClose.
		if !closing {
			a.deliverer.Close()
		}
		return
	}
}

// deliverResponse forwards the top alternative of every result.
func deliverResponse(d *stt.Deliverer, resp *speechpb.StreamingRecognizeResponse) {
	for _, r := range resp.GetResults() {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		d.Fragment(models.Fragment{
			Text:       alt.Transcript,
			IsFinal:    r.IsFinal,
			Confidence: float64(alt.Confidence),
			Raw: map[string]any{
				"stability":     r.Stability,
				"language_code": r.LanguageCode,
				"result_end_ms": r.GetResultEndTime().AsDuration().Milliseconds(),
			},
		})
	}
}

func recognitionConfig(cfg Config) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
	}
}

// parseAudioEncoding maps a config string to the speech enum, defaulting to
// LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToUpper(s) {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
