// Package batch transcribes uploaded recordings, cleans the diarized
// transcript chunk by chunk and sends it through the interaction fan-out,
// either inline or as a tracked background job.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/logging"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/dispatch"
	"ai-speech-intelligence-service/internal/service/stt"
)

// AnalysisType labels uploaded recordings for intelligence.
const AnalysisType = "batch_upload"

var (
	ErrEmptyAudio      = errors.New("batch: audio file is empty")
	ErrUnsupportedFile = errors.New("batch: unsupported file type")
	ErrTooLarge        = errors.New("batch: audio file too large")
	ErrTranscription   = errors.New("batch: transcription failed")
	ErrEmptyTranscript = errors.New("batch: transcription returned no text")
	ErrShuttingDown    = errors.New("batch: service is shutting down")
	ErrJobsDisabled    = errors.New("batch: job tracking is not configured")
	ErrJobNotFound     = errors.New("batch: job not found")
	errInterrupted     = errors.New("batch: interrupted by shutdown")
)

var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
}

// MIMEType maps an upload file name to its audio MIME type.
func MIMEType(fileName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if mt, ok := mimeTypes[ext]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
}

// Publisher fans out a cleaned transcript.
type Publisher interface {
	PublishTranscript(ctx context.Context, req dispatch.TranscriptRequest) ([]dispatch.Outcome, error)
}

// Upload is one recording submitted for processing.
type Upload struct {
	FileName  string
	Audio     []byte
	Metadata  map[string]any
	TenantID  string
	UserID    string
	AccountID string
	TraceID   string
}

// Result is the outcome of an inline upload.
type Result struct {
	InteractionID     string
	RawTranscript     string
	CleanedTranscript string
	Outcomes          []dispatch.Outcome
}

// Config tunes the service.
type Config struct {
	MaxUploadBytes    int64
	TranscribeTimeout time.Duration
	// Workers bounds how many background jobs run at once.
	Workers int
	// StuckAfter is how long a job may stay queued or processing before the
	// reaper fails it.
	StuckAfter time.Duration
	// DrainTimeout bounds how long Close waits for running jobs.
	DrainTimeout time.Duration
	StoreTimeout time.Duration
}

// DefaultConfig returns limits sized for inline recognition requests.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes:    10 << 20,
		TranscribeTimeout: 10 * time.Minute,
		Workers:           2,
		StuckAfter:        30 * time.Minute,
		DrainTimeout:      30 * time.Second,
		StoreTimeout:      5 * time.Second,
	}
}

// Service processes uploads.
type Service struct {
	transcriber stt.Transcriber
	cleaner     *ChunkCleaner
	pub         Publisher
	jobs        JobStore
	cfg         Config
	metrics     *metrics.Metrics
	now         func() time.Time

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New wires a Service. A nil job store disables background jobs.
func New(t stt.Transcriber, c *ChunkCleaner, pub Publisher, jobs JobStore, cfg Config, m *metrics.Metrics) *Service {
	def := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = def.TranscribeTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if c == nil {
		c = NewChunkCleaner(nil, 0)
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		transcriber: t,
		cleaner:     c,
		pub:         pub,
		jobs:        jobs,
		cfg:         cfg,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		sem:         semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// MaxUploadBytes returns the largest accepted recording.
func (s *Service) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

// Validate checks an upload's name and size and returns its MIME type.
func (s *Service) Validate(up Upload) (string, error) {
	mt, err := MIMEType(up.FileName)
	if err != nil {
		return "", err
	}
	switch {
	case len(up.Audio) == 0:
		return "", ErrEmptyAudio
	case int64(len(up.Audio)) > s.cfg.MaxUploadBytes:
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(up.Audio), s.cfg.MaxUploadBytes)
	}
	return mt, nil
}

// Process transcribes, cleans and fans out an upload before returning.
func (s *Service) Process(ctx context.Context, up Upload) (Result, error) {
	mt, err := s.Validate(up)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	res, err := s.run(ctx, uuid.NewString(), "", up, mt)
	s.metrics.RecordBatch("sync", resultLabel(err), time.Since(start).Seconds())
	return res, err
}

func (s *Service) run(ctx context.Context, interactionID, jobID string, up Upload, mimeType string) (Result, error) {
	if up.TraceID == "" {
		up.TraceID = uuid.NewString()
	}
	logger := logging.WithInteraction(interactionID, up.TenantID).With().
		Str("traceId", up.TraceID).
		Str("fileName", up.FileName).
		Logger()
	if jobID != "" {
		logger = logger.With().Str("jobId", jobID).Logger()
	}
	logger.Info().Str("mimeType", mimeType).Int("audioBytes", len(up.Audio)).Msg("Batch processing started")

	raw, err := s.transcribe(ctx, up.Audio, mimeType)
	if err != nil {
		logger.Error().Err(err).Msg("Batch transcription failed")
		return Result{}, err
	}
	if strings.TrimSpace(raw) == "" {
		logger.Warn().Msg("Transcription returned no text")
		return Result{}, ErrEmptyTranscript
	}

	cleaned := s.cleaner.Clean(ctx, raw, logger)

	extras := make(map[string]any, len(up.Metadata)+4)
	for k, v := range up.Metadata {
		extras[k] = v
	}
	extras["file_name"] = up.FileName
	extras["mime_type"] = mimeType
	extras["raw_transcript"] = raw
	if jobID != "" {
		extras["job_id"] = jobID
	}
	outcomes, err := s.pub.PublishTranscript(ctx, dispatch.TranscriptRequest{
		InteractionID:   interactionID,
		Text:            cleaned,
		Format:          models.FormatDiarized,
		InteractionType: models.InteractionTranscript,
		AnalysisType:    AnalysisType,
		Source:          models.SourceUpload,
		TenantID:        up.TenantID,
		UserID:          up.UserID,
		AccountID:       up.AccountID,
		TraceID:         up.TraceID,
		Extras:          extras,
	})
	if err != nil {
		return Result{}, err
	}

	logger.Info().Int("rawChars", len(raw)).Int("cleanedChars", len(cleaned)).Msg("Batch processing complete")
	return Result{
		InteractionID:     interactionID,
		RawTranscript:     raw,
		CleanedTranscript: cleaned,
		Outcomes:          outcomes,
	}, nil
}

func (s *Service) transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TranscribeTimeout)
	defer cancel()
	raw, err := s.transcriber.Transcribe(tctx, audio, mimeType)
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, stt.ErrUnsupportedFormat):
		return "", fmt.Errorf("%w: %w", ErrUnsupportedFile, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return string(JobSucceeded)
	}
	return errorCode(err)
}

// errorCode maps a processing error to the code stored on failed jobs.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errInterrupted):
		return "INTERRUPTED"
	case errors.Is(err, ErrEmptyTranscript):
		return "EMPTY_TRANSCRIPT"
	case errors.Is(err, ErrUnsupportedFile):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, ErrTranscription):
		return "TRANSCRIPTION_FAILED"
	default:
		return "PROCESSING_FAILED"
	}
}

func jobLogger(j Job) zerolog.Logger {
	return logging.WithInteraction(j.InteractionID, j.TenantID).With().Str("jobId", j.ID).Logger()
}
