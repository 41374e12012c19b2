package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/logging"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/stitch"
	"ai-speech-intelligence-service/internal/service/stt"
)

// Reasons streaming ended.
const (
	ReasonStop          = "stop"
	ReasonDisconnect    = "disconnect"
	ReasonUpstreamError = "upstream_error"
	ReasonUpstreamEnded = "upstream_closed"
	ReasonMaxAudio      = "limit_audio_bytes"
	ReasonMaxDuration   = "limit_duration"
	ReasonShutdown      = "shutdown"
	ReasonPanic         = "panic"
)

// MessageKind classifies a client message.
type MessageKind int

const (
	// MessageAudio carries raw audio bytes.
	MessageAudio MessageKind = iota
	// MessageStop is the explicit stop signal.
	MessageStop
	// MessageOther is anything else; it is ignored.
	MessageOther
)

// Message is one inbound client message.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Conn is the client side of a live session. Writes may be called from
// more than one goroutine; implementations serialize them.
type Conn interface {
	ReadMessage() (Message, error)
	WriteText(text string) error
	WriteJSON(v any) error
	Close() error
}

// FragmentPublisher is the dual-write step for finalized fragments.
type FragmentPublisher interface {
	Publish(ctx context.Context, text, sessionID, tenantID string, metadata map[string]any)
}

// Reconstructor stitches and reclaims a session log.
type Reconstructor interface {
	ReconstructResult(ctx context.Context, sessionID string) stitch.Result
}

// Completed is a reconstructed session handed to downstream consumers.
type Completed struct {
	SessionID  string
	TenantID   string
	UserID     string
	Transcript string
	Fragments  int
	Reason     string
}

// Dispatcher runs the downstream fan-out. It never fails; the returned
// result, when non-nil, is pushed to the client.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Completed) *models.SessionResult
}

// Limits bounds a single session. Reaching a limit ends streaming the way an
// explicit stop does.
type Limits struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Adapters   stt.Factory
	Publisher  FragmentPublisher
	Stitcher   Reconstructor
	Dispatcher Dispatcher
	IDs        *Generator
	Metrics    *metrics.Metrics
}

// Options tunes a Coordinator.
type Options struct {
	Limits Limits
	// FinalizeTimeout bounds reconstruct plus dispatch.
	FinalizeTimeout time.Duration
	// LiveView pushes every hypothesis to the client as it arrives.
	LiveView bool
}

// ClientInfo identifies who opened the session.
type ClientInfo struct {
	TenantID string
	UserID   string
}

// Outcome summarizes a finished session.
type Outcome struct {
	SessionID  string
	Reason     string
	Transcript string
	Status     stitch.Status
	Dispatched bool
	Delivered  bool
}

// Coordinator drives sessions through OPENING → STREAMING → FINALIZING →
// DISPATCHING → CLOSED. A session that ends for any reason is reconstructed
// exactly once and dispatched at most once.
type Coordinator struct {
	deps Deps
	opts Options
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if deps.IDs == nil {
		deps.IDs = NewGenerator()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 2 * time.Minute
	}
	return &Coordinator{deps: deps, opts: opts}
}

// run carries the per-session state shared with the STT callbacks.
type run struct {
	c         *Coordinator
	lc        *Lifecycle
	conn      Conn
	info      ClientInfo
	logger    zerolog.Logger
	pubCtx    context.Context
	upstream  chan string
	endOnce   sync.Once
	connGone  atomic.Bool
	finals    atomic.Int64
	started   time.Time
	bytesSeen int64
}

// Run owns conn until the session is closed. ctx cancellation (server
// shutdown) ends streaming; it never skips reconstruction.
func (c *Coordinator) Run(ctx context.Context, conn Conn, info ClientInfo) Outcome {
	sessionID := c.deps.IDs.Next()
	r := &run{
		c:        c,
		lc:       NewLifecycle(sessionID),
		conn:     conn,
		info:     info,
		logger:   logging.WithSession(sessionID, info.TenantID),
		pubCtx:   context.WithoutCancel(ctx),
		upstream: make(chan string, 1),
		started:  time.Now(),
	}
	c.deps.Metrics.RecordSessionStart()
	r.logger.Info().Str("userId", info.UserID).Msg("Session opened")

	reason := r.stream(ctx)
	out := r.finalize(reason)

	c.deps.Metrics.RecordSessionEnd(out.Reason, time.Since(r.started).Seconds())
	r.logger.Info().
		Str("reason", out.Reason).
		Str("stitch", out.Status.String()).
		Int("chars", len(out.Transcript)).
		Bool("dispatched", out.Dispatched).
		Bool("delivered", out.Delivered).
		Dur("duration", time.Since(r.started)).
		Msg("Session closed")
	return out
}

// stream covers OPENING and STREAMING and returns why streaming ended.
// Panics are converted into ReasonPanic so finalization still runs.
func (r *run) stream(ctx context.Context) (reason string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("Streaming panicked, finalizing session")
			reason = ReasonPanic
		}
	}()

	adapter, err := r.c.deps.Adapters(r.pubCtx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to create STT adapter")
		return ReasonUpstreamError
	}
	if err := adapter.Start(r.pubCtx, r.callbacks()); err != nil {
		r.logger.Error().Err(err).Msg("Failed to start STT stream")
		r.closeAdapter(adapter)
		return ReasonUpstreamError
	}
	// Every exit from streaming closes upstream before reconstruct runs.
	defer r.closeAdapter(adapter)

	if err := r.lc.BeginStreaming(); err != nil {
		r.logger.Error().Err(err).Msg("Unexpected lifecycle state")
		return ReasonUpstreamError
	}

	msgs := make(chan Message)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go r.readLoop(msgs, readErr, done)

	var deadline <-chan time.Time
	if d := r.c.opts.Limits.MaxDuration; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case msg := <-msgs:
			switch msg.Kind {
			case MessageStop:
				return ReasonStop
			case MessageAudio:
				if reason, ok := r.relay(adapter, msg.Data); !ok {
					return reason
				}
			}
		case err := <-readErr:
			r.connGone.Store(true)
			r.logger.Info().Err(err).Msg("Client connection ended")
			return ReasonDisconnect
		case reason := <-r.upstream:
			return reason
		case <-deadline:
			r.logger.Warn().Dur("maxDuration", r.c.opts.Limits.MaxDuration).Msg("Session duration limit reached")
			return ReasonMaxDuration
		case <-ctx.Done():
			return ReasonShutdown
		}
	}
}

func (r *run) readLoop(msgs chan<- Message, readErr chan<- error, done <-chan struct{}) {
	for {
		msg, err := r.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- msg:
		case <-done:
			return
		}
	}
}

// relay enforces the audio limit and forwards one frame upstream.
func (r *run) relay(adapter stt.Adapter, audio []byte) (string, bool) {
	r.bytesSeen += int64(len(audio))
	if limit := r.c.opts.Limits.MaxAudioBytes; limit > 0 && r.bytesSeen > limit {
		r.logger.Warn().Int64("bytes", r.bytesSeen).Int64("max", limit).Msg("Session audio limit reached")
		return ReasonMaxAudio, false
	}
	r.c.deps.Metrics.RecordAudioReceived(len(audio))
	if err := adapter.SendAudio(r.pubCtx, audio); err != nil {
		r.logger.Error().Err(err).Msg("Failed to send audio upstream")
		return ReasonUpstreamError, false
	}
	return "", true
}

func (r *run) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnFragment: r.onFragment,
		OnError: func(err error) {
			r.logger.Error().Err(err).Msg("STT stream error")
			r.endUpstream(ReasonUpstreamError)
		},
		OnClose: func() {
			r.endUpstream(ReasonUpstreamEnded)
		},
	}
}

func (r *run) endUpstream(reason string) {
	r.endOnce.Do(func() {
		r.upstream <- reason
	})
}

func (r *run) onFragment(f models.Fragment) {
	r.c.deps.Metrics.RecordFragment(f.IsFinal)

	if r.c.opts.LiveView && f.Text != "" && !r.connGone.Load() {
		if err := r.conn.WriteText(f.Text); err != nil {
			r.logger.Debug().Err(err).Msg("Live view write failed")
		}
	}

	if !f.IsFinal {
		return
	}
	r.finals.Add(1)
	meta := make(map[string]any, len(f.Raw)+2)
	for k, v := range f.Raw {
		meta[k] = v
	}
	meta["is_final"] = true
	meta["confidence"] = f.Confidence
	r.c.deps.Publisher.Publish(r.pubCtx, f.Text, r.lc.SessionId(), r.info.TenantID, meta)
}

func (r *run) closeAdapter(adapter stt.Adapter) {
	err := guard("close upstream", func() error { return adapter.Close() })
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to close STT stream")
	}
}

// finalize covers FINALIZING, DISPATCHING and CLOSED.
func (r *run) finalize(reason string) Outcome {
	out := Outcome{SessionID: r.lc.SessionId(), Reason: reason}
	defer r.lc.Close()
	defer func() {
		if err := r.conn.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Client connection close")
		}
	}()

	if err := r.lc.Finalize(reason); err != nil {
		r.logger.Error().Err(err).Msg("Finalize skipped")
		out.Status = stitch.StatusEmpty
		return out
	}
	r.logger.Info().Str("reason", reason).Int64("finals", r.finals.Load()).Msg("Session finalizing")

	ctx, cancel := context.WithTimeout(r.pubCtx, r.c.opts.FinalizeTimeout)
	defer cancel()

	var res stitch.Result
	if err := guard("reconstruct", func() error {
		res = r.c.deps.Stitcher.ReconstructResult(ctx, out.SessionID)
		return nil
	}); err != nil {
		r.logger.Error().Err(err).Msg("Reconstruct failed")
		res = stitch.Result{Status: stitch.StatusReadFailed, ReadErr: err}
	}
	out.Transcript = res.Transcript
	out.Status = res.Status

	if res.Transcript == "" {
		return out
	}

	if err := r.lc.BeginDispatch(); err != nil {
		r.logger.Error().Err(err).Msg("Dispatch skipped")
		return out
	}
	out.Dispatched = true

	var result *models.SessionResult
	if err := guard("dispatch", func() error {
		result = r.c.deps.Dispatcher.Dispatch(ctx, Completed{
			SessionID:  out.SessionID,
			TenantID:   r.info.TenantID,
			UserID:     r.info.UserID,
			Transcript: res.Transcript,
			Fragments:  res.Fragments,
			Reason:     reason,
		})
		return nil
	}); err != nil {
		r.logger.Error().Err(err).Msg("Dispatch failed")
	}
	if result == nil {
		result = &models.SessionResult{RawTranscript: res.Transcript}
	}
	result.Type = models.EventSessionCompleted
	result.SessionID = out.SessionID

	if r.connGone.Load() {
		r.logger.Info().Msg("Client gone, session result not delivered")
		return out
	}
	if err := guard("deliver", func() error { return r.conn.WriteJSON(result) }); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to deliver session result")
		return out
	}
	out.Delivered = true
	return out
}

// guard runs fn and converts a panic into an error.
func guard(step string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", step, p)
		}
	}()
	return fn()
}
