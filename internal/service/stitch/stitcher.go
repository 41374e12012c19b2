package stitch

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"ai-speech-intelligence-service/internal/observability/logging"
)

// Status classifies the outcome of a reconstruction.
type Status int

const (
	// StatusOK means at least one fragment was stitched.
	StatusOK Status = iota
	// StatusEmpty means the log held no fragments. Not an error.
	StatusEmpty
	// StatusReadFailed means the log could not be read.
	StatusReadFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusReadFailed:
		return "read_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one reconstruction.
type Result struct {
	Transcript string
	Fragments  int
	Status     Status
	ReadErr    error
	DeleteErr  error
}

// Stitcher turns a session log into one transcript and reclaims the log.
// Reconstruction is a destructive one-shot read: a second call for the same
// session returns an empty transcript.
type Stitcher struct {
	log  OrderedLog
	opts Options
}

// NewStitcher creates a Stitcher over log.
func NewStitcher(log OrderedLog, opts Options) *Stitcher {
	return &Stitcher{log: log, opts: opts.withDefaults()}
}

// Reconstruct returns the session transcript, or "" when there is nothing to
// stitch or the log could not be read.
func (s *Stitcher) Reconstruct(ctx context.Context, sessionID string) string {
	return s.ReconstructResult(ctx, sessionID).Transcript
}

// ReconstructResult reads every fragment of sessionID in append order, joins
// them with a single space and deletes the log. The delete is attempted even
// when the read fails so that explicit deletion stays the primary reclaim
// path and the TTL only covers abandoned sessions.
func (s *Stitcher) ReconstructResult(ctx context.Context, sessionID string) Result {
	logger := loggerFor(sessionID)
	if sessionID == "" {
		logger.Error().Msg("Reconstruct rejected: empty session id")
		return Result{Status: StatusReadFailed, ReadErr: ErrEmptyKey}
	}

	key := Key(s.opts.KeyPrefix, sessionID)
	var res Result

	if c, ok := s.log.(Consumer); ok {
		cctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		fragments, err := c.ReadAndDelete(cctx, key)
		cancel()
		if err != nil {
			res.ReadErr = err
			// The atomic step may not have run at all; fall back to a plain
			// delete so the log is still reclaimed.
			res.DeleteErr = s.delete(ctx, key)
		}
		res = s.finish(res, fragments)
	} else {
		rctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		fragments, err := s.log.ReadAll(rctx, key)
		cancel()
		res.ReadErr = err
		res.DeleteErr = s.delete(ctx, key)
		res = s.finish(res, fragments)
	}

	ev := logger.Info()
	if res.ReadErr != nil {
		ev = logger.Error().Err(res.ReadErr)
	}
	if res.DeleteErr != nil {
		ev = ev.AnErr("deleteErr", res.DeleteErr)
	}
	ev.Str("status", res.Status.String()).
		Int("fragments", res.Fragments).
		Int("chars", len(res.Transcript)).
		Msg("Session transcript reconstructed")

	result := res.Status.String()
	if res.Status == StatusOK && res.DeleteErr != nil {
		result = "delete_error"
	}
	s.opts.Metrics.RecordStitch(result, len(res.Transcript))
	return res
}

func (s *Stitcher) delete(ctx context.Context, key string) error {
	dctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return s.log.Delete(dctx, key)
}

func (s *Stitcher) finish(res Result, fragments []string) Result {
	if res.ReadErr != nil {
		res.Status = StatusReadFailed
		return res
	}
	if len(fragments) == 0 {
		res.Status = StatusEmpty
		return res
	}
	res.Status = StatusOK
	res.Fragments = len(fragments)
	res.Transcript = Join(fragments)
	return res
}

// Join concatenates fragments with a single ASCII space, in order.
func Join(fragments []string) string {
	return strings.Join(fragments, " ")
}

func loggerFor(sessionID string) zerolog.Logger {
	return logging.WithComponent("stitcher").With().Str("sessionId", sessionID).Logger()
}
