// Package http exposes the live session WebSocket, the text ingestion API
// and recording uploads.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ai-speech-intelligence-service/internal/app"
	"ai-speech-intelligence-service/internal/service/batch"
	"ai-speech-intelligence-service/internal/service/dispatch"
	"ai-speech-intelligence-service/internal/service/session"
)

// SessionRunner drives one live session over conn until it is closed.
type SessionRunner interface {
	Run(ctx context.Context, conn session.Conn, info session.ClientInfo) session.Outcome
}

// TextIngester cleans and fans out a submitted note.
type TextIngester interface {
	IngestText(ctx context.Context, req dispatch.TextRequest) (dispatch.TextResult, error)
}

// BatchProcessor transcribes uploaded recordings inline or as jobs.
type BatchProcessor interface {
	MaxUploadBytes() int64
	Process(ctx context.Context, up batch.Upload) (batch.Result, error)
	Submit(ctx context.Context, up batch.Upload) (batch.Job, error)
	Job(ctx context.Context, tenantID, id string) (batch.Job, error)
}

// Options tunes the handlers.
type Options struct {
	DefaultTenant  string
	DefaultUser    string
	MaxFrameBytes  int64
	WriteTimeout   time.Duration
	MaxTextBytes   int64
	AllowedOrigins []string
}

// Handlers serves the API routes.
type Handlers struct {
	app      *app.Application
	sessions SessionRunner
	text     TextIngester
	batch    BatchProcessor
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandlers builds the handlers. A nil batch processor leaves the upload
// routes unmounted.
func NewHandlers(application *app.Application, sessions SessionRunner, text TextIngester, uploads BatchProcessor, opts Options) *Handlers {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxTextBytes <= 0 {
		opts.MaxTextBytes = 1 << 20
	}
	h := &Handlers{
		app:      application,
		sessions: sessions,
		text:     text,
		batch:    uploads,
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts every origin unless an allow list is configured.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
