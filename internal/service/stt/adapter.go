// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"errors"

	"ai-speech-intelligence-service/internal/models"
)

// ErrNotStarted is returned by SendAudio before Start.
var ErrNotStarted = errors.New("stt: stream not started")

// Callbacks receive results from the STT provider. Any field may be nil.
// An adapter invokes them from a single goroutine, in the order the
// provider produced them, and never after Close has returned.
type Callbacks struct {
	// OnFragment is called for every interim or final hypothesis.
	OnFragment func(f models.Fragment)

	// OnClose is called once, last, when the upstream stream has ended and
	// every fragment has been delivered.
	OnClose func()

	// OnError is called when the upstream stream fails. OnClose still
	// follows.
	OnError func(err error)
}

// Adapter defines the interface for STT providers (Google, mock, ...).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callbacks) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session. It blocks until the provider has flushed its
	// remaining results and OnClose has run. Close is idempotent.
	Close() error
}

// Factory opens a new adapter for one session.
type Factory func(ctx context.Context) (Adapter, error)
