// Package events publishes transcript fragments and completed interactions
// to the event bus.
package events

import (
	"context"

	"ai-speech-intelligence-service/internal/models"
)

// Bus is the downstream event bus. It doubles as the live broadcaster of the
// fragment publisher.
type Bus interface {
	// BroadcastFragment publishes a finalized fragment, keyed by session.
	BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error
	// PublishInteraction publishes a completed interaction, keyed by tenant.
	PublishInteraction(ctx context.Context, payload models.BusPayload) error
	Close() error
}

// Event types carried in message headers.
const (
	eventFragment    = "fragment"
	eventInteraction = "interaction"
)
