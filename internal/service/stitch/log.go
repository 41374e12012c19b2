// Package stitch accumulates finalized transcript fragments of a live session
// in a durable ordered log and reconstructs the whole transcript when the
// session closes.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-speech-intelligence-service/internal/models"
)

// DefaultTTL is how long an abandoned session log survives without an
// explicit reconstruct.
const DefaultTTL = 24 * time.Hour

// DefaultKeyPrefix is the first component of every session log key.
const DefaultKeyPrefix = "session"

// ErrEmptyKey is returned by backends when asked to touch an empty key.
var ErrEmptyKey = errors.New("stitch: empty log key")

// OrderedLog is a key-partitioned append-only list with a time-to-live per
// key. Implementations must keep values of one key in append order.
type OrderedLog interface {
	// Append adds value to the end of key's list and (re)sets the key's TTL.
	Append(ctx context.Context, key, value string, ttl time.Duration) error
	// ReadAll returns every value of key in append order. A missing key
	// yields an empty slice and no error.
	ReadAll(ctx context.Context, key string) ([]string, error)
	// Delete removes key and all of its values. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error
}

// Consumer is implemented by backends that can read and delete a list in
// one atomic step. The Stitcher prefers it when available.
type Consumer interface {
	ReadAndDelete(ctx context.Context, key string) ([]string, error)
}

// Broadcaster delivers a finalized fragment to live consumers. It is best
// effort: failures are logged by the caller and never retried.
type Broadcaster interface {
	BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, ev models.TranscriptFragment) error

func (f BroadcasterFunc) BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error {
	return f(ctx, ev)
}

// Key returns the log key of a session: {prefix}:{sessionID}:transcript.
func Key(prefix, sessionID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s:%s:transcript", prefix, sessionID)
}
