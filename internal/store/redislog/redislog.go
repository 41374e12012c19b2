// Package redislog stores session transcript logs in Redis lists and
// broadcasts live fragments to a Redis stream.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/service/stitch"
)

// Log implements stitch.OrderedLog and stitch.Consumer on Redis lists.
type Log struct {
	client redis.UniversalClient
}

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url string) (*Log, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis ordered log connected")
	return New(client), nil
}

// New wraps an existing client. The client is shared; Close closes it.
func New(client redis.UniversalClient) *Log {
	return &Log{client: client}
}

// Client returns the underlying client so other components can share the pool.
func (l *Log) Client() redis.UniversalClient {
	return l.client
}

// Append pushes value to the tail of key and resets its TTL in one
// MULTI/EXEC block.
func (l *Log) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return stitch.ErrEmptyKey
	}
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// ReadAll returns the whole list in append order.
func (l *Log) ReadAll(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, stitch.ErrEmptyKey
	}
	vals, err := l.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// Delete removes the list.
func (l *Log) Delete(ctx context.Context, key string) error {
	if key == "" {
		return stitch.ErrEmptyKey
	}
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// ReadAndDelete reads and removes the list inside one transaction, so no
// append can land between the read and the delete.
func (l *Log) ReadAndDelete(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, stitch.ErrEmptyKey
	}
	var lrange *redis.StringSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", key, err)
	}
	return lrange.Val(), nil
}

// TTL returns the remaining time to live of key. Redis answers -2 for a
// missing key and -1 for a key without expiry.
func (l *Log) TTL(ctx context.Context, key string) (time.Duration, error) {
	return l.client.TTL(ctx, key).Result()
}

// Ping checks connectivity.
func (l *Log) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client.
func (l *Log) Close() error {
	return l.client.Close()
}

// StreamBroadcaster appends every finalized fragment to a capped Redis
// stream that live consumers can XREAD.
type StreamBroadcaster struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamBroadcaster creates a broadcaster writing to stream, trimmed to
// roughly maxLen entries.
func NewStreamBroadcaster(client redis.UniversalClient, stream string, maxLen int64) *StreamBroadcaster {
	return &StreamBroadcaster{client: client, stream: stream, maxLen: maxLen}
}

// BroadcastFragment implements stitch.Broadcaster.
func (b *StreamBroadcaster) BroadcastFragment(ctx context.Context, ev models.TranscriptFragment) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal fragment metadata: %w", err)
	}
	values := map[string]any{
		"event_type": models.EventTranscriptCompleted,
		"transcript": ev.Text,
		"session_id": ev.SessionID,
		"metadata":   string(meta),
		"timestamp":  time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339Nano),
	}
	if ev.TenantID != "" {
		values["tenant_id"] = ev.TenantID
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", b.stream, err)
	}
	return nil
}
