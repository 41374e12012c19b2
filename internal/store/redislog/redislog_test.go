package redislog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/stitch"
)

func newTestLog(t *testing.T) (*miniredis.Miniredis, *Log) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client)
}

func TestLog_AppendReadDelete(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)

	require.NoError(t, l.Append(ctx, "session:a:transcript", "one", time.Hour))
	require.NoError(t, l.Append(ctx, "session:a:transcript", "two", time.Hour))

	vals, err := l.ReadAll(ctx, "session:a:transcript")
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, vals)

	require.NoError(t, l.Delete(ctx, "session:a:transcript"))
	require.False(t, mr.Exists("session:a:transcript"))
}

func TestLog_ReadMissingKey(t *testing.T) {
	_, l := newTestLog(t)

	vals, err := l.ReadAll(context.Background(), "session:none:transcript")
	require.NoError(t, err)
	require.Empty(t, vals)
	require.NoError(t, l.Delete(context.Background(), "session:none:transcript"))
}

func TestLog_AppendSetsTTL(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)
	key := stitch.Key("", "ttl")

	require.NoError(t, l.Append(ctx, key, "x", stitch.DefaultTTL))

	ttl, err := l.TTL(ctx, key)
	require.NoError(t, err)
	require.Equal(t, stitch.DefaultTTL, ttl)

	mr.FastForward(stitch.DefaultTTL + time.Second)
	require.False(t, mr.Exists(key))
}

func TestLog_ReadAndDelete(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)

	require.NoError(t, l.Append(ctx, "k", "a", time.Minute))
	require.NoError(t, l.Append(ctx, "k", "b", time.Minute))

	vals, err := l.ReadAndDelete(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, vals)
	require.False(t, mr.Exists("k"))

	vals, err = l.ReadAndDelete(ctx, "k")
	require.NoError(t, err)
	require.Empty(t, vals)
}

func TestLog_EmptyKey(t *testing.T) {
	ctx := context.Background()
	_, l := newTestLog(t)

	require.ErrorIs(t, l.Append(ctx, "", "x", time.Minute), stitch.ErrEmptyKey)
	_, err := l.ReadAll(ctx, "")
	require.ErrorIs(t, err, stitch.ErrEmptyKey)
	require.ErrorIs(t, l.Delete(ctx, ""), stitch.ErrEmptyKey)
}

func TestLog_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)
	mr.Close()

	require.Error(t, l.Append(ctx, "k", "x", time.Minute))
	_, err := l.ReadAll(ctx, "k")
	require.Error(t, err)
}

func TestStitcher_OverRedis(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)
	opts := stitch.Options{Metrics: metrics.NewMetrics(nil)}
	pub := stitch.NewPublisher(l, nil, opts)
	st := stitch.NewStitcher(l, opts)

	chunks := []string{
		"Hello, this is the first chunk.",
		"This is the second chunk of the transcript.",
		"And finally, this is the third chunk.",
	}
	for _, c := range chunks {
		pub.Publish(ctx, c, "S", "test_org", nil)
	}

	require.Equal(t,
		"Hello, this is the first chunk. This is the second chunk of the transcript. And finally, this is the third chunk.",
		st.Reconstruct(ctx, "S"))
	require.Equal(t, "", st.Reconstruct(ctx, "S"))
	require.Empty(t, mr.Keys())
}

func TestStreamBroadcaster(t *testing.T) {
	ctx := context.Background()
	mr, l := newTestLog(t)
	b := NewStreamBroadcaster(l.Client(), "transcription_events", 10000)

	err := b.BroadcastFragment(ctx, models.TranscriptFragment{
		SessionID: "s1",
		TenantID:  "t1",
		Text:      "hello",
		Timestamp: time.Now().UnixMilli(),
		Metadata:  map[string]any{"is_final": true},
	})
	require.NoError(t, err)

	entries, err := mr.Stream("transcription_events")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	require.Equal(t, "hello", values["transcript"])
	require.Equal(t, "t1", values["tenant_id"])
	require.Equal(t, models.EventTranscriptCompleted, values["event_type"])
}
