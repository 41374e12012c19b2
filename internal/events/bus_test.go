package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/observability/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func testPayload() models.BusPayload {
	return models.WrapEnvelope(models.EnvelopeV1{
		SchemaVersion:   models.SchemaVersionV1,
		TenantID:        "tenant-1",
		UserID:          "user-1",
		InteractionType: models.InteractionTranscript,
		Content:         models.Content{Text: "hello world", Format: "plain"},
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Source:          models.SourceWebMic,
		InteractionID:   "int-1",
		TraceID:         "trace-1",
	})
}

func TestNewKafka_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *KafkaConfig
	}{
		{"nil config", nil},
		{"disabled", &KafkaConfig{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &KafkaConfig{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &KafkaConfig{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewKafka(tt.cfg, metrics.NewMetrics(nil))
			if b == nil {
				t.Fatal("expected non-nil bus")
			}
			if b.enabled {
				t.Error("expected bus to be disabled")
			}
			if b.writerFragment != nil || b.writerInteraction != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNewKafka_ConfigValues(t *testing.T) {
	b := NewKafka(&KafkaConfig{
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		TopicFragment:    "test.fragment",
		TopicInteraction: "test.interaction",
		Principal:        "test-principal",
	}, metrics.NewMetrics(nil))

	if b.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", b.principal)
	}
	if b.topicFragment != "test.fragment" {
		t.Errorf("expected fragment topic 'test.fragment', got %s", b.topicFragment)
	}
	if b.topicInteraction != "test.interaction" {
		t.Errorf("expected interaction topic 'test.interaction', got %s", b.topicInteraction)
	}
}

func TestNewKafka_Enabled(t *testing.T) {
	b := NewKafka(&KafkaConfig{
		Enabled:          true,
		Brokers:          []string{"localhost:9092"},
		TopicFragment:    "f",
		TopicInteraction: "i",
	}, metrics.NewMetrics(nil))
	defer b.Close()

	if !b.enabled {
		t.Fatal("expected bus to be enabled")
	}
	w, ok := b.writerInteraction.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", b.writerInteraction)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("expected hash balancer for key partitioning, got %T", w.Balancer)
	}
}

func TestKafkaBus_DisabledPublishIsNoError(t *testing.T) {
	b := NewKafka(&KafkaConfig{Enabled: false}, metrics.NewMetrics(nil))

	if err := b.BroadcastFragment(context.Background(), models.TranscriptFragment{SessionID: "s", Text: "x"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := b.PublishInteraction(context.Background(), testPayload()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestKafkaBus_InvalidJSON(t *testing.T) {
	b := NewKafka(&KafkaConfig{Enabled: false}, metrics.NewMetrics(nil))

	ev := models.TranscriptFragment{SessionID: "s", Metadata: map[string]any{"bad": make(chan int)}}
	if err := b.BroadcastFragment(context.Background(), ev); err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestKafkaBus_PublishInteractionKeyedByTenant(t *testing.T) {
	fw := &fakeWriter{}
	b := &KafkaBus{
		writerInteraction: fw,
		topicInteraction:  "interaction.completed",
		principal:         "svc",
		enabled:           true,
		metrics:           metrics.NewMetrics(nil),
	}

	if err := b.PublishInteraction(context.Background(), testPayload()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}

	msg := fw.msgs[0]
	if string(msg.Key) != "tenant-1" {
		t.Errorf("expected key tenant-1, got %s", msg.Key)
	}
	if header(msg, "eventType") != eventInteraction {
		t.Errorf("unexpected eventType header %q", header(msg, "eventType"))
	}
	if header(msg, "principal") != "svc" {
		t.Errorf("unexpected principal header %q", header(msg, "principal"))
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["tenant_id"] != "tenant-1" || decoded["schema_version"] != "v1" {
		t.Errorf("unexpected routing fields: %v", decoded)
	}
	env := decoded["envelope"].(map[string]any)
	if env["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp %v", env["timestamp"])
	}
}

func TestKafkaBus_FragmentKeyedBySession(t *testing.T) {
	fw := &fakeWriter{}
	b := &KafkaBus{writerFragment: fw, topicFragment: "f", enabled: true, metrics: metrics.NewMetrics(nil)}

	err := b.BroadcastFragment(context.Background(), models.TranscriptFragment{SessionID: "sess-9", TenantID: "t", Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(fw.msgs[0].Key) != "sess-9" {
		t.Errorf("expected key sess-9, got %s", fw.msgs[0].Key)
	}
}

func TestKafkaBus_WriteErrorReturned(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	b := &KafkaBus{writerInteraction: fw, topicInteraction: "i", enabled: true, metrics: metrics.NewMetrics(nil)}

	if err := b.PublishInteraction(context.Background(), testPayload()); err == nil {
		t.Error("expected write error")
	}
}

func TestKafkaBus_Close(t *testing.T) {
	f1, f2 := &fakeWriter{}, &fakeWriter{}
	b := &KafkaBus{writerFragment: f1, writerInteraction: f2}

	if err := b.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f1.closed || !f2.closed {
		t.Error("expected both writers closed")
	}

	if err := (&KafkaBus{}).Close(); err != nil {
		t.Errorf("expected no error closing bus with nil writers, got %v", err)
	}
}

type fakeNATS struct {
	msgs    []*nats.Msg
	err     error
	flushes int
	drained bool
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestNATSBus_Subjects(t *testing.T) {
	nc := &fakeNATS{}
	b := newNATSBus(nc, NATSConfig{SubjectPrefix: "speech", Principal: "svc"}, metrics.NewMetrics(nil))
	ctx := context.Background()

	if err := b.BroadcastFragment(ctx, models.TranscriptFragment{SessionID: "s", TenantID: "t", Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := testPayload()
	payload.TenantID = "acme.corp"
	if err := b.PublishInteraction(ctx, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(nc.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(nc.msgs))
	}
	if nc.msgs[0].Subject != "speech.transcript.fragment" {
		t.Errorf("unexpected fragment subject %s", nc.msgs[0].Subject)
	}
	if nc.msgs[1].Subject != "speech.interaction.completed.acme_corp" {
		t.Errorf("unexpected interaction subject %s", nc.msgs[1].Subject)
	}
	if nc.msgs[1].Header.Get("tenantId") != "acme.corp" {
		t.Errorf("unexpected tenant header %q", nc.msgs[1].Header.Get("tenantId"))
	}
	if nc.flushes != 1 {
		t.Errorf("expected one flush for the interaction, got %d", nc.flushes)
	}

	if err := b.Close(); err != nil || !nc.drained {
		t.Errorf("expected drain on close, err=%v", err)
	}
}

func TestNATSBus_PublishError(t *testing.T) {
	nc := &fakeNATS{err: nats.ErrConnectionClosed}
	b := newNATSBus(nc, NATSConfig{}, metrics.NewMetrics(nil))

	err := b.PublishInteraction(context.Background(), testPayload())
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("expected wrapped ErrConnectionClosed, got %v", err)
	}
}

func TestNATSBus_CanceledContext(t *testing.T) {
	nc := &fakeNATS{}
	b := newNATSBus(nc, NATSConfig{}, metrics.NewMetrics(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.PublishInteraction(ctx, testPayload()); err == nil {
		t.Error("expected context error")
	}
	if len(nc.msgs) != 0 {
		t.Error("expected nothing published")
	}
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"":           "_",
		"plain":      "plain",
		"a.b":        "a_b",
		"x*y>z":      "x_y_z",
		"with space": "with_space",
	}
	for in, want := range tests {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}
