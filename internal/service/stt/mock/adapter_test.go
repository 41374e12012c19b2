package mock

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/service/stt"
)

// recorder collects callbacks for assertions.
type recorder struct {
	mu        sync.Mutex
	fragments []models.Fragment
	errors    []error
	closes    int
}

func (r *recorder) callbacks() stt.Callbacks {
	return stt.Callbacks{
		OnFragment: func(f models.Fragment) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fragments = append(r.fragments, f)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, err)
		},
		OnClose: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
		},
	}
}

func (r *recorder) finals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.fragments {
		if f.IsFinal {
			out = append(out, f.Text)
		}
	}
	return out
}

func (r *recorder) partials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.fragments {
		if !f.IsFinal {
			out = append(out, f.Text)
		}
	}
	return out
}

var twoUtterances = []SimulatedUtterance{
	{Partials: []string{"a", "a b"}, Final: "a b c.", Confidence: 0.9},
	{Partials: []string{"d"}, Final: "d e.", Confidence: 0.8},
}

func newTestAdapter() *Adapter {
	return New(Options{Utterances: twoUtterances})
}

func TestAdapter_New(t *testing.T) {
	adapter := New(Options{})
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.closed {
		t.Error("expected adapter to not be closed initially")
	}
	if len(adapter.opts.Utterances) != len(DefaultUtterances) {
		t.Error("expected default utterances")
	}
}

func TestAdapter_SendAudio_BeforeStart(t *testing.T) {
	adapter := New(Options{})

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != stt.ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapter_SendAudio_PartialsThenFinal(t *testing.T) {
	adapter := newTestAdapter()
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	// 3 frames finish utterance one, 2 frames finish utterance two.
	for i := 0; i < 5; i++ {
		if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	adapter.Close()

	if got := rec.partials(); len(got) != 3 {
		t.Errorf("expected 3 partials, got %v", got)
	}
	finals := rec.finals()
	if len(finals) != 2 || finals[0] != "a b c." || finals[1] != "d e." {
		t.Errorf("unexpected finals %v", finals)
	}
	if adapter.AudioReceived() != 5 {
		t.Errorf("expected 5 frames, got %d", adapter.AudioReceived())
	}
}

func TestAdapter_Close_FinalizesUtteranceInProgress(t *testing.T) {
	adapter := newTestAdapter()
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	adapter.SendAudio(context.Background(), []byte("audio"))
	adapter.Close()

	finals := rec.finals()
	if len(finals) != 1 || finals[0] != "a b c." {
		t.Errorf("expected the cut-short utterance to be finalized, got %v", finals)
	}
}

func TestAdapter_Close_NoAudioNoFinal(t *testing.T) {
	adapter := newTestAdapter()
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	adapter.Close()

	if finals := rec.finals(); len(finals) != 0 {
		t.Errorf("expected no finals without audio, got %v", finals)
	}
	if rec.closes != 1 {
		t.Errorf("expected OnClose once, got %d", rec.closes)
	}
}

func TestAdapter_Close_BlocksUntilDelivered(t *testing.T) {
	adapter := New(Options{Utterances: twoUtterances, Latency: 20 * time.Millisecond})
	if adapter.current != 0 {
		t.Fatalf("expected first utterance, got %d", adapter.current)
	}
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	for i := 0; i < 3; i++ {
		adapter.SendAudio(context.Background(), []byte("audio"))
	}
	adapter.Close()

	// Everything is delivered by the time Close returns.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fragments) != 3 {
		t.Errorf("expected 3 fragments delivered before Close returned, got %d", len(rec.fragments))
	}
	if rec.closes != 1 {
		t.Errorf("expected OnClose before Close returned, got %d", rec.closes)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := newTestAdapter()
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	adapter.Close()
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if rec.closes != 1 {
		t.Errorf("expected OnClose once, got %d", rec.closes)
	}
}

func TestAdapter_SendAudio_AfterClose(t *testing.T) {
	adapter := newTestAdapter()
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())
	adapter.Close()

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.partials()) != 0 {
		t.Error("expected no callbacks after close")
	}
}

func TestDefaultUtterances(t *testing.T) {
	if len(DefaultUtterances) != 5 {
		t.Errorf("expected 5 default utterances, got %d", len(DefaultUtterances))
	}

	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	adapter := New(Options{})
	rec := &recorder{}
	adapter.Start(context.Background(), rec.callbacks())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				adapter.SendAudio(context.Background(), []byte("audio"))
			}
		}()
	}

	wg.Wait()
	adapter.Close()

	if adapter.AudioReceived() != 50 {
		t.Errorf("expected 50 frames, got %d", adapter.AudioReceived())
	}
}

func TestNewFactory(t *testing.T) {
	a, err := NewFactory(Options{})(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.(*Adapter); !ok {
		t.Errorf("expected *Adapter, got %T", a)
	}
}

func TestAdapter_StartOption(t *testing.T) {
	tests := []struct {
		start int
		want  int
	}{
		{0, 0},
		{1, 1},
		{2, 0},
		{-1, 1},
	}
	for _, tt := range tests {
		a := New(Options{Utterances: twoUtterances, Start: tt.start})
		if a.current != tt.want {
			t.Errorf("Start=%d: expected utterance %d, got %d", tt.start, tt.want, a.current)
		}
	}
}

func TestNewFactory_RotatesPerFactory(t *testing.T) {
	for round := 0; round < 2; round++ {
		factory := NewFactory(Options{Utterances: twoUtterances})
		for i, want := range []int{0, 1, 0} {
			a, err := factory(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := a.(*Adapter).current; got != want {
				t.Errorf("round %d adapter %d: expected utterance %d, got %d", round, i, want, got)
			}
		}
	}
}

func TestAdapter_SameOptionsSameSimulation(t *testing.T) {
	run := func() []string {
		adapter := New(Options{Utterances: twoUtterances})
		rec := &recorder{}
		adapter.Start(context.Background(), rec.callbacks())
		for i := 0; i < 3; i++ {
			adapter.SendAudio(context.Background(), []byte("audio"))
		}
		adapter.Close()
		return rec.finals()
	}
	first, second := run(), run()
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("expected identical finals, got %v and %v", first, second)
	}
}
