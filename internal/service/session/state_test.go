package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("s-1")

	if lc.State() != StateOpening {
		t.Errorf("expected StateOpening, got %v", lc.State())
	}
	if lc.SessionId() != "s-1" {
		t.Errorf("expected s-1, got %v", lc.SessionId())
	}
	if lc.IsStreaming() || lc.IsClosed() {
		t.Error("expected neither streaming nor closed")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle("s-1")

	steps := []struct {
		name string
		fn   func() error
		want State
	}{
		{"stream", lc.BeginStreaming, StateStreaming},
		{"finalize", func() error { return lc.Finalize("stop") }, StateFinalizing},
		{"dispatch", lc.BeginDispatch, StateDispatching},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			t.Fatalf("%s: unexpected error: %v", s.name, err)
		}
		if lc.State() != s.want {
			t.Fatalf("%s: expected %v, got %v", s.name, s.want, lc.State())
		}
	}

	lc.Close()
	if !lc.IsClosed() {
		t.Error("expected closed")
	}
	if lc.Reason() != "stop" {
		t.Errorf("expected reason stop, got %q", lc.Reason())
	}
}

func TestLifecycle_FinalizeOnlyOnce(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.BeginStreaming()

	if err := lc.Finalize("disconnect"); err != nil {
		t.Fatalf("first finalize: unexpected error: %v", err)
	}
	if err := lc.Finalize("stop"); err != ErrAlreadyFinalized {
		t.Errorf("second finalize: expected ErrAlreadyFinalized, got %v", err)
	}
	if lc.Reason() != "disconnect" {
		t.Errorf("expected first reason to stick, got %q", lc.Reason())
	}
}

func TestLifecycle_FinalizeConcurrentExactlyOnce(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.BeginStreaming()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Finalize("race") == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one finalize, got %d", wins)
	}
}

func TestLifecycle_FinalizeFromOpening(t *testing.T) {
	lc := NewLifecycle("s-1")

	if err := lc.Finalize("upstream_error"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.State() != StateFinalizing {
		t.Errorf("expected StateFinalizing, got %v", lc.State())
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	lc := NewLifecycle("s-1")

	if err := lc.BeginDispatch(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dispatch from opening: expected ErrInvalidTransition, got %v", err)
	}

	lc.BeginStreaming()
	if err := lc.BeginStreaming(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stream twice: expected ErrInvalidTransition, got %v", err)
	}

	lc.Close()
	if err := lc.Finalize("late"); err != ErrAlreadyFinalized {
		t.Errorf("finalize after close: expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestLifecycle_Close_Idempotent(t *testing.T) {
	lc := NewLifecycle("s-1")

	lc.Close()
	lc.Close()

	if lc.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", lc.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpening, "OPENING"},
		{StateStreaming, "STREAMING"},
		{StateFinalizing, "FINALIZING"},
		{StateDispatching, "DISPATCHING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestGenerator_Next(t *testing.T) {
	g := NewGenerator()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.Next()
		if len(id) != 36 {
			t.Fatalf("expected uuid, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if g.Issued() != 100 {
		t.Errorf("expected 100 issued, got %d", g.Issued())
	}
}
