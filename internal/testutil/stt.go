package testutil

import (
	"context"
	"sync"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/service/stt"
)

// FakeAdapter is a scripted stt.Adapter. By default every audio frame
// becomes one final fragment whose text is the frame's bytes.
type FakeAdapter struct {
	mu        sync.Mutex
	deliverer *stt.Deliverer

	// OnAudio overrides how a frame turns into fragments.
	OnAudio func(audio []byte) []models.Fragment
	// StartErr is returned by Start.
	StartErr error
	// FailOnFrame, when > 0, makes that frame (1-based) report StreamErr
	// through OnError instead of producing fragments.
	FailOnFrame int
	StreamErr   error
	// PanicOnFrame, when > 0, makes SendAudio panic on that frame.
	PanicOnFrame int

	Frames     [][]byte
	StartCalls int
	CloseCalls int
}

func (a *FakeAdapter) Start(ctx context.Context, cb stt.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.StartCalls++
	if a.StartErr != nil {
		return a.StartErr
	}
	a.deliverer = stt.NewDeliverer(cb, 0)
	return nil
}

func (a *FakeAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deliverer == nil {
		return stt.ErrNotStarted
	}
	a.Frames = append(a.Frames, audio)
	n := len(a.Frames)

	if a.PanicOnFrame > 0 && n == a.PanicOnFrame {
		panic("fake adapter: frame handler blew up")
	}
	if a.FailOnFrame > 0 && n == a.FailOnFrame {
		a.deliverer.Error(a.StreamErr)
		return nil
	}

	frags := []models.Fragment{{Text: string(audio), IsFinal: true, Confidence: 0.9}}
	if a.OnAudio != nil {
		frags = a.OnAudio(audio)
	}
	for _, f := range frags {
		a.deliverer.Fragment(f)
	}
	return nil
}

// Close drains pending callbacks, including OnClose, before returning.
func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	a.CloseCalls++
	d := a.deliverer
	a.mu.Unlock()
	if d != nil {
		d.Close()
	}
	return nil
}

// Factory returns an stt.Factory handing out a.
func (a *FakeAdapter) Factory() stt.Factory {
	return func(context.Context) (stt.Adapter, error) {
		return a, nil
	}
}
