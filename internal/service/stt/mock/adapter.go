// Package mock provides a mock STT adapter for running without cloud
// credentials. It cycles through canned utterances: each audio frame yields
// the next interim hypothesis, and the frame after the last interim yields
// the utterance's final hypothesis.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai-speech-intelligence-service/internal/models"
	"ai-speech-intelligence-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Let's", "Let's review", "Let's review the roadmap"},
		Final:      "Let's review the roadmap for next quarter.",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Sarah will", "Sarah will send", "Sarah will send the"},
		Final:      "Sarah will send the pricing proposal by Friday.",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"We decided", "We decided to delay"},
		Final:      "We decided to delay the launch by two weeks.",
		Confidence: 0.95,
	},
	{
		Partials:   []string{"The main", "The main risk is", "The main risk is the"},
		Final:      "The main risk is the vendor integration timeline.",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thanks"},
		Final:      "Thanks everyone, talk soon.",
		Confidence: 0.98,
	},
}

// Options tunes the simulation.
type Options struct {
	Utterances []SimulatedUtterance
	// Latency is waited before each callback to mimic provider delay.
	Latency time.Duration
	// Start is the index of the first simulated utterance, modulo the
	// number of utterances.
	Start int
}

// Adapter implements stt.Adapter with simulated responses.
type Adapter struct {
	opts Options

	mu            sync.Mutex
	deliverer     *stt.Deliverer
	audioReceived int // Count of audio frames received
	current       int // Index of the utterance being simulated
	partialIndex  int // Next partial to send
	inUtterance   bool
	closed        bool
}

// New creates a mock STT adapter.
func New(opts Options) *Adapter {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	idx := opts.Start % len(opts.Utterances)
	if idx < 0 {
		idx += len(opts.Utterances)
	}
	return &Adapter{opts: opts, current: idx}
}

// NewFactory returns an stt.Factory producing mock adapters. Each adapter
// starts one utterance after the previous one so concurrent sessions differ.
func NewFactory(opts Options) stt.Factory {
	var next atomic.Int64
	base := opts.Start
	return func(context.Context) (stt.Adapter, error) {
		o := opts
		o.Start = base + int(next.Add(1)-1)
		return New(o), nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deliverer == nil && !a.closed {
		a.deliverer = stt.NewDeliverer(cb, a.opts.Latency)
	}
	return nil
}

// SendAudio advances the simulation by one step per frame.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	if a.deliverer == nil {
		return stt.ErrNotStarted
	}

	a.audioReceived++
	utt := a.opts.Utterances[a.current]

	if a.partialIndex < len(utt.Partials) {
		a.inUtterance = true
		a.deliverer.Fragment(models.Fragment{Text: utt.Partials[a.partialIndex]})
		a.partialIndex++
		return nil
	}

	// All partials sent: end of utterance, as silence detection would.
	a.emitFinal(utt)
	return nil
}

func (a *Adapter) emitFinal(utt SimulatedUtterance) {
	a.deliverer.Fragment(models.Fragment{
		Text:       utt.Final,
		IsFinal:    true,
		Confidence: utt.Confidence,
	})
	a.current = (a.current + 1) % len(a.opts.Utterances)
	a.partialIndex = 0
	a.inUtterance = false
}

// AudioReceived returns how many frames were sent.
func (a *Adapter) AudioReceived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioReceived
}

// Close ends the mock session. An utterance cut short by the close is
// finalized first, the way a provider flushes on half-close.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if a.deliverer != nil {
			<-a.deliverer.Done()
		}
		return nil
	}
	a.closed = true
	d := a.deliverer
	if d != nil && a.inUtterance {
		a.emitFinal(a.opts.Utterances[a.current])
	}
	a.mu.Unlock()

	if d != nil {
		d.Close()
	}
	return nil
}
