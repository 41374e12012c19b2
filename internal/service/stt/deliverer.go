package stt

import (
	"sync"
	"time"

	"ai-speech-intelligence-service/internal/models"
)

// Deliverer runs Callbacks on one goroutine in submission order. Submitting
// never blocks the producer.
type Deliverer struct {
	cb      Callbacks
	latency time.Duration

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewDeliverer starts the delivery goroutine. latency, when non-zero, is
// waited before each callback to simulate provider processing time.
func NewDeliverer(cb Callbacks, latency time.Duration) *Deliverer {
	d := &Deliverer{
		cb:      cb,
		latency: latency,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Fragment queues f. It reports false once the deliverer is closed.
func (d *Deliverer) Fragment(f models.Fragment) bool {
	if d.cb.OnFragment == nil {
		return d.push(nil)
	}
	return d.push(func() { d.cb.OnFragment(f) })
}

// Error queues err.
func (d *Deliverer) Error(err error) bool {
	if d.cb.OnError == nil {
		return d.push(nil)
	}
	return d.push(func() { d.cb.OnError(err) })
}

// Close stops accepting work, waits for the queue to drain and for OnClose
// to return. Safe to call more than once.
func (d *Deliverer) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.signal()
	})
	<-d.done
}

// Done is closed after OnClose has returned.
func (d *Deliverer) Done() <-chan struct{} {
	return d.done
}

func (d *Deliverer) push(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if fn != nil {
		d.queue = append(d.queue, fn)
	}
	d.mu.Unlock()
	d.signal()
	return true
}

func (d *Deliverer) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Deliverer) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			if d.latency > 0 {
				time.Sleep(d.latency)
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			if d.cb.OnClose != nil {
				d.cb.OnClose()
			}
			return
		}
		<-d.wake
	}
}
