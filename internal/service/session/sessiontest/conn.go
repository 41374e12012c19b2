// Package sessiontest provides an in-memory client connection for driving
// a session.Coordinator in tests.
package sessiontest

import (
	"errors"
	"io"
	"sync"

	"ai-speech-intelligence-service/internal/service/session"
)

// ErrConnClosed is returned by FakeConn after Close.
var ErrConnClosed = errors.New("fake conn: closed")

// FakeConn is an in-memory session.Conn driven by the test.
type FakeConn struct {
	in         chan session.Message
	closed     chan struct{}
	closeOnce  sync.Once
	hangupOnce sync.Once

	mu       sync.Mutex
	texts    []string
	json     []any
	WriteErr error
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		in:     make(chan session.Message, 64),
		closed: make(chan struct{}),
	}
}

// Audio queues an audio frame.
func (c *FakeConn) Audio(data string) {
	c.in <- session.Message{Kind: session.MessageAudio, Data: []byte(data)}
}

// Stop queues the stop signal.
func (c *FakeConn) Stop() {
	c.in <- session.Message{Kind: session.MessageStop}
}

// Hangup simulates the client disconnecting after the queued messages.
func (c *FakeConn) Hangup() {
	c.hangupOnce.Do(func() { close(c.in) })
}

func (c *FakeConn) ReadMessage() (session.Message, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return session.Message{}, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return session.Message{}, ErrConnClosed
	}
}

func (c *FakeConn) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *FakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.json = append(c.json, v)
	return nil
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Texts returns the text frames written so far.
func (c *FakeConn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

// JSON returns the JSON messages written so far.
func (c *FakeConn) JSON() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.json...)
}

// IsClosed reports whether Close was called.
func (c *FakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
