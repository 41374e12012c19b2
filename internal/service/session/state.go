// Package session owns a live transcription session from connection accept
// to connection close.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateOpening - Session id assigned, upstream stream being opened.
	StateOpening State = iota
	// StateStreaming - Audio is relayed upstream, fragments are published.
	StateStreaming
	// StateFinalizing - Upstream closed, transcript being reconstructed.
	StateFinalizing
	// StateDispatching - Transcript handed to downstream consumers.
	StateDispatching
	// StateClosed - Terminal. All resources released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateDispatching:
		return "DISPATCHING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrAlreadyFinalized  = errors.New("session already finalized")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPENING → STREAMING → FINALIZING → DISPATCHING → CLOSED
//	   │                      ▲   │                    ▲
//	   └──────────────────────┘   └────────────────────┘
//
// Rules:
//   - FINALIZING is entered exactly once, from OPENING (upstream failed to
//     open) or STREAMING (stop, disconnect, error, limit).
//   - DISPATCHING is skipped when there is nothing to dispatch.
//   - Close is valid from any state and idempotent.
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	reason    string
}

// NewLifecycle creates a new session lifecycle in OPENING state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateOpening,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reason returns why streaming ended, or "" while still streaming.
func (l *Lifecycle) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// IsStreaming returns true while audio may be relayed upstream.
func (l *Lifecycle) IsStreaming() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStreaming
}

// IsClosed returns true once the session reached CLOSED.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateClosed
}

// BeginStreaming transitions OPENING → STREAMING.
func (l *Lifecycle) BeginStreaming() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpening {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, StateStreaming)
	}
	l.state = StateStreaming
	return nil
}

// Finalize transitions to FINALIZING and records reason. It succeeds only
// once per session.
func (l *Lifecycle) Finalize(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateOpening, StateStreaming:
		l.state = StateFinalizing
		l.reason = reason
		return nil
	default:
		return ErrAlreadyFinalized
	}
}

// BeginDispatch transitions FINALIZING → DISPATCHING.
func (l *Lifecycle) BeginDispatch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFinalizing {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, StateDispatching)
	}
	l.state = StateDispatching
	return nil
}

// Close transitions the session to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}
