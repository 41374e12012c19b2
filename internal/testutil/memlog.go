// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"ai-speech-intelligence-service/internal/models"
)

type memEntry struct {
	values    []string
	expiresAt time.Time
}

// MemoryLog is a thread-safe in-memory ordered log with TTL bookkeeping and
// error injection. Expired keys behave as missing.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	Now func() time.Time

	AppendErr error
	ReadErr   error
	DeleteErr error

	AppendCalls int
	ReadCalls   int
	DeleteCalls int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		entries: make(map[string]*memEntry),
		Now:     time.Now,
	}
}

func (m *MemoryLog) Append(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendErr != nil {
		return m.AppendErr
	}
	e := m.live(key)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.values = append(e.values, value)
	e.expiresAt = m.Now().Add(ttl)
	return nil
}

func (m *MemoryLog) ReadAll(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	e := m.live(key)
	if e == nil {
		return []string{}, nil
	}
	return append([]string(nil), e.values...), nil
}

func (m *MemoryLog) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.entries, key)
	return nil
}

// Len returns the number of values stored under key.
func (m *MemoryLog) Len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		return len(e.values)
	}
	return 0
}

// TTL returns the remaining time to live of key, or -1 when key is missing.
func (m *MemoryLog) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return -1
	}
	return e.expiresAt.Sub(m.Now())
}

// Keys returns every live key.
func (m *MemoryLog) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if m.live(k) != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *MemoryLog) live(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// RecordingBroadcaster captures broadcast fragments.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	Events []models.TranscriptFragment
	Err    error
}

func (b *RecordingBroadcaster) BroadcastFragment(_ context.Context, ev models.TranscriptFragment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, ev)
	return b.Err
}

// Texts returns the text of every captured fragment.
func (b *RecordingBroadcaster) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Events))
	for i, ev := range b.Events {
		out[i] = ev.Text
	}
	return out
}
