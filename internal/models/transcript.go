// Package models defines the data structures for transcript events.
package models

// Fragment is one hypothesis delivered by the upstream transcription stream.
// Only final fragments are durably stored; interim ones are live-only.
type Fragment struct {
	Text       string         `json:"text"`
	IsFinal    bool           `json:"isFinal"`
	Confidence float64        `json:"confidence,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// TranscriptFragment is the live broadcast event for a finalized fragment.
type TranscriptFragment struct {
	EventType string         `json:"eventType"`
	SessionID string         `json:"sessionId"`
	TenantID  string         `json:"tenantId"`
	Timestamp int64          `json:"timestamp"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionResult is the single message pushed to a live client when its
// session closes.
type SessionResult struct {
	Type              string   `json:"type"`
	SessionID         string   `json:"session_id"`
	InteractionID     string   `json:"interaction_id"`
	RawTranscript     string   `json:"raw_transcript"`
	CleanedTranscript string   `json:"cleaned_transcript,omitempty"`
	Summary           string   `json:"summary,omitempty"`
	ActionItems       []string `json:"action_items,omitempty"`
}

// Event types used on the bus and on the live channel.
const (
	EventTranscriptFragment  = "transcript.fragment"
	EventTranscriptCompleted = "transcript_completed"
	EventSessionCompleted    = "session.completed"
)
