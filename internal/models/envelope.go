package models

import (
	"encoding/json"
	"time"
)

// SchemaVersionV1 is the only envelope version produced by the service.
const SchemaVersionV1 = "v1"

// Interaction types.
const (
	InteractionTranscript = "transcript"
	InteractionNote       = "note"
)

// Content sources.
const (
	SourceWebMic = "web-mic"
	SourceAPI    = "api"
	SourceUpload = "upload"
)

// Content formats.
const (
	FormatPlain    = "plain"
	FormatDiarized = "diarized"
)

// Content is the text payload of an envelope.
type Content struct {
	Text   string `json:"text" validate:"required"`
	Format string `json:"format" validate:"oneof=plain markdown diarized"`
}

// EnvelopeV1 is the standard event published for every completed interaction.
type EnvelopeV1 struct {
	SchemaVersion   string         `json:"schema_version" validate:"eq=v1"`
	TenantID        string         `json:"tenant_id" validate:"required"`
	UserID          string         `json:"user_id" validate:"required"`
	InteractionType string         `json:"interaction_type" validate:"oneof=transcript note document"`
	Content         Content        `json:"content"`
	Timestamp       time.Time      `json:"-" validate:"required"`
	Source          string         `json:"source" validate:"required"`
	Extras          map[string]any `json:"extras"`
	InteractionID   string         `json:"interaction_id,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
}

// MarshalJSON renders the timestamp as RFC3339 in UTC with a Z suffix.
func (e EnvelopeV1) MarshalJSON() ([]byte, error) {
	type alias EnvelopeV1
	extras := e.Extras
	if extras == nil {
		extras = map[string]any{}
	}
	a := alias(e)
	a.Extras = extras
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     a,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.999999Z"),
	})
}

// BusPayload wraps an envelope with the routing fields duplicated at the top
// level so consumers can route without parsing the envelope.
type BusPayload struct {
	Envelope      EnvelopeV1 `json:"envelope"`
	TraceID       string     `json:"trace_id,omitempty"`
	TenantID      string     `json:"tenant_id"`
	SchemaVersion string     `json:"schema_version"`
}

// WrapEnvelope builds the bus payload for e.
func WrapEnvelope(e EnvelopeV1) BusPayload {
	return BusPayload{
		Envelope:      e,
		TraceID:       e.TraceID,
		TenantID:      e.TenantID,
		SchemaVersion: e.SchemaVersion,
	}
}
