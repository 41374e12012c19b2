package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/service/dispatch"
)

type textCleanRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Source   string         `json:"source"`
}

type textCleanResponse struct {
	RawText       string `json:"raw_text"`
	CleanedText   string `json:"cleaned_text"`
	InteractionID string `json:"interaction_id"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// CleanText handles POST /v1/text/clean.
func (h *Handlers) CleanText(w http.ResponseWriter, r *http.Request) {
	c, ok := identify(w, r)
	if !ok {
		return
	}

	var body textCleanRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxTextBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return
	}

	res, err := h.text.IngestText(r.Context(), dispatch.TextRequest{
		Text:      body.Text,
		Metadata:  body.Metadata,
		Source:    body.Source,
		TenantID:  c.TenantID,
		UserID:    c.UserID,
		AccountID: c.AccountID,
		TraceID:   c.TraceID,
	})
	if errors.Is(err, dispatch.ErrEmptyText) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "text field cannot contain only whitespace"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("tenantId", c.TenantID).Msg("Text ingestion failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, textCleanResponse{
		RawText:       res.RawText,
		CleanedText:   res.CleanedText,
		InteractionID: res.InteractionID,
	})
}

// caller identifies who submitted an API request.
type caller struct {
	TenantID  string
	UserID    string
	AccountID string
	TraceID   string
}

// identify validates the caller headers, writing a 400 when they are
// missing or malformed.
func identify(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c := caller{
		TenantID:  strings.TrimSpace(r.Header.Get("X-Tenant-ID")),
		UserID:    strings.TrimSpace(r.Header.Get("X-User-ID")),
		AccountID: strings.TrimSpace(r.Header.Get("X-Account-ID")),
		TraceID:   r.Header.Get("X-Trace-Id"),
	}
	detail := ""
	switch {
	case c.TenantID == "":
		detail = "X-Tenant-ID header is required"
	case uuid.Validate(c.TenantID) != nil:
		detail = "X-Tenant-ID must be a valid UUID"
	case c.UserID == "":
		detail = "X-User-ID header is required"
	case c.AccountID != "" && uuid.Validate(c.AccountID) != nil:
		detail = "X-Account-ID must be a valid UUID"
	}
	if detail != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: detail})
		return caller{}, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
