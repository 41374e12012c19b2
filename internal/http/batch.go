package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/service/batch"
)

// multipart headers and the metadata field on top of the audio itself.
const uploadOverheadBytes = 1 << 20

type batchProcessResponse struct {
	RawTranscript     string `json:"raw_transcript"`
	CleanedTranscript string `json:"cleaned_transcript"`
	InteractionID     string `json:"interaction_id"`
}

// ProcessBatch handles POST /v1/batch/process: the recording is transcribed,
// cleaned and fanned out before the response is written.
func (h *Handlers) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	res, err := h.batch.Process(r.Context(), up)
	if err != nil {
		writeBatchError(w, err, up)
		return
	}
	writeJSON(w, http.StatusOK, batchProcessResponse{
		RawTranscript:     res.RawTranscript,
		CleanedTranscript: res.CleanedTranscript,
		InteractionID:     res.InteractionID,
	})
}

// SubmitBatchJob handles POST /v1/batch/jobs and answers 202 with the queued
// job.
func (h *Handlers) SubmitBatchJob(w http.ResponseWriter, r *http.Request) {
	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	job, err := h.batch.Submit(r.Context(), up)
	if err != nil {
		writeBatchError(w, err, up)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// BatchJobStatus handles GET /v1/batch/jobs/{jobID}.
func (h *Handlers) BatchJobStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := identify(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "jobID")
	if uuid.Validate(id) != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "job id must be a valid UUID"})
		return
	}
	job, err := h.batch.Job(r.Context(), c.TenantID, id)
	if err != nil {
		writeBatchError(w, err, batch.Upload{TenantID: c.TenantID})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// readUpload parses the multipart "file" field and the optional JSON
// "metadata" field.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (batch.Upload, bool) {
	c, ok := identify(w, r)
	if !ok {
		return batch.Upload{}, false
	}

	limit := h.batch.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadOverheadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "audio file too large"})
			return batch.Upload{}, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid multipart body"})
		return batch.Upload{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "file field is required"})
		return batch.Upload{}, false
	}
	defer file.Close()
	if _, err := batch.MIMEType(hdr.Filename); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "unsupported file type, allowed: wav, mp3, flac, m4a, mp4, webm, ogg"})
		return batch.Upload{}, false
	}
	if hdr.Size > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "audio file too large"})
		return batch.Upload{}, false
	}
	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "could not read file"})
		return batch.Upload{}, false
	}

	var metadata map[string]any
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "metadata must be a JSON object"})
			return batch.Upload{}, false
		}
	}

	return batch.Upload{
		FileName:  hdr.Filename,
		Audio:     audio,
		Metadata:  metadata,
		TenantID:  c.TenantID,
		UserID:    c.UserID,
		AccountID: c.AccountID,
		TraceID:   c.TraceID,
	}, true
}

func writeBatchError(w http.ResponseWriter, err error, up batch.Upload) {
	status, detail := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, batch.ErrUnsupportedFile):
		status, detail = http.StatusBadRequest, "unsupported audio format"
	case errors.Is(err, batch.ErrEmptyAudio):
		status, detail = http.StatusBadRequest, "audio file is empty"
	case errors.Is(err, batch.ErrTooLarge):
		status, detail = http.StatusRequestEntityTooLarge, "audio file too large"
	case errors.Is(err, batch.ErrEmptyTranscript):
		status, detail = http.StatusUnprocessableEntity, "no speech found in audio"
	case errors.Is(err, batch.ErrTranscription):
		detail = "transcription failed"
	case errors.Is(err, batch.ErrJobNotFound):
		status, detail = http.StatusNotFound, "job not found"
	case errors.Is(err, batch.ErrShuttingDown), errors.Is(err, batch.ErrJobsDisabled):
		status, detail = http.StatusServiceUnavailable, "batch jobs are unavailable"
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("tenantId", up.TenantID).Str("fileName", up.FileName).Msg("Batch request failed")
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}
