package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-speech-intelligence-service/internal/observability/metrics"
	"ai-speech-intelligence-service/internal/service/batch"
	"ai-speech-intelligence-service/internal/service/dispatch"
	"ai-speech-intelligence-service/internal/service/stt"
	"ai-speech-intelligence-service/internal/service/stt/mock"
)

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errors.New("provider unavailable")
}

func newBatchServer(t *testing.T, tr stt.Transcriber, jobs batch.JobStore) *httptest.Server {
	t.Helper()
	a := newApp(t)
	m := metrics.NewMetrics(nil)
	pipeline := dispatch.NewPipeline(nil, nil, nil, nil, dispatch.Config{}, m)
	svc := batch.New(tr, nil, pipeline, jobs, batch.Config{MaxUploadBytes: 1024}, m)
	t.Cleanup(func() { _ = svc.Close() })

	h := NewHandlers(a, newCoordinator(), &fakeIngester{}, svc, Options{})
	srv := httptest.NewServer(NewRouter(a, h))
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, fileName string, audio []byte, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	if metadata != "" {
		require.NoError(t, mw.WriteField("metadata", metadata))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, url, path, fileName string, audio []byte, metadata string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	body, contentType := multipartBody(t, fileName, audio, metadata)
	req, err := http.NewRequest(http.MethodPost, url+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJob(t *testing.T, url, id, tenant string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url+"/v1/batch/jobs/"+id, nil)
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", tenant)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

var uploadHeaders = map[string]string{"X-Tenant-ID": tenantUUID, "X-User-ID": "u1"}

func TestBatchProcess_Success(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), nil)

	resp, out := postUpload(t, srv.URL, "/v1/batch/process", "standup.wav", []byte("RIFFdata"), `{"meeting":"standup"}`, uploadHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, out["raw_transcript"], "SPEAKER_1: Let's review the roadmap")
	require.Contains(t, out["raw_transcript"], "\nSPEAKER_2: Sarah will send")
	require.Equal(t, out["raw_transcript"], out["cleaned_transcript"])
	require.NotEmpty(t, out["interaction_id"])
}

func TestBatchProcess_Validation(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), nil)

	tests := []struct {
		name     string
		fileName string
		audio    []byte
		metadata string
		headers  map[string]string
		status   int
	}{
		{"missing tenant", "a.wav", []byte("x"), "", map[string]string{"X-User-ID": "u1"}, http.StatusBadRequest},
		{"missing file", "", nil, "", uploadHeaders, http.StatusBadRequest},
		{"bad extension", "notes.txt", []byte("x"), "", uploadHeaders, http.StatusBadRequest},
		{"empty file", "a.wav", nil, "", uploadHeaders, http.StatusBadRequest},
		{"bad metadata", "a.wav", []byte("x"), "[1,2]", uploadHeaders, http.StatusBadRequest},
		{"too large", "a.wav", bytes.Repeat([]byte("x"), 2048), "", uploadHeaders, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postUpload(t, srv.URL, "/v1/batch/process", tt.fileName, tt.audio, tt.metadata, tt.headers)
			require.Equal(t, tt.status, resp.StatusCode)
			require.NotEmpty(t, out["detail"])
		})
	}
}

func TestBatchProcess_TranscriptionFailure(t *testing.T) {
	srv := newBatchServer(t, failingTranscriber{}, nil)

	resp, out := postUpload(t, srv.URL, "/v1/batch/process", "a.mp3", []byte("ID3"), "", uploadHeaders)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "transcription failed", out["detail"])
}

func TestBatchProcess_RequiresMultipart(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/batch/process", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)
}

func TestBatchJobs_SubmitAndPoll(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), batch.NewMemoryJobs())

	resp, out := postUpload(t, srv.URL, "/v1/batch/jobs", "call.webm", []byte("webm"), "", uploadHeaders)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "queued", out["status"])
	id, _ := out["job_id"].(string)
	require.NotEmpty(t, id)

	var job map[string]any
	require.Eventually(t, func() bool {
		resp, job = getJob(t, srv.URL, id, tenantUUID)
		return resp.StatusCode == http.StatusOK && job["status"] == "succeeded"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, out["interaction_id"], job["interaction_id"])
	require.Contains(t, job["cleaned_transcript"], "SPEAKER_1:")

	resp, _ = getJob(t, srv.URL, id, "0b7a1c2e-1111-4f7a-9b2a-0c5d7e8f9a10")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchJobs_EmptyTranscriptFails(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{
		Utterances: []mock.SimulatedUtterance{{Final: "  "}},
	}), batch.NewMemoryJobs())

	_, out := postUpload(t, srv.URL, "/v1/batch/jobs", "silence.wav", []byte("RIFF"), "", uploadHeaders)
	id, _ := out["job_id"].(string)

	var job map[string]any
	require.Eventually(t, func() bool {
		_, job = getJob(t, srv.URL, id, tenantUUID)
		return job["status"] == "failed"
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "EMPTY_TRANSCRIPT", job["error_code"])
}

func TestBatchJobs_StatusErrors(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), batch.NewMemoryJobs())

	resp, _ := getJob(t, srv.URL, "not-a-uuid", tenantUUID)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = getJob(t, srv.URL, "0b7a1c2e-2222-4f7a-9b2a-0c5d7e8f9a10", tenantUUID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchJobs_DisabledWithoutStore(t *testing.T) {
	srv := newBatchServer(t, mock.NewTranscriber(mock.Options{}), nil)

	resp, _ := postUpload(t, srv.URL, "/v1/batch/jobs", "a.wav", []byte("RIFF"), "", uploadHeaders)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBatchRoutes_UnmountedWithoutProcessor(t *testing.T) {
	srv, _ := newTestServer(t, &fakeIngester{})

	body, contentType := multipartBody(t, "a.wav", []byte("RIFF"), "")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/batch/process", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
