package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/app"
)

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int64  `json:"active_sessions"`
	Uptime         string `json:"uptime,omitempty"`
}

// NewRouter mounts the health endpoints and the v1 API.
func NewRouter(application *app.Application, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, healthResponse{Status: "alive", ActiveSessions: application.ActiveSessions()})
		})
		r.Get("/readiness", func(w http.ResponseWriter, _ *http.Request) {
			if !application.Ready() {
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "draining", ActiveSessions: application.ActiveSessions()})
				return
			}
			writeJSON(w, http.StatusOK, healthResponse{
				Status:         "ready",
				ActiveSessions: application.ActiveSessions(),
				Uptime:         time.Since(application.StartupTime).Truncate(time.Second).String(),
			})
		})

		r.Get("/listen", h.Listen)
		r.With(middleware.AllowContentType("application/json")).
			Post("/text/clean", h.CleanText)

		if h.batch != nil {
			r.Route("/batch", func(r chi.Router) {
				r.With(middleware.AllowContentType("multipart/form-data")).
					Post("/process", h.ProcessBatch)
				r.With(middleware.AllowContentType("multipart/form-data")).
					Post("/jobs", h.SubmitBatchJob)
				r.Get("/jobs/{jobID}", h.BatchJobStatus)
			})
		}
	})

	return r
}

// requestLogger logs every request except health checks. WebSocket requests are
// logged when the session ends.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		switch r.URL.Path {
		case "/v1/liveness", "/v1/readiness":
			return
		}
		log.Info().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
