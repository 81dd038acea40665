// Package api exposes the pipeline's control surface over HTTP: status,
// recording start/stop, the finished-segment catalog, and Prometheus
// metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carmelog/videoapi/pipeline"
)

// Handler serves the control endpoints for one pipeline.
type Handler struct {
	p       *pipeline.Pipeline
	log     *slog.Logger
	metrics http.Handler
}

// NewHandler wires the control surface to a pipeline. metricsHandler may
// be nil to disable the /metrics endpoint (e.g. in tests).
func NewHandler(p *pipeline.Pipeline, metricsHandler http.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		p:       p,
		log:     log.With("component", "api"),
		metrics: metricsHandler,
	}
}

// Router builds the chi router for the control surface.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/status", h.Status)
	r.Get("/api/recordings", h.Recordings)
	r.Route("/api/recording", func(r chi.Router) {
		r.Post("/start", h.StartRecording)
		r.Post("/stop", h.StopRecording)
	})
	if h.metrics != nil {
		r.Get("/metrics", h.metrics.ServeHTTP)
	}
	return r
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.p.Snapshot())
}

// StartRecording handles POST /api/recording/start. Starting while a
// session is already open is a no-op conflict.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	if h.p.IsRecording() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already recording"})
		return
	}
	h.p.Start()
	h.log.Info("recording start requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"recording": true})
}

// StopRecording handles POST /api/recording/stop.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if !h.p.IsRecording() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not recording"})
		return
	}
	h.p.Stop()
	h.log.Info("recording stop requested")
	writeJSON(w, http.StatusAccepted, map[string]bool{"recording": false})
}

// Recordings handles GET /api/recordings, listing finished segments.
func (h *Handler) Recordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.p.Catalog().List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}
