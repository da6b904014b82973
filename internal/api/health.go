package api

import (
	"net/http"
	"time"

	"github.com/longj724/local-ai-transcription/internal/transcribe"
)

// ReadinessSource exposes the engine readiness flag and identity.
type ReadinessSource interface {
	Ready() bool
	Model() string
	Language() string
}

// PipelineStats exposes orchestrator lifetime counters.
type PipelineStats interface {
	Stats() transcribe.Stats
}

// WatcherStatus reports the drop-folder watcher state, or "" when disabled.
type WatcherStatus interface {
	Status() string
}

type HealthResponse struct {
	Status        string           `json:"status"`
	Ready         bool             `json:"ready"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Model         string           `json:"model"`
	Language      string           `json:"language"`
	Watcher       string           `json:"watcher,omitempty"`
	Transcription transcribe.Stats `json:"transcription"`
}

type HealthHandler struct {
	engine    ReadinessSource
	pipeline  PipelineStats
	watcher   WatcherStatus
	version   string
	startTime time.Time
}

func NewHealthHandler(engine ReadinessSource, pipeline PipelineStats, watcher WatcherStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		pipeline:  pipeline,
		watcher:   watcher,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP answers the readiness check. It never fails: readiness is a field
// in the body, not an HTTP status. A polling caller may observe ready=false
// for an arbitrary time after startup until installation completes.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ready := h.engine.Ready()
	status := "ready"
	if !ready {
		status = "not_ready"
	}

	resp := HealthResponse{
		Status:        status,
		Ready:         ready,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Model:         h.engine.Model(),
		Language:      h.engine.Language(),
		Transcription: h.pipeline.Stats(),
	}
	if h.watcher != nil {
		resp.Watcher = h.watcher.Status()
	}

	WriteJSON(w, http.StatusOK, resp)
}
