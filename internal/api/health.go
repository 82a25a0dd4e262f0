package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/scriptsync/internal/ingest"
	"github.com/snarg/scriptsync/internal/jobs"
)

// HealthChecker pings a dependency. *database.DB implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnState reports a broker connection. *mqttclient.Client implements it.
type ConnState interface {
	IsConnected() bool
}

// QueueReporter reports worker pool state. *jobs.Pool implements it.
type QueueReporter interface {
	Stats() jobs.QueueStats
	HasProvider() bool
}

// WatcherReporter reports inbox watcher state. *ingest.Watcher implements it.
type WatcherReporter interface {
	Status() ingest.WatcherStatus
}

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Storage       string                `json:"storage,omitempty"`
	Queue         *jobs.QueueStats      `json:"queue,omitempty"`
	Inbox         *ingest.WatcherStatus `json:"inbox,omitempty"`
}

// HealthDeps are the optional components reported by the health endpoint.
// Nil fields are reported as not_configured.
type HealthDeps struct {
	DB      HealthChecker
	MQTT    ConnState
	Queue   QueueReporter
	Watcher WatcherReporter
	Storage string
}

type HealthHandler struct {
	deps      HealthDeps
	version   string
	startTime time.Time
}

func NewHealthHandler(deps HealthDeps, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{deps: deps, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Database is the only hard dependency.
	if h.deps.DB == nil {
		checks["database"] = "not_configured"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.DB.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.deps.MQTT != nil {
		if h.deps.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Storage:       h.deps.Storage,
	}

	if h.deps.Queue != nil {
		stats := h.deps.Queue.Stats()
		resp.Queue = &stats
		checks["workers"] = "ok"
		if stats.Workers == 0 {
			checks["workers"] = "none"
			degrade()
		}
		if h.deps.Queue.HasProvider() {
			checks["transcription"] = "ok"
		} else {
			checks["transcription"] = "not_configured"
		}
	}

	if h.deps.Watcher != nil {
		ws := h.deps.Watcher.Status()
		resp.Inbox = &ws
		checks["inbox"] = ws.Status
	} else {
		checks["inbox"] = "not_configured"
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
