package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oicur0t/sensorlog/internal/dashboard"
	"github.com/oicur0t/sensorlog/internal/gate"
	"github.com/oicur0t/sensorlog/internal/sensor"
	"go.uber.org/zap"
)

// logsPath prefixes the per-log endpoint
const logsPath = "/v1/logs/"

// maxWait caps the ?wait= parameter of the series endpoint
const maxWait = 30 * time.Second

// StatsFunc reports router counters for the overview endpoint
type StatsFunc func() sensor.Stats

// Handler serves the dashboard snapshot over HTTP
type Handler struct {
	dashboard *dashboard.Dashboard
	stats     StatsFunc
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. stats may be nil.
func NewHandler(d *dashboard.Dashboard, stats StatsFunc, logger *zap.Logger) *Handler {
	return &Handler{
		dashboard: d,
		stats:     stats,
		logger:    logger,
	}
}

// Routes registers every endpoint on a new mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, h.Health)
	mux.HandleFunc("/v1/logs", h.ListLogs)
	mux.HandleFunc(logsPath, h.GetLog)
	mux.HandleFunc("/v1/refresh", h.Refresh)
	return mux
}

type overview struct {
	RefreshedAt *time.Time          `json:"refreshed_at,omitempty"`
	Logs        []dashboard.Summary `json:"logs"`
	Router      *sensor.Stats       `json:"router,omitempty"`
}

// ListLogs returns the summary of every log
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := overview{Logs: h.dashboard.Summaries()}
	if at := h.dashboard.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	if h.stats != nil {
		stats := h.stats()
		resp.Router = &stats
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetLog returns the full series of one log. With ?wait=<duration> the
// request first waits for the log to receive its first row.
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, logsPath)
	if name == "" || strings.Contains(name, "/") || !h.dashboard.Has(name) {
		http.Error(w, "unknown log", http.StatusNotFound)
		return
	}

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait <= 0 {
			http.Error(w, "wait must be a positive duration", http.StatusBadRequest)
			return
		}
		if wait > maxWait {
			wait = maxWait
		}

		path, _ := h.dashboard.Path(name)
		if err := gate.AwaitNonEmpty(r.Context(), path, gate.Options{Timeout: wait}); err != nil {
			if errors.Is(err, gate.ErrTimeout) {
				http.Error(w, "log has no readings yet", http.StatusRequestTimeout)
				return
			}
			h.logger.Debug("Wait aborted", zap.String("log", name), zap.Error(err))
			return
		}

		if s, ok := h.dashboard.Series(name); !ok || !s.Ready {
			if err := h.dashboard.Refresh(r.Context()); err != nil {
				h.logger.Warn("Refresh after wait failed", zap.String("log", name), zap.Error(err))
			}
		}
	}

	s, ok := h.dashboard.Series(name)
	if !ok {
		http.Error(w, "log has not been loaded yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// Refresh re-reads every log immediately
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()

	if err := h.dashboard.Refresh(ctx); err != nil {
		h.logger.Error("Manual refresh failed", zap.Error(err))
		http.Error(w, "refresh failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "refreshed",
		"refreshed_at": h.dashboard.RefreshedAt(),
	})
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// writeJSON encodes v before any header is sent so an encoding failure can
// still be reported as a 500
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		h.logger.Debug("Failed to write response", zap.Error(err))
	}
}
