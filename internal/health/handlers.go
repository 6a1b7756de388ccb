package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/vehiclecount/pkg/version"
)

// Response is the /health body.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// Handler serves the health endpoints.
type Handler struct {
	manager   *Manager
	startTime time.Time
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager:   manager,
		startTime: time.Now(),
	}
}

// HandleHealth runs every checker. Degraded still answers 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overall := h.manager.GetOverallStatus()

	h.writeJSON(w, statusCode(overall), Response{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    formatUptime(time.Since(h.startTime)),
		Checks:    checks,
	})
}

// HandleReady answers from the last recorded results without probing.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallStatus()

	h.writeJSON(w, statusCode(overall), struct {
		Status    Status    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    overall,
		Timestamp: time.Now(),
	})
}

func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "alive",
		Timestamp: time.Now(),
	})
}

func statusCode(s Status) int {
	if s == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// formatUptime renders whole seconds, e.g. "26h3m0s".
func formatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
