package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/session"
)

// StartRequest is the body of POST /streams/start. Zero values take the
// configured defaults.
type StartRequest struct {
	Slot       int     `json:"sid"`
	ModelFile  string  `json:"model_file"`
	Source     string  `json:"source"`
	Confidence float64 `json:"conf"`
	ImageSize  int     `json:"imgsz"`
	Interval   int     `json:"interval"`
}

type StopRequest struct {
	Slot int `json:"sid"`
}

type StreamListResponse struct {
	Streams []session.Stats `json:"streams"`
	Count   int             `json:"count"`
	Time    time.Time       `json:"time"`
}

// params validates req and fills in defaults.
func (h *Handlers) params(req StartRequest) (session.Params, error) {
	p := session.Params{
		ModelFile:  strings.TrimSpace(req.ModelFile),
		Source:     strings.TrimSpace(req.Source),
		Confidence: req.Confidence,
		ImageSize:  req.ImageSize,
		Interval:   req.Interval,
	}

	if p.Source == "" {
		return p, apperrors.NewValidationError("source is required")
	}
	if p.Confidence <= 0 {
		p.Confidence = h.opts.DefaultConfidence
	}
	if p.Confidence > 1 {
		return p, apperrors.NewValidationError("conf must be in (0, 1]")
	}
	if p.ImageSize <= 0 {
		p.ImageSize = h.opts.DefaultImageSize
	}
	if p.Interval <= 0 {
		p.Interval = h.opts.DefaultInterval
	}
	if h.uploads != nil && h.uploads.IsUpload(p.Source) {
		p.Transient = true
	}
	return p, nil
}

// handleStart - POST /api/v1/streams/start
func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if req.Slot < 1 || req.Slot > h.sessions.MaxSessions() {
		h.errors.HandleError(w, r, sessionError(session.ErrInvalidSlot))
		return
	}

	p, err := h.params(req)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if err := h.sessions.Start(req.Slot, p); err != nil {
		h.errors.HandleError(w, r, sessionError(err))
		return
	}

	logger.FromContext(r.Context()).WithFields(logger.Fields{
		"slot":  req.Slot,
		"model": p.ModelFile,
	}).Info("Stream start requested")

	writeJSON(r.Context(), w, http.StatusOK, OKResponse{OK: true})
}

// handleStop - POST /api/v1/streams/stop
func (h *Handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	// A client hanging up must not cut the bounded wait short.
	if err := h.sessions.Stop(context.WithoutCancel(r.Context()), req.Slot); err != nil {
		h.errors.HandleError(w, r, sessionError(err))
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, OKResponse{OK: true})
}

// handleStats - GET /api/v1/streams/stats?sid=N
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	slot, err := slotQuery(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	st, err := h.sessions.Stats(slot)
	if err != nil {
		h.errors.HandleError(w, r, sessionError(err))
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, st)
}

// handleListStreams - GET /api/v1/streams
func (h *Handlers) handleListStreams(w http.ResponseWriter, r *http.Request) {
	all := h.sessions.AllStats()
	writeJSON(r.Context(), w, http.StatusOK, StreamListResponse{
		Streams: all,
		Count:   len(all),
		Time:    time.Now(),
	})
}
