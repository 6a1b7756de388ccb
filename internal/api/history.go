package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/history"
)

type HistoryListResponse struct {
	Sessions []history.Record `json:"sessions"`
}

type HistoryCreateResponse struct {
	Message string         `json:"message"`
	Session history.Record `json:"session"`
}

type HistoryDeleteResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// handleListHistory - GET /api/v1/sessions
func (h *Handlers) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("history"))
		return
	}

	records, err := h.history.List(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to list sessions"))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, HistoryListResponse{Sessions: records})
}

// handleCreateHistory - POST /api/v1/sessions
func (h *Handlers) handleCreateHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("history"))
		return
	}

	var e history.Entry
	if err := decodeJSON(r, &e); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	e.Model = strings.TrimSpace(e.Model)
	e.Source = strings.TrimSpace(e.Source)
	if e.Model == "" || e.Source == "" {
		h.errors.HandleError(w, r, apperrors.NewValidationError("model and source are required"))
		return
	}

	rec, err := h.history.Create(r.Context(), e)
	if err != nil {
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to save session"))
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, HistoryCreateResponse{Message: "saved", Session: rec})
}

// handleDeleteHistory - DELETE /api/v1/sessions/{id}
func (h *Handlers) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("history"))
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError("invalid session id").WithCause(err))
		return
	}

	if err := h.history.Delete(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			h.errors.HandleError(w, r, apperrors.NewNotFoundError("session").WithCause(err))
			return
		}
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to delete session"))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, HistoryDeleteResponse{Message: "deleted", ID: id})
}
