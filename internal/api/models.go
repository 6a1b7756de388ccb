package api

import (
	"net/http"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
)

type ModelListResponse struct {
	Models []string `json:"models"`
}

// handleModels - GET /api/v1/models
func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.sessions.AvailableModels()
	if err != nil {
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to list models"))
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, models)
}

// handleModelList - GET /api/v1/get-model-list returns file names only.
func (h *Handlers) handleModelList(w http.ResponseWriter, r *http.Request) {
	models, err := h.sessions.AvailableModels()
	if err != nil {
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "Failed to list models"))
		return
	}

	files := make([]string, 0, len(models))
	for _, m := range models {
		files = append(files, m.File)
	}
	writeJSON(r.Context(), w, http.StatusOK, ModelListResponse{Models: files})
}
