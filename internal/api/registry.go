package api

import (
	"net/http"
	"sort"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/registry"
)

type RegistryListResponse struct {
	Sessions []*registry.Record `json:"sessions"`
	Count    int                `json:"count"`
}

// handleRegistrySessions - GET /api/v1/registry/sessions[?instance=name]
func (h *Handlers) handleRegistrySessions(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("registry"))
		return
	}

	records, err := h.registry.List(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("registry").WithCause(err))
		return
	}

	if instance := r.URL.Query().Get("instance"); instance != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Instance == instance {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []*registry.Record{}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	writeJSON(r.Context(), w, http.StatusOK, RegistryListResponse{Sessions: records, Count: len(records)})
}
