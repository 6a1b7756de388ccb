package server

import (
	"encoding/json"
	"net/http"

	"github.com/zsiec/vehiclecount/pkg/version"
)

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.GetInfo()

	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, versionInfo); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// handleRoot reports where the API lives.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Message string `json:"message"`
		API     string `json:"api"`
	}{
		Message: "vehiclecount running",
		API:     "/api/v1",
	}

	if err := s.writeJSON(w, http.StatusOK, response); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
