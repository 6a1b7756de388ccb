package api

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/upload"
)

// multipartOverhead covers headers and boundaries around the file part.
const multipartOverhead = 1 << 20

type UploadResponse struct {
	Path string `json:"path"`
}

// handleUpload - POST /api/v1/uploads
//
// Streams the multipart "file" part straight to the upload directory.
func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("upload"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError("no file").WithCause(err))
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.errors.HandleError(w, r, uploadError(err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := part.FileName()
		if name == "" {
			part.Close()
			h.errors.HandleError(w, r, apperrors.NewValidationError("empty filename"))
			return
		}

		path, err := h.uploads.Save(name, part)
		part.Close()
		if err != nil {
			h.errors.HandleError(w, r, uploadError(err))
			return
		}

		logger.FromContext(r.Context()).WithField("path", path).Info("Upload stored")
		writeJSON(r.Context(), w, http.StatusOK, UploadResponse{Path: path})
		return
	}

	h.errors.HandleError(w, r, apperrors.NewValidationError("no file"))
}

func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, upload.ErrTooLarge), errors.As(err, &maxErr):
		return apperrors.NewTooLargeError("file too large").WithCause(err)
	case errors.Is(err, upload.ErrEmptyName):
		return apperrors.NewValidationError("empty filename").WithCause(err)
	}
	return apperrors.WrapInternalError(err, "Failed to store upload")
}
