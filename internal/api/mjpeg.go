package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/relay"
)

const mjpegBoundary = "frame"

// handleMJPEG - GET /api/v1/streams/mjpeg?sid=N
//
// Streams annotated frames until the session stops or the client leaves.
// Gaps in the relay are tolerated.
func (h *Handlers) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	slot, err := slotQuery(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	active, err := h.sessions.IsActive(slot)
	if err != nil {
		h.errors.HandleError(w, r, sessionError(err))
		return
	}
	if !active {
		h.errors.HandleError(w, r, apperrors.NewNotFoundError("active session").WithCode(apperrors.CodeSessionInactive))
		return
	}

	frames, err := h.sessions.Frames(slot)
	if err != nil {
		h.errors.HandleError(w, r, sessionError(err))
		return
	}

	if !h.viewers.TryAcquire(slot) {
		metrics.RecordRateLimited("viewers")
		h.errors.HandleError(w, r, apperrors.NewRateLimitError("Too many viewers").WithCode(apperrors.CodeViewerLimit))
		return
	}
	defer h.viewers.Release(slot)

	metrics.IncMJPEGViewers(slot)
	defer metrics.DecMJPEGViewers(slot)

	log := logger.FromContext(r.Context()).WithField("slot", slot)
	log.Info("MJPEG viewer connected")
	defer log.Info("MJPEG viewer disconnected")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	ctx := r.Context()
	for {
		frame, err := frames.Pull(ctx, h.opts.FramePoll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, relay.ErrEmpty) {
				if active, _ := h.sessions.IsActive(slot); !active {
					return
				}
			}
			continue
		}

		// Extends past the server write timeout for as long as frames flow.
		_ = rc.SetWriteDeadline(time.Now().Add(h.opts.FrameWriteTimeout))
		if err := writeMJPEGPart(w, frame); err != nil {
			log.WithError(err).Debug("MJPEG write failed")
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpg)); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
