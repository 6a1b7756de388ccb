// Package api exposes the session manager, uploads, model catalog, history
// and live registry over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	apperrors "github.com/zsiec/vehiclecount/internal/errors"
	"github.com/zsiec/vehiclecount/internal/detect"
	"github.com/zsiec/vehiclecount/internal/history"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/ratelimit"
	"github.com/zsiec/vehiclecount/internal/registry"
	"github.com/zsiec/vehiclecount/internal/relay"
	"github.com/zsiec/vehiclecount/internal/session"
	"github.com/zsiec/vehiclecount/internal/upload"
)

// Sessions is the part of the session manager the API drives.
type Sessions interface {
	MaxSessions() int
	Start(slot int, p session.Params) error
	Stop(ctx context.Context, slot int) error
	Stats(slot int) (session.Stats, error)
	AllStats() []session.Stats
	IsActive(slot int) (bool, error)
	Frames(slot int) (*relay.Relay, error)
	AvailableModels() ([]detect.Model, error)
}

// History is the session history store.
type History interface {
	Create(ctx context.Context, e history.Entry) (history.Record, error)
	List(ctx context.Context) ([]history.Record, error)
	Delete(ctx context.Context, id int64) error
}

// Deps are the collaborators behind the handlers. History and Registry are
// optional; their endpoints answer 503 when unset.
type Deps struct {
	Sessions Sessions
	History  History
	Uploads  *upload.Store
	Registry registry.Registry
	Viewers  *ratelimit.ViewerLimiter
	Errors   *apperrors.ErrorHandler
	Logger   *logrus.Logger
}

// Options tune request handling.
type Options struct {
	// Start parameters used when a request leaves them unset
	DefaultConfidence float64
	DefaultImageSize  int
	DefaultInterval   int

	// FeedInterval is the websocket stats push period
	FeedInterval time.Duration
	// FramePoll bounds one relay pull in the MJPEG loop
	FramePoll time.Duration
	// FrameWriteTimeout is the write deadline for each MJPEG part
	FrameWriteTimeout time.Duration
	AllowedOrigins    []string
}

func (o Options) withDefaults() Options {
	if o.DefaultConfidence <= 0 {
		o.DefaultConfidence = 0.3
	}
	if o.DefaultImageSize <= 0 {
		o.DefaultImageSize = 640
	}
	if o.DefaultInterval <= 0 {
		o.DefaultInterval = 1
	}
	if o.FeedInterval <= 0 {
		o.FeedInterval = time.Second
	}
	if o.FramePoll <= 0 {
		o.FramePoll = 500 * time.Millisecond
	}
	if o.FrameWriteTimeout <= 0 {
		o.FrameWriteTimeout = 10 * time.Second
	}
	return o
}

// Handlers serves the /api/v1 routes.
type Handlers struct {
	sessions Sessions
	history  History
	uploads  *upload.Store
	registry registry.Registry
	viewers  *ratelimit.ViewerLimiter
	errors   *apperrors.ErrorHandler
	feed     *Feed
	logger   logger.Logger
	opts     Options
}

func NewHandlers(deps Deps, opts Options) *Handlers {
	opts = opts.withDefaults()

	log := deps.Logger
	if log == nil {
		log = logrus.New()
	}
	errs := deps.Errors
	if errs == nil {
		errs = apperrors.NewErrorHandler(log)
	}
	viewers := deps.Viewers
	if viewers == nil {
		viewers = ratelimit.NewViewerLimiter(0, 0)
	}

	h := &Handlers{
		sessions: deps.Sessions,
		history:  deps.History,
		uploads:  deps.Uploads,
		registry: deps.Registry,
		viewers:  viewers,
		errors:   errs,
		logger:   logger.ForComponent(log, "api"),
		opts:     opts,
	}
	h.feed = NewFeed(deps.Sessions.AllStats, opts.FeedInterval, opts.AllowedOrigins, h.logger)
	return h
}

// Feed returns the websocket stats broadcaster.
func (h *Handlers) Feed() *Feed {
	return h.feed
}

// RegisterRoutes registers all API routes on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Stream control
	api.HandleFunc("/streams", h.handleListStreams).Methods("GET")
	api.HandleFunc("/streams/start", h.handleStart).Methods("POST")
	api.HandleFunc("/streams/stop", h.handleStop).Methods("POST")
	api.HandleFunc("/streams/stats", h.handleStats).Methods("GET")
	api.HandleFunc("/streams/mjpeg", h.handleMJPEG).Methods("GET")
	api.Handle("/streams/feed", h.feed).Methods("GET")

	// Uploads
	api.HandleFunc("/uploads", h.handleUpload).Methods("POST")
	api.HandleFunc("/streams/upload", h.handleUpload).Methods("POST")

	// Model catalog
	api.HandleFunc("/models", h.handleModels).Methods("GET")
	api.HandleFunc("/get-model-list", h.handleModelList).Methods("GET")

	// History
	api.HandleFunc("/sessions", h.handleListHistory).Methods("GET")
	api.HandleFunc("/sessions", h.handleCreateHistory).Methods("POST")
	api.HandleFunc("/sessions/{id:[0-9]+}", h.handleDeleteHistory).Methods("DELETE")

	// Cluster view
	api.HandleFunc("/registry/sessions", h.handleRegistrySessions).Methods("GET")

	h.logger.Info("API routes registered")
}

// OKResponse acknowledges a control request.
type OKResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to encode JSON response")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}

// slotQuery reads the sid query parameter. A missing sid is slot 0, which
// no session owns.
func slotQuery(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("sid")
	if raw == "" {
		return 0, nil
	}
	slot, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("sid must be an integer").WithCause(err)
	}
	return slot, nil
}

// sessionError translates session sentinels into AppErrors.
func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidSlot):
		return apperrors.NewNotFoundError("session").WithCode(apperrors.CodeInvalidSlot).WithCause(err)
	case errors.Is(err, session.ErrAlreadyRunning):
		return apperrors.NewConflictError("Session is already running").WithCode(apperrors.CodeAlreadyRunning).WithCause(err)
	case errors.Is(err, session.ErrModelUnavailable):
		return apperrors.NewValidationError("Model is not available").WithCode(apperrors.CodeModelUnavailable).WithCause(err)
	}
	return err
}
