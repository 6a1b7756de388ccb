// Package detect binds detection models served by an inference service.
package detect

import (
	"context"
	"errors"
	"image"

	"github.com/zsiec/vehiclecount/internal/vision"
)

var (
	// ErrModelUnavailable means the model file is unknown or could not be
	// loaded by the inference service.
	ErrModelUnavailable = errors.New("detect: model unavailable")
	ErrClosed           = errors.New("detect: detector closed")
)

// Options tune a single detection call.
type Options struct {
	Confidence float64
	ImageSize  int
}

// Detector runs one bound model. A Detector is owned by a single session
// run and is not shared.
type Detector interface {
	Detect(ctx context.Context, img image.Image, opts Options) ([]vision.Detection, error)
	ClassNames() map[int]string
	Close() error
}

// EncodedDetector is a Detector that can take a frame's existing JPEG
// encoding instead of encoding the image again.
type EncodedDetector interface {
	Detector
	DetectEncoded(ctx context.Context, img image.Image, jpeg []byte, opts Options) ([]vision.Detection, error)
}

// DetectFrame runs det on img. When encoded is non-empty and det accepts
// encoded frames, the bytes are handed over unchanged.
func DetectFrame(ctx context.Context, det Detector, img image.Image, encoded []byte, opts Options) ([]vision.Detection, error) {
	if ed, ok := det.(EncodedDetector); ok && len(encoded) > 0 {
		return ed.DetectEncoded(ctx, img, encoded, opts)
	}
	return det.Detect(ctx, img, opts)
}

// Loader binds a model file to a Detector.
type Loader interface {
	Load(ctx context.Context, modelFile string) (Detector, error)
}
