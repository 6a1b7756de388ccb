// Package source turns an opaque source string into a verified frame capture
// by walking an ordered list of resolution strategies.
package source

import (
	"context"
	"errors"
	"image"
)

// Via names the strategy that produced a capture.
type Via string

const (
	ViaFile             Via = "file"
	ViaDirect           Via = "direct"
	ViaPlatformResolved Via = "platform-resolved"
	ViaFallbackResolver Via = "fallback-resolver"
)

var (
	// ErrSourceUnresolvable is returned when no strategy produced a capture.
	ErrSourceUnresolvable = errors.New("source: no source could be opened")

	// ErrNotApplicable tells the resolver to skip a strategy.
	ErrNotApplicable = errors.New("source: strategy not applicable")

	ErrCaptureClosed = errors.New("source: capture closed")
)

// Frame is one decoded picture. Encoded holds the JPEG it was decoded from
// when the capture produced one.
type Frame struct {
	Image   image.Image
	Encoded []byte
}

// Capture yields frames from an opened source. Read returns io.EOF when the
// source is exhausted. A Capture is used by one goroutine.
type Capture interface {
	Read(ctx context.Context) (Frame, error)
	FPS() float64
	Close() error
}

// Target is what a strategy hands to the opener.
type Target struct {
	Input string
	// Realtime paces reading at the native frame rate
	Realtime bool
}

// Opener starts a capture for a target.
type Opener interface {
	Open(ctx context.Context, target Target) (Capture, error)
}

// Strategy maps a source string to an openable target. It returns
// ErrNotApplicable when the source is not its kind.
type Strategy interface {
	Via() Via
	Target(ctx context.Context, source string) (Target, error)
}
