// Package codec converts between decoded frames and JPEG buffers.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
)

const DefaultQuality = 80

var ErrEmptyFrame = errors.New("codec: empty frame")

// JPEG encodes frames at a fixed quality. It is safe for concurrent use.
type JPEG struct {
	quality int
	pool    sync.Pool
}

func NewJPEG(quality int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEG{
		quality: quality,
		pool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

func (c *JPEG) Quality() int {
	return c.quality
}

// Encode returns a freshly allocated JPEG buffer for img.
func (c *JPEG) Encode(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}

	buf := c.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.pool.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}
	return img, nil
}

// JPEG stream markers.
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// SplitJPEG is a bufio.SplitFunc that yields one complete JPEG image per
// token from a concatenated MJPEG byte stream. Bytes before the first start
// marker are discarded.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF in case it begins a marker
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(soi) + end + len(eoi)
	return stop, data[start:stop], nil
}
