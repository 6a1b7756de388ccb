package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zsiec/vehiclecount/internal/vision"
)

func grey(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func TestRenderDrawsBoxWithoutTouchingInput(t *testing.T) {
	src := grey(100, 80)
	tracks := []vision.Track{{
		Detection: vision.Detection{Box: vision.Box{X1: 20, Y1: 30, X2: 60, Y2: 70}, ClassID: 2},
		Identity:  3,
	}}

	out := NewRenderer().Render(src, tracks, map[int]string{2: "car"})

	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, color.RGBA{128, 128, 128, 128}, src.RGBAAt(20, 50), "input must stay untouched")
	assert.Equal(t, classColors["car"], out.(*image.RGBA).RGBAAt(20, 50), "left edge")
	assert.Equal(t, classColors["car"], out.(*image.RGBA).RGBAAt(59, 50), "right edge")
	assert.Equal(t, color.RGBA{128, 128, 128, 128}, out.(*image.RGBA).RGBAAt(40, 50), "interior")
}

func TestRenderClipsOutOfBoundsBoxes(t *testing.T) {
	src := grey(50, 50)
	tracks := []vision.Track{
		{Detection: vision.Detection{Box: vision.Box{X1: -10, Y1: -10, X2: 20, Y2: 20}, ClassID: 7}, Identity: 1},
		{Detection: vision.Detection{Box: vision.Box{X1: 200, Y1: 200, X2: 220, Y2: 220}, ClassID: 7}, Identity: 2},
	}
	assert.NotPanics(t, func() {
		NewRenderer().Render(src, tracks, map[int]string{7: "truck"})
	})
}

func TestRenderNoTracks(t *testing.T) {
	src := grey(10, 10)
	out := NewRenderer().Render(src, nil, nil)
	assert.Equal(t, src.Pix, out.(*image.RGBA).Pix)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "#7 car", Label(vision.Track{Identity: 7}, "car"))
	assert.Equal(t, "bus", Label(vision.Track{}, "bus"))
	assert.Equal(t, "#2 class 9", Label(vision.Track{Detection: vision.Detection{ClassID: 9}, Identity: 2}, ""))
}
