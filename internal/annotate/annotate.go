// Package annotate draws tracked detections onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/zsiec/vehiclecount/internal/counter"
	"github.com/zsiec/vehiclecount/internal/vision"
)

var classColors = map[string]color.RGBA{
	counter.Car:   {R: 0, G: 200, B: 0, A: 255},
	counter.Van:   {R: 0, G: 160, B: 255, A: 255},
	counter.Truck: {R: 255, G: 140, B: 0, A: 255},
	counter.Bus:   {R: 220, G: 0, B: 220, A: 255},
}

var (
	otherColor = color.RGBA{R: 180, G: 180, B: 180, A: 255}
	textColor  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Renderer draws a box and a "#id class" label per track.
type Renderer struct {
	face      font.Face
	thickness int
}

func NewRenderer() *Renderer {
	return &Renderer{face: basicfont.Face7x13, thickness: 2}
}

// Render returns a copy of img with tracks drawn on it. img is not modified.
func (r *Renderer) Render(img image.Image, tracks []vision.Track, names map[int]string) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, t := range tracks {
		rect := t.Box.Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}
		name := names[t.ClassID]
		col := otherColor
		if cls, ok := counter.Canonical(name); ok {
			col = classColors[cls]
		}
		r.box(out, rect, col)
		r.label(out, rect, Label(t, name), col)
	}
	return out
}

// Label formats the text drawn above a track.
func Label(t vision.Track, name string) string {
	if name == "" {
		name = fmt.Sprintf("class %d", t.ClassID)
	}
	if !t.HasIdentity() {
		return name
	}
	return fmt.Sprintf("#%d %s", t.Identity, name)
}

func (r *Renderer) box(dst *image.RGBA, rect image.Rectangle, col color.RGBA) {
	src := image.NewUniform(col)
	th := min(r.thickness, rect.Dx(), rect.Dy())
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+th),
		image.Rect(rect.Min.X, rect.Max.Y-th, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+th, rect.Max.Y),
		image.Rect(rect.Max.X-th, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

func (r *Renderer) label(dst *image.RGBA, rect image.Rectangle, text string, col color.RGBA) {
	metrics := r.face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	width := font.MeasureString(r.face, text).Ceil()

	// above the box when there is room, inside it otherwise
	top := rect.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = rect.Min.Y
	}
	bg := image.Rect(rect.Min.X, top, rect.Min.X+width+4, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(col), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: r.face,
		Dot:  fixed.Point26_6{X: fixed.I(rect.Min.X + 2), Y: fixed.I(top) + metrics.Ascent},
	}
	d.DrawString(text)
}
