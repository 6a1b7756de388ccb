// Package vision holds the detection and tracking value types shared by the
// detector, tracker, counter and renderer.
package vision

import "image"

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) Width() float64 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

func (b Box) Height() float64 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// IoU returns the intersection over union of two boxes, 0 when disjoint.
func (b Box) IoU(o Box) float64 {
	inter := Box{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect rounds the box to integer pixel bounds.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1+0.5), int(b.Y1+0.5), int(b.X2+0.5), int(b.Y2+0.5))
}

// Detection is a single object found in one frame.
type Detection struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

// Track is a detection associated across frames. Identity is zero until the
// tracker confirms the track.
type Track struct {
	Detection
	Identity int `json:"identity"`
}

func (t Track) HasIdentity() bool {
	return t.Identity > 0
}
