// Package track associates detections across frames and assigns stable
// identities to confirmed objects.
package track

import (
	"github.com/zsiec/vehiclecount/internal/vision"
)

// Config controls association and track lifecycle.
type Config struct {
	IOUThreshold float64 // minimum IoU for a detection to continue a track
	MaxAge       int     // consecutive missed frames before a track is dropped
	MinHits      int     // matches needed before a track receives an identity
}

func DefaultConfig() Config {
	return Config{
		IOUThreshold: 0.3,
		MaxAge:       30,
		MinHits:      1,
	}
}

type object struct {
	box      vision.Box
	classID  int
	hits     int
	misses   int
	identity int // 0 while tentative
}

// IOUTracker matches detections to existing tracks by bounding box overlap,
// solving each frame's association optimally. Only detections of the same
// class can continue a track. Not safe for concurrent use.
type IOUTracker struct {
	cfg          Config
	objects      []*object
	nextIdentity int
}

func NewIOUTracker(cfg Config) *IOUTracker {
	if cfg.MinHits < 1 {
		cfg.MinHits = 1
	}
	if cfg.MaxAge < 1 {
		cfg.MaxAge = 1
	}
	return &IOUTracker{cfg: cfg, nextIdentity: 1}
}

// Update consumes one frame of detections and returns one track per
// detection, in detection order.
func (t *IOUTracker) Update(dets []vision.Detection) []vision.Track {
	assignments := t.associate(dets)

	matched := make([]bool, len(t.objects))
	out := make([]vision.Track, len(dets))

	for di, det := range dets {
		var obj *object
		if oi := assignments[di]; oi >= 0 {
			obj = t.objects[oi]
			matched[oi] = true
			obj.box = det.Box
			obj.hits++
			obj.misses = 0
		} else {
			obj = &object{box: det.Box, classID: det.ClassID, hits: 1}
			t.objects = append(t.objects, obj)
		}

		if obj.identity == 0 && obj.hits >= t.cfg.MinHits {
			obj.identity = t.nextIdentity
			t.nextIdentity++
		}

		out[di] = vision.Track{Detection: det, Identity: obj.identity}
	}

	for oi, ok := range matched {
		if !ok {
			t.objects[oi].misses++
			t.objects[oi].hits = 0
		}
	}

	live := t.objects[:0]
	for _, obj := range t.objects {
		if obj.misses < t.cfg.MaxAge {
			live = append(live, obj)
		}
	}
	for i := len(live); i < len(t.objects); i++ {
		t.objects[i] = nil
	}
	t.objects = live

	return out
}

func (t *IOUTracker) associate(dets []vision.Detection) []int {
	if len(t.objects) == 0 {
		result := make([]int, len(dets))
		for i := range result {
			result[i] = -1
		}
		return result
	}

	cost := make([][]float64, len(dets))
	for i, det := range dets {
		cost[i] = make([]float64, len(t.objects))
		for j, obj := range t.objects {
			iou := det.Box.IoU(obj.box)
			if obj.classID != det.ClassID || iou < t.cfg.IOUThreshold {
				cost[i][j] = forbidden
				continue
			}
			cost[i][j] = 1 - iou
		}
	}

	result := assign(cost)
	if result == nil {
		result = []int{}
	}
	return result
}

// Active returns the number of tracks currently held.
func (t *IOUTracker) Active() int {
	return len(t.objects)
}

// Reset drops every track and restarts identities at 1.
func (t *IOUTracker) Reset() {
	t.objects = nil
	t.nextIdentity = 1
}
