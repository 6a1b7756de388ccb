// Package ratelimit caps live-feed viewers and paces API clients.
package ratelimit

import (
	"sync"
)

// ViewerLimiter caps concurrent MJPEG viewers per slot and overall. A
// non-positive limit disables that cap.
type ViewerLimiter struct {
	maxPerSlot int
	maxTotal   int
	viewers    map[int]int
	total      int
	mu         sync.RWMutex
}

func NewViewerLimiter(maxPerSlot, maxTotal int) *ViewerLimiter {
	return &ViewerLimiter{
		maxPerSlot: maxPerSlot,
		maxTotal:   maxTotal,
		viewers:    make(map[int]int),
	}
}

// TryAcquire reserves a viewer seat on slot.
func (v *ViewerLimiter) TryAcquire(slot int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.maxTotal > 0 && v.total >= v.maxTotal {
		return false
	}

	current := v.viewers[slot]
	if v.maxPerSlot > 0 && current >= v.maxPerSlot {
		return false
	}

	v.viewers[slot] = current + 1
	v.total++
	return true
}

// Release frees a seat taken by TryAcquire.
func (v *ViewerLimiter) Release(slot int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	count, ok := v.viewers[slot]
	if !ok || count == 0 {
		return
	}
	if count == 1 {
		delete(v.viewers, slot)
	} else {
		v.viewers[slot] = count - 1
	}
	v.total--
}

func (v *ViewerLimiter) Count(slot int) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.viewers[slot]
}

func (v *ViewerLimiter) Total() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.total
}
