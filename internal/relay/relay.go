// Package relay implements the bounded, lossy hand-off between a session's
// processing loop and its live-feed consumers.
package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

const DefaultDepth = 2

// ErrEmpty is returned by Pull when no frame arrived before the timeout.
var ErrEmpty = errors.New("relay: no frame available")

// Relay is a fixed-depth frame queue. Push never blocks: when the queue is
// full the incoming frame is dropped. One producer, any number of consumers;
// each frame goes to exactly one consumer.
type Relay struct {
	frames  chan []byte
	dropped atomic.Uint64
	pushed  atomic.Uint64
}

func New(depth int) *Relay {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Relay{frames: make(chan []byte, depth)}
}

// Push offers a frame and reports whether it was queued.
func (r *Relay) Push(frame []byte) bool {
	r.pushed.Add(1)
	select {
	case r.frames <- frame:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Pull waits up to timeout for a frame. A non-positive timeout polls.
func (r *Relay) Pull(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		select {
		case f := <-r.frames:
			return f, nil
		default:
			return nil, ErrEmpty
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-r.frames:
		return f, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain discards every queued frame and returns how many were removed.
func (r *Relay) Drain() int {
	n := 0
	for {
		select {
		case <-r.frames:
			n++
		default:
			return n
		}
	}
}

func (r *Relay) Len() int {
	return len(r.frames)
}

func (r *Relay) Cap() int {
	return cap(r.frames)
}

// Dropped returns the number of frames rejected since creation.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Offered returns the number of Push calls since creation.
func (r *Relay) Offered() uint64 {
	return r.pushed.Load()
}
