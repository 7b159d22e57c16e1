package media

import "sync"

// Ring is a bounded frame buffer that drops its oldest entry on overflow.
// Capture loops push without ever blocking, readers always see the most
// recent frames. Stale data is evicted rather than throttling the producer.
type Ring struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
}

// NewRing returns a ring holding at most capacity frames. Capacity values
// below one are raised to one.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a frame, evicting the oldest one when the ring is full.
func (r *Ring) Push(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == r.capacity {
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:len(r.frames)-1]
		r.dropped++
	}
	r.frames = append(r.frames, frame)
}

// Latest returns the newest frame without removing it. The second return
// is false when the ring is empty.
func (r *Ring) Latest() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Cap returns the configured capacity.
func (r *Ring) Cap() int {
	return r.capacity
}

// Dropped returns how many frames have been evicted since creation.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Snapshot returns the buffered frames oldest first. The returned slice is
// owned by the caller, later pushes do not modify it.
func (r *Ring) Snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}
