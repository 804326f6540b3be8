package frame

import "sync/atomic"

// Slot holds the most recently published frame. One goroutine publishes,
// any number read. Readers get a pointer to an immutable frame, so a frame
// is never observed half written.
type Slot struct {
	latest    atomic.Pointer[Frame]
	published atomic.Uint64
}

// Publish replaces the held frame. It never blocks.
func (s *Slot) Publish(f *Frame) {
	if f == nil {
		return
	}
	s.latest.Store(f)
	s.published.Add(1)
}

// Load returns the latest frame, or nil if the slot is empty.
func (s *Slot) Load() *Frame {
	return s.latest.Load()
}

// Clear empties the slot so readers stop seeing a frame from a closed source.
func (s *Slot) Clear() {
	s.latest.Store(nil)
}

// Published reports how many frames have been published in total.
func (s *Slot) Published() uint64 {
	return s.published.Load()
}
