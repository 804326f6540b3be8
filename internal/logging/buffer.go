package logging

import (
	"sync"
	"time"
)

// Entry is one log record as kept in history and streamed to API clients.
type Entry struct {
	Time    time.Time      `json:"timestamp"`
	Level   string         `json:"level"`
	Module  string         `json:"module"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries, dropping the oldest when full.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRingBuffer returns a buffer holding up to capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{entries: make([]Entry, capacity)}
}

// Write stores e, overwriting the oldest entry when the buffer is full.
func (rb *RingBuffer) Write(e Entry) {
	rb.mu.Lock()
	rb.entries[rb.next] = e
	rb.next++
	if rb.next == len(rb.entries) {
		rb.next = 0
		rb.full = true
	}
	rb.mu.Unlock()
}

// Snapshot returns the buffered entries oldest first.
func (rb *RingBuffer) Snapshot() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]Entry(nil), rb.entries[:rb.next]...)
	}
	out := make([]Entry, 0, len(rb.entries))
	out = append(out, rb.entries[rb.next:]...)
	return append(out, rb.entries[:rb.next]...)
}

// Len reports how many entries are buffered.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.entries)
	}
	return rb.next
}
