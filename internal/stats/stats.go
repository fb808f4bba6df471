// Package stats keeps running counters for the device link: packets sent,
// packets rejected under backpressure, and buffer occupancy.
package stats

import "sync"

// Snapshot is a point-in-time copy of the counters. SentCount and
// RejectedCount are monotonic between resets; the buffer fields follow the
// queue.
type Snapshot struct {
	SentCount          uint64 `json:"sent_count"`
	RejectedCount      uint64 `json:"rejected_count"`
	CurrentBufferBytes int    `json:"current_buffer_bytes"`
	PeakBufferBytes    int    `json:"peak_buffer_bytes"`
	LastPacketText     string `json:"last_packet_text"`
}

// Tracker guards the counters with a single mutex so every update is
// observed whole. Safe for concurrent use from the caller and the sender
// loop.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker returns a zeroed tracker.
func NewTracker() *Tracker { return &Tracker{} }

// RecordSent counts one transmitted packet and retains its descriptor.
func (t *Tracker) RecordSent(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SentCount++
	t.snap.LastPacketText = text
}

// RecordRejected counts one enqueue rejected under backpressure.
func (t *Tracker) RecordRejected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.RejectedCount++
}

// SetBuffer updates the buffer gauge and raises the peak when exceeded.
func (t *Tracker) SetBuffer(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentBufferBytes = bytes
	if bytes > t.snap.PeakBufferBytes {
		t.snap.PeakBufferBytes = bytes
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Reset zeroes SentCount, RejectedCount and PeakBufferBytes. The buffer
// gauge and last packet text track live state and are left alone.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.SentCount = 0
	t.snap.RejectedCount = 0
	t.snap.PeakBufferBytes = 0
}
