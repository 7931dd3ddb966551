// ABOUTME: Single-slot signal buffer holding the latest analysis frame
// ABOUTME: Overwrite-only; one writer, any number of lock-free readers
package analysis

import "sync/atomic"

// Frame is one delivery from the analysis stream.
//
// A Frame is immutable once stored. Readers must not modify it or keep it
// past the tick they loaded it in.
type Frame struct {
	Bins     []float64 // [0,1], low to high frequency
	Waveform []float64 // [-1,1], time domain
	Peak     float64   // [0,1]
	Track    *Track    // nil when the frame carries no track metadata
}

// Buffer holds the most recent Frame. It is a window, not a log: every
// Store replaces the previous value wholesale.
type Buffer struct {
	frame  atomic.Pointer[Frame]
	writes atomic.Uint64
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Store replaces the current frame (last write wins)
func (b *Buffer) Store(f *Frame) {
	b.frame.Store(f)
	b.writes.Add(1)
}

// Load returns the current frame, or nil before the first delivery
func (b *Buffer) Load() *Frame {
	return b.frame.Load()
}

// Writes returns how many frames have been stored
func (b *Buffer) Writes() uint64 {
	return b.writes.Load()
}
