// SPDX-License-Identifier: MIT
/*
Package ring implements a fixed-capacity circular buffer for interleaved
audio frames. It decouples the real-time capture callback from the analysis
tick:

  - The capture side calls Push with each hardware block and never blocks
    on readers.
  - The analysis side calls ReadLatest on its own schedule and always sees
    the most recent frames in chronological order.

When the buffer is full the oldest frames are overwritten, so the buffer
holds a sliding window over the signal rather than an unbounded backlog.

Thread Safety:
  - A single mutex guards all state. Every operation does a bounded amount
    of copying while holding it, so the capture callback's hold time is
    fixed by the block size, not by reader activity.
  - Push and ReadLatest perform no allocations.
*/
package ring

import (
	"fmt"
	"sync"
)

// Buffer is a circular buffer of interleaved float32 frames. One frame is
// Channels() consecutive samples. The zero value is not usable; call New.
type Buffer struct {
	mu sync.Mutex

	// Interleaved sample storage, capacity*channels long.
	data []float32

	// Geometry, fixed at construction.
	capacity int // frames
	channels int

	// Write state.
	head   int    // next frame slot to write
	filled int    // valid frames, grows to capacity and stays there
	total  uint64 // frames pushed over the buffer's lifetime
}

// New allocates a buffer holding capacityFrames frames of channels samples
// each. Both dimensions must be positive.
func New(capacityFrames, channels int) (*Buffer, error) {
	if capacityFrames <= 0 {
		return nil, fmt.Errorf("ring: capacity %d frames must be positive", capacityFrames)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("ring: channel count %d must be positive", channels)
	}
	return &Buffer{
		data:     make([]float32, capacityFrames*channels),
		capacity: capacityFrames,
		channels: channels,
	}, nil
}

// Push appends a block of interleaved samples, overwriting the oldest
// frames once the buffer is full. A trailing partial frame is dropped.
// Safe to call from the audio callback: no allocations, bounded copy.
func (b *Buffer) Push(block []float32) {
	frames := len(block) / b.channels
	if frames == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += uint64(frames)

	// A block larger than the whole buffer reduces to its newest tail;
	// everything before it would be overwritten within this same call.
	if frames >= b.capacity {
		copy(b.data, block[(frames-b.capacity)*b.channels:frames*b.channels])
		b.head = 0
		b.filled = b.capacity
		return
	}

	// First copy runs to the end of the storage, second wraps to the front.
	n := copy(b.data[b.head*b.channels:], block[:frames*b.channels])
	if n < frames*b.channels {
		copy(b.data, block[n:frames*b.channels])
	}

	b.head = (b.head + frames) % b.capacity
	if b.filled += frames; b.filled > b.capacity {
		b.filled = b.capacity
	}
}

// ReadLatest copies the most recent frames into dst in chronological order
// (oldest of the excerpt first) and reports how many frames were copied.
// The count is bounded by the request, the frames available, and dst's
// capacity in whole frames. An empty buffer yields zero and leaves dst
// untouched.
func (b *Buffer) ReadLatest(frames int, dst []float32) int {
	if frames <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if frames > b.filled {
		frames = b.filled
	}
	if room := len(dst) / b.channels; frames > room {
		frames = room
	}
	if frames == 0 {
		return 0
	}

	// The excerpt ends at head and may straddle the wrap point.
	start := b.head - frames
	if start < 0 {
		start += b.capacity
	}
	n := copy(dst[:frames*b.channels], b.data[start*b.channels:])
	if n < frames*b.channels {
		copy(dst[n:], b.data[:frames*b.channels-n])
	}
	return frames
}

// Snapshot copies the buffer's entire valid contents into dst, oldest frame
// first, and reports the frames copied. dst should hold Capacity() frames
// to receive everything.
func (b *Buffer) Snapshot(dst []float32) int {
	b.mu.Lock()
	filled := b.filled
	b.mu.Unlock()
	return b.ReadLatest(filled, dst)
}

// Capacity returns the buffer size in frames.
func (b *Buffer) Capacity() int { return b.capacity }

// Channels returns the samples per frame.
func (b *Buffer) Channels() int { return b.channels }

// Frames returns the number of valid frames currently held.
func (b *Buffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// Total returns the number of frames pushed since construction, including
// frames that have since been overwritten.
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
