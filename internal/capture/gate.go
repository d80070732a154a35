// SPDX-License-Identifier: MIT
package capture

import (
	"math"
	"sync/atomic"
)

// Gate mutes blocks whose peak amplitude stays under a threshold, so idle
// hiss does not animate the visualization. A closed gate substitutes a
// pre-allocated silent block of the same length instead of dropping the
// block, which keeps downstream buffers advancing in real time.
//
// Enable, Disable and SetThreshold may be called while the stream is
// running; Apply reads the settings atomically.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits, 0.0 = always open, 1.0 = always closed

	silence []float32 // sized for the largest block Apply will see
}

// NewGate builds a gate for blocks of at most maxBlock samples. A threshold
// of zero or less starts the gate disabled.
func NewGate(threshold float64, maxBlock int) *Gate {
	g := &Gate{silence: make([]float32, maxBlock)}
	g.SetThreshold(threshold)
	g.enabled.Store(threshold > 0)
	return g
}

// Apply returns block unchanged when the gate is open, or a silent block of
// the same length when it is closed. Hot path: no allocations, no locks.
func (g *Gate) Apply(block []float32) []float32 {
	if !g.enabled.Load() {
		return block
	}
	if g.peak(block) > g.thresholdFloat() {
		return block
	}
	if len(block) > len(g.silence) {
		return block // block larger than configured, pass through rather than truncate
	}
	return g.silence[:len(block)]
}

// Open reports whether block would pass the gate.
func (g *Gate) Open(block []float32) bool {
	return !g.enabled.Load() || g.peak(block) > g.thresholdFloat()
}

// peak finds the largest absolute sample. The sign bit is cleared
// bitwise instead of calling math.Abs to avoid the float64 round trip.
func (g *Gate) peak(block []float32) float32 {
	var peak float32
	for _, sample := range block {
		amplitude := math.Float32frombits(math.Float32bits(sample) &^ (1 << 31))
		if amplitude > peak {
			peak = amplitude
		}
	}
	return peak
}

func (g *Gate) Enable()  { g.enabled.Store(true) }
func (g *Gate) Disable() { g.enabled.Store(false) }

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// Threshold returns the current gate threshold in the range of 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(g.thresholdFloat())
}

func (g *Gate) thresholdFloat() float32 {
	return math.Float32frombits(g.threshold.Load())
}
