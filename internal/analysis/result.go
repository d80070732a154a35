package analysis

import "time"

// Result is one published snapshot of the signal. Consumers receive their
// own copy and may keep or mutate it freely; the analyzer never writes into
// a Result it has handed out.
type Result struct {
	// Seq increments once per analysis tick, including warmup ticks.
	Seq uint64 `json:"seq"`

	// Time is when the tick ran, not when the audio was captured.
	Time time.Time `json:"time"`

	// RMS holds per-channel levels in linear 0..1 terms, index 0 left and
	// index 1 right. Mono capture duplicates the value across both.
	RMS [2]float64 `json:"rms"`

	// Bands holds one normalized magnitude per spectrum band: 0 at the
	// configured dB floor or below, 1 at full scale.
	Bands []float64 `json:"bands"`

	// Wave is a short mono excerpt of the newest samples for scope views.
	// Empty while the pipeline is warming up.
	Wave []float32 `json:"wave"`
}

// Clone returns a deep copy sharing no memory with the receiver.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Bands = append([]float64(nil), r.Bands...)
	cp.Wave = append([]float32(nil), r.Wave...)
	return &cp
}
