// SPDX-License-Identifier: MIT
/*
Package analysis turns the captured sample stream into visualization-ready
snapshots. On every tick it:

 1. Reads the newest window of frames from the ring buffer
 2. Computes per-channel RMS levels from the raw samples
 3. Mixes to mono, applies a Hann window and runs a real FFT
 4. Scales magnitudes so a full-scale sine lands at 0dB
 5. Averages bins into logarithmically spaced bands, converts to dB and
    normalizes against the configured floor
 6. Publishes a fresh Result and pushes copies to the registered sinks

All FFT buffers are allocated once at construction. The tick itself
allocates only the Result it publishes; the previous Result is never
mutated, so consumers can hold one indefinitely.
*/
package analysis

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	applog "viztap/internal/log"
	"viztap/internal/ring"
	"viztap/pkg/bitint"
)

// Display range of the band plan. Capped at Nyquist for low sample rates.
const (
	minBandHz = 20.0
	maxBandHz = 20000.0
)

// maxBands bounds the band count; past this the display gains nothing and
// the lowest bands collapse onto single FFT bins anyway.
const maxBands = 64

// dbEpsilon keeps the dB conversion defined for silent bands: a zero
// magnitude becomes -200dB, far below any usable floor.
const dbEpsilon = 1e-10

// Sink receives published results. Implementations must not block for
// unbounded time; a slow sink stalls the analysis loop.
type Sink interface {
	Send(data any) error
}

// Config assembles an Analyzer. All fields are required unless noted.
type Config struct {
	// Ring is the capture buffer to analyze. Its channel count must match
	// Channels.
	Ring *ring.Buffer

	SampleRate float64
	Channels   int // 1 or 2

	// WindowSize is the FFT length in frames, a power of 2 no larger than
	// the ring capacity.
	WindowSize int

	// Bands is the number of spectrum bands to publish.
	Bands int

	// DBFloor is the bottom of the display range in dB, e.g. -60. Bands at
	// or below the floor render as 0.
	DBFloor float64

	// WaveFrames is the length of the waveform excerpt in frames. Zero
	// disables the excerpt.
	WaveFrames int
}

// workspace holds the pre-allocated buffers reused on every tick.
type workspace struct {
	frames    []float32    // ...for the interleaved analysis window
	waveRead  []float32    // ...for the interleaved waveform excerpt
	mono      []float64    // ...for the windowed mono mix
	spectrum  []complex128 // ...for FFT complex output
	magnitude []float64    // ...for scaled magnitudes
	bands     []float64    // ...for per-band mean magnitudes
	window    []float64    // ...for Hann coefficients
}

// Analyzer computes spectrum snapshots from a ring buffer on demand.
type Analyzer struct {
	cfg       Config
	fftObj    *fourier.FFT
	plan      *bandPlan
	windowSum float64
	ws        workspace

	seq    atomic.Uint64
	latest atomic.Pointer[Result]

	mu    sync.Mutex
	sinks []Sink
}

// New validates cfg and pre-allocates every buffer the tick path needs.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Ring == nil {
		return nil, fmt.Errorf("analysis: ring buffer is required")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("analysis: sample rate %v must be positive", cfg.SampleRate)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return nil, fmt.Errorf("analysis: channel count %d must be 1 or 2", cfg.Channels)
	}
	if cfg.Ring.Channels() != cfg.Channels {
		return nil, fmt.Errorf("analysis: ring has %d channels, config says %d",
			cfg.Ring.Channels(), cfg.Channels)
	}
	if !bitint.IsPowerOfTwo(cfg.WindowSize) {
		return nil, fmt.Errorf("analysis: window size %d must be a power of 2", cfg.WindowSize)
	}
	if cfg.WindowSize > cfg.Ring.Capacity() {
		return nil, fmt.Errorf("analysis: window size %d exceeds ring capacity %d",
			cfg.WindowSize, cfg.Ring.Capacity())
	}
	if cfg.Bands < 1 || cfg.Bands > maxBands {
		return nil, fmt.Errorf("analysis: band count %d must be within [1, %d]", cfg.Bands, maxBands)
	}
	if cfg.DBFloor >= 0 {
		return nil, fmt.Errorf("analysis: dB floor %v must be negative", cfg.DBFloor)
	}
	if cfg.WaveFrames < 0 {
		return nil, fmt.Errorf("analysis: wave excerpt %d frames must not be negative", cfg.WaveFrames)
	}

	// window.Hann scales a sequence in place, so feed it ones to extract
	// the raw coefficients.
	coeffs := make([]float64, cfg.WindowSize)
	for i := range coeffs {
		coeffs[i] = 1
	}
	window.Hann(coeffs)

	var windowSum float64
	for _, c := range coeffs {
		windowSum += c
	}

	outputSize := cfg.WindowSize/2 + 1
	return &Analyzer{
		cfg:       cfg,
		fftObj:    fourier.NewFFT(cfg.WindowSize),
		plan:      newBandPlan(cfg.Bands, cfg.SampleRate, cfg.WindowSize, minBandHz, maxBandHz),
		windowSum: windowSum,
		ws: workspace{
			frames:    make([]float32, cfg.WindowSize*cfg.Channels),
			waveRead:  make([]float32, cfg.WaveFrames*cfg.Channels),
			mono:      make([]float64, cfg.WindowSize),
			spectrum:  make([]complex128, outputSize),
			magnitude: make([]float64, outputSize),
			bands:     make([]float64, cfg.Bands),
			window:    coeffs,
		},
	}, nil
}

// Tick analyzes the newest window and publishes the snapshot. Until the
// ring holds a full window it publishes a neutral result: zero levels,
// every band at the floor, no waveform. Tick is not reentrant; run it from
// one goroutine.
func (a *Analyzer) Tick() *Result {
	res := &Result{
		Seq:   a.seq.Add(1),
		Time:  time.Now(),
		Bands: make([]float64, a.plan.size()),
	}

	if n := a.cfg.Ring.ReadLatest(a.cfg.WindowSize, a.ws.frames); n == a.cfg.WindowSize {
		a.analyze(res)
	}

	a.latest.Store(res)
	a.publish(res)
	return res
}

// Latest returns a copy of the most recent snapshot, or nil before the
// first tick.
func (a *Analyzer) Latest() *Result {
	return a.latest.Load().Clone()
}

// WaveExcerpt returns a copy of the newest waveform excerpt, or nil before
// the pipeline has warmed up.
func (a *Analyzer) WaveExcerpt() []float32 {
	res := a.latest.Load()
	if res == nil || len(res.Wave) == 0 {
		return nil
	}
	return append([]float32(nil), res.Wave...)
}

// BandEdges returns a copy of the band boundaries in Hz, len Bands+1.
func (a *Analyzer) BandEdges() []float64 {
	return append([]float64(nil), a.plan.edges...)
}

// AddTransport registers a sink that will receive a copy of every
// published result. Safe to call while Run is active.
func (a *Analyzer) AddTransport(s Sink) {
	if s == nil {
		return
	}
	a.mu.Lock()
	a.sinks = append(a.sinks, s)
	a.mu.Unlock()
}

// Run ticks on the given cadence until ctx is canceled. The first tick
// fires immediately so consumers see data without waiting a full interval.
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) {
	applog.Infof("analysis: %d bands every %v (window %d frames, floor %.0fdB)",
		a.cfg.Bands, interval, a.cfg.WindowSize, a.cfg.DBFloor)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Tick()
	for {
		select {
		case <-ctx.Done():
			applog.Infof("analysis: stopped")
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

func (a *Analyzer) analyze(res *Result) {
	frames := a.ws.frames
	ch := a.cfg.Channels
	win := a.cfg.WindowSize

	// RMS comes from the raw window, before any windowing.
	for c := 0; c < ch; c++ {
		var sum float64
		for f := 0; f < win; f++ {
			v := float64(frames[f*ch+c])
			sum += v * v
		}
		res.RMS[c] = math.Sqrt(sum / float64(win))
	}
	if ch == 1 {
		res.RMS[1] = res.RMS[0]
	}

	if ch == 1 {
		for f := 0; f < win; f++ {
			a.ws.mono[f] = float64(frames[f]) * a.ws.window[f]
		}
	} else {
		for f := 0; f < win; f++ {
			a.ws.mono[f] = 0.5 * (float64(frames[2*f]) + float64(frames[2*f+1])) * a.ws.window[f]
		}
	}

	a.fftObj.Coefficients(a.ws.spectrum, a.ws.mono)

	// Scale so a full-scale sine peaks at magnitude 1.0 (0dB): the Hann
	// window spreads amplitude A over coefficients summing to windowSum/2.
	scale := 2 / a.windowSum
	for i := range a.ws.spectrum {
		a.ws.magnitude[i] = cmplx.Abs(a.ws.spectrum[i]) * scale
	}

	a.plan.fill(a.ws.magnitude, a.ws.bands)
	floor := a.cfg.DBFloor
	for k, mag := range a.ws.bands {
		db := 20 * math.Log10(mag+dbEpsilon)
		if db < floor {
			db = floor
		}
		if db > 0 {
			db = 0
		}
		res.Bands[k] = (db - floor) / -floor
	}

	if a.cfg.WaveFrames > 0 {
		n := a.cfg.Ring.ReadLatest(a.cfg.WaveFrames, a.ws.waveRead)
		res.Wave = make([]float32, n)
		if ch == 1 {
			copy(res.Wave, a.ws.waveRead[:n])
		} else {
			for f := 0; f < n; f++ {
				res.Wave[f] = 0.5 * (a.ws.waveRead[2*f] + a.ws.waveRead[2*f+1])
			}
		}
	}
}

// publish fans the result out. Every sink gets its own copy, so one sink
// buffering or mutating results cannot affect another.
func (a *Analyzer) publish(res *Result) {
	a.mu.Lock()
	sinks := a.sinks
	a.mu.Unlock()

	for _, s := range sinks {
		if err := s.Send(res.Clone()); err != nil {
			applog.Warnf("analysis: sink rejected result %d: %v", res.Seq, err)
		}
	}
}
