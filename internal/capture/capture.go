// SPDX-License-Identifier: MIT
/*
Package capture pulls audio out of the host in fixed-size blocks:
- Device discovery with monitor-source preference for loopback taps
- A PortAudio input stream delivering interleaved float32 blocks
- Noise gate with an allocation-free implementation
- WAV recording with atomic state management
- A watchdog that reports streams that silently stop delivering

Thread Safety:
- The stream callback runs on a PortAudio thread; it touches only
  pre-allocated buffers and atomics
- Start, Stop and the recording controls are safe to call from any
  goroutine
*/
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"viztap/internal/config"
	applog "viztap/internal/log"
)

// ErrCaptureEnded reports that the stream stopped delivering blocks without
// Stop being called, for example when the capture device disappears.
var ErrCaptureEnded = errors.New("capture ended unexpectedly")

// paStream is the slice of *portaudio.Stream the source depends on.
type paStream interface {
	Start() error
	Stop() error
	Close() error
}

// paOpenStreamFunc opens the input stream. Swapped out in tests.
var paOpenStreamFunc = func(params portaudio.StreamParameters, callback func([]float32)) (paStream, error) {
	return portaudio.OpenStream(params, callback)
}

// watchGraceFloor is the minimum stall time before the watchdog declares
// the stream dead. Kept well above one block period so scheduler hiccups
// do not trip it. Tests shrink it.
var watchGraceFloor = 500 * time.Millisecond

// Source owns one input stream and hands each captured block to a
// consumer callback. Blocks pass through the noise gate and the optional
// WAV recorder on the way out.
type Source struct {
	mu sync.Mutex

	// Configuration and resolved device.
	cfg      config.AudioConfig
	device   *portaudio.DeviceInfo
	latency  time.Duration
	channels int // effective channel count, bounded by the device

	// Stream state.
	stream  paStream
	onBlock func([]float32)
	running atomic.Bool

	// Pre-allocated copy of the callback's input. The callback hands this
	// workspace (or the gate's silence block) to onBlock, never PortAudio's
	// own buffer.
	workspace []float32

	gate     *Gate
	recorder *Recorder

	// Watchdog state.
	lastBlock atomic.Int64 // unix nanos of the newest callback
	watchStop chan struct{}
	ended     chan struct{}
	endOnce   sync.Once
	endErr    error // guarded by mu
}

// NewSource builds a source from a validated audio configuration. Open
// must be called before Start.
func NewSource(cfg config.AudioConfig) *Source {
	return &Source{
		cfg:       cfg,
		channels:  cfg.InputChannels,
		workspace: make([]float32, cfg.FramesPerBuffer*cfg.InputChannels),
		gate:      NewGate(cfg.GateThreshold, cfg.FramesPerBuffer*cfg.InputChannels),
		recorder:  NewRecorder(cfg.SampleRate, cfg.InputChannels, cfg.FramesPerBuffer),
		ended:     make(chan struct{}),
	}
}

// Open binds the source to a capture device. The effective channel count
// is lowered to the device's maximum when the device offers fewer channels
// than configured; Channels reports the result.
func (s *Source) Open(device *portaudio.DeviceInfo) error {
	if device == nil {
		return fmt.Errorf("%w: no device", ErrDeviceUnavailable)
	}
	if device.MaxInputChannels == 0 {
		return fmt.Errorf("%w: device %q does not support input", ErrDeviceUnavailable, device.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.device = device
	if s.channels = s.cfg.InputChannels; s.channels > device.MaxInputChannels {
		s.channels = device.MaxInputChannels
		s.workspace = make([]float32, s.cfg.FramesPerBuffer*s.channels)
		s.recorder = NewRecorder(s.cfg.SampleRate, s.channels, s.cfg.FramesPerBuffer)
		applog.Warnf("capture: %q offers %d channels, capturing %d",
			device.Name, device.MaxInputChannels, s.channels)
	}
	if s.cfg.LowLatency {
		s.latency = device.DefaultLowInputLatency
	} else {
		s.latency = device.DefaultHighInputLatency
	}
	return nil
}

// Start opens the stream and begins delivering blocks to onBlock. The
// callback receives an interleaved float32 block of FramesPerBuffer frames
// that it may read until it returns; it must not block on locks held for
// unbounded time.
func (s *Source) Start(onBlock func(block []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return fmt.Errorf("%w: source not opened", ErrDeviceUnavailable)
	}
	if s.running.Load() {
		return fmt.Errorf("capture already running")
	}
	if onBlock == nil {
		return fmt.Errorf("capture requires a block consumer")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: s.channels,
			Device:   s.device,
			Latency:  s.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: s.cfg.FramesPerBuffer,
		SampleRate:      s.cfg.SampleRate,
	}

	stream, err := paOpenStreamFunc(params, s.process)
	if err != nil {
		return fmt.Errorf("%w: opening stream on %q: %v", ErrDeviceUnavailable, s.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: starting stream on %q: %v", ErrDeviceUnavailable, s.device.Name, err)
	}

	s.stream = stream
	s.onBlock = onBlock
	s.lastBlock.Store(time.Now().UnixNano())
	s.watchStop = make(chan struct{})
	s.running.Store(true)

	go s.watch(s.watchStop, s.grace())

	applog.Infof("capture: %q started (%.0fHz, %d frames, %d channels)",
		s.device.Name, s.cfg.SampleRate, s.cfg.FramesPerBuffer, s.channels)
	return nil
}

// Stop halts the stream and any active recording. Stopping a source that
// is not running is a no-op; the watchdog is not triggered by an orderly
// stop.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return nil
	}
	close(s.watchStop)

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stopping stream: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing stream: %w", err)
	}
	s.stream = nil

	if err := s.recorder.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ended returns a channel closed when the stream terminates without Stop,
// e.g. the device vanished. Err explains why.
func (s *Source) Ended() <-chan struct{} { return s.ended }

// Err returns the error that ended the stream, nil while healthy.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Channels returns the effective channel count after Open.
func (s *Source) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// Gate exposes the noise gate for runtime adjustment.
func (s *Source) Gate() *Gate { return s.gate }

// StartRecording tees the captured (pre-gate) signal into a WAV file.
func (s *Source) StartRecording(filename string) error {
	return s.recorder.Start(filename)
}

// StopRecording finalizes the WAV file. Safe to call when not recording.
func (s *Source) StopRecording() error {
	return s.recorder.Stop()
}

// Close stops recording and the stream.
func (s *Source) Close() error {
	if err := s.recorder.Stop(); err != nil {
		return err
	}
	return s.Stop()
}

// process is the core capture callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (s *Source) process(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !s.running.Load() {
		return
	}
	s.lastBlock.Store(time.Now().UnixNano())

	n := copy(s.workspace, in)
	block := s.workspace[:n]

	// Record the raw signal; the gate only shapes what the consumer sees.
	s.recorder.Write(block)

	s.onBlock(s.gate.Apply(block))
}

// grace returns the watchdog stall limit: several block periods, but never
// below the floor.
func (s *Source) grace() time.Duration {
	blockPeriod := time.Duration(float64(s.cfg.FramesPerBuffer) / s.cfg.SampleRate * float64(time.Second))
	grace := 8 * blockPeriod
	if grace < watchGraceFloor {
		grace = watchGraceFloor
	}
	return grace
}

// watch fails the source when callbacks stop arriving. An orderly Stop
// closes the stop channel before tearing the stream down, so only
// unexpected stalls are reported.
func (s *Source) watch(stop <-chan struct{}, grace time.Duration) {
	ticker := time.NewTicker(grace / 4)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.running.Load() {
				return
			}
			stalled := time.Since(time.Unix(0, s.lastBlock.Load()))
			if stalled > grace {
				s.fail(fmt.Errorf("%w: no blocks for %v", ErrCaptureEnded, stalled.Round(time.Millisecond)))
				return
			}
		}
	}
}

func (s *Source) fail(err error) {
	s.mu.Lock()
	if s.endErr == nil {
		s.endErr = err
	}
	s.mu.Unlock()
	applog.Errorf("capture: %v", err)
	s.endOnce.Do(func() { close(s.ended) })
}
