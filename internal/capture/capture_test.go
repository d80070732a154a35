// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"viztap/internal/config"
)

type fakeStream struct {
	started  atomic.Int32
	stopped  atomic.Int32
	closed   atomic.Int32
	startErr error
}

func (f *fakeStream) Start() error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeStream) Stop() error {
	f.stopped.Add(1)
	return nil
}

func (f *fakeStream) Close() error {
	f.closed.Add(1)
	return nil
}

// stubOpenStream replaces the stream factory and exposes the callback the
// source registered, so tests can play the role of the audio hardware.
func stubOpenStream(t *testing.T, stream *fakeStream, openErr error) (*portaudio.StreamParameters, *func([]float32)) {
	t.Helper()
	var params portaudio.StreamParameters
	var callback func([]float32)

	orig := paOpenStreamFunc
	paOpenStreamFunc = func(p portaudio.StreamParameters, cb func([]float32)) (paStream, error) {
		params = p
		callback = cb
		if openErr != nil {
			return nil, openErr
		}
		return stream, nil
	}
	t.Cleanup(func() { paOpenStreamFunc = orig })
	return &params, &callback
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:      8000,
		FramesPerBuffer: 64,
		InputChannels:   2,
	}
}

func testDevice() *portaudio.DeviceInfo {
	return &portaudio.DeviceInfo{
		Name:                    "Monitor of viztap_loop",
		MaxInputChannels:        2,
		DefaultSampleRate:       44100,
		DefaultLowInputLatency:  time.Millisecond,
		DefaultHighInputLatency: 10 * time.Millisecond,
	}
}

func TestStart_DeliversBlocks(t *testing.T) {
	stream := &fakeStream{}
	params, callback := stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var delivered [][]float32
	err := src.Start(func(block []float32) {
		cp := make([]float32, len(block))
		copy(cp, block)
		delivered = append(delivered, cp)
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	if stream.started.Load() != 1 {
		t.Errorf("stream started %d times, want 1", stream.started.Load())
	}
	if params.SampleRate != 8000 || params.FramesPerBuffer != 64 {
		t.Errorf("stream params = %v Hz %d frames, want 8000 Hz 64 frames",
			params.SampleRate, params.FramesPerBuffer)
	}
	if params.Input.Channels != 2 {
		t.Errorf("input channels = %d, want 2", params.Input.Channels)
	}
	if params.Output.Channels != 0 {
		t.Errorf("output channels = %d, want 0 for capture-only stream", params.Output.Channels)
	}

	// Simulate two hardware callbacks.
	in := make([]float32, 64*2)
	for i := range in {
		in[i] = float32(i) / float32(len(in))
	}
	(*callback)(in)
	(*callback)(in)

	if len(delivered) != 2 {
		t.Fatalf("consumer received %d blocks, want 2", len(delivered))
	}
	for i, v := range delivered[0] {
		if v != in[i] {
			t.Fatalf("delivered[0][%d] = %v, want %v", i, v, in[i])
		}
	}
}

func TestStart_GateSilencesQuietBlocks(t *testing.T) {
	stream := &fakeStream{}
	_, callback := stubOpenStream(t, stream, nil)

	cfg := testAudioConfig()
	cfg.GateThreshold = 0.1
	src := NewSource(cfg)
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var last []float32
	if err := src.Start(func(block []float32) { last = block }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	(*callback)(constBlock(0.01, 64*2))
	if len(last) != 64*2 {
		t.Fatalf("gated block length = %d, want %d", len(last), 64*2)
	}
	for i, v := range last {
		if v != 0 {
			t.Fatalf("gated block sample %d = %v, want 0", i, v)
		}
	}

	(*callback)(constBlock(0.5, 64*2))
	if last[0] != 0.5 {
		t.Errorf("loud block first sample = %v, want 0.5 to pass the gate", last[0])
	}
}

func TestStart_WithoutOpen(t *testing.T) {
	src := NewSource(testAudioConfig())
	err := src.Start(func([]float32) {})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start() without Open = %v, want ErrDeviceUnavailable", err)
	}
}

func TestStart_Twice(t *testing.T) {
	stream := &fakeStream{}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer src.Stop()

	if err := src.Start(func([]float32) {}); err == nil {
		t.Error("second Start() = nil, want already running error")
	}
}

func TestStart_OpenStreamError(t *testing.T) {
	stubOpenStream(t, nil, fmt.Errorf("no such device"))

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err := src.Start(func([]float32) {})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start() = %v, want ErrDeviceUnavailable", err)
	}
}

func TestStart_StreamStartErrorClosesStream(t *testing.T) {
	stream := &fakeStream{startErr: fmt.Errorf("device busy")}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err == nil {
		t.Fatal("Start() = nil, want device busy error")
	}
	if stream.closed.Load() != 1 {
		t.Errorf("stream closed %d times after failed start, want 1", stream.closed.Load())
	}
}

func TestOpen_InvalidDevice(t *testing.T) {
	src := NewSource(testAudioConfig())

	if err := src.Open(nil); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Open(nil) = %v, want ErrDeviceUnavailable", err)
	}

	outputOnly := testDevice()
	outputOnly.MaxInputChannels = 0
	if err := src.Open(outputOnly); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Open(output-only) = %v, want ErrDeviceUnavailable", err)
	}
}

func TestOpen_ClampsChannels(t *testing.T) {
	mono := testDevice()
	mono.MaxInputChannels = 1

	src := NewSource(testAudioConfig())
	if err := src.Open(mono); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := src.Channels(); got != 1 {
		t.Errorf("Channels() = %d, want 1 after clamping to device", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	stream := &fakeStream{}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v, want nil", err)
	}
	if stream.stopped.Load() != 1 || stream.closed.Load() != 1 {
		t.Errorf("stream stopped %d / closed %d times, want 1 / 1",
			stream.stopped.Load(), stream.closed.Load())
	}
}

func TestStop_NeverStarted(t *testing.T) {
	src := NewSource(testAudioConfig())
	if err := src.Stop(); err != nil {
		t.Errorf("Stop() on idle source = %v, want nil", err)
	}
}

func TestWatchdog_SignalsEnded(t *testing.T) {
	origFloor := watchGraceFloor
	watchGraceFloor = 40 * time.Millisecond
	defer func() { watchGraceFloor = origFloor }()

	stream := &fakeStream{}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	// No callbacks arrive; the watchdog must declare the stream dead.
	select {
	case <-src.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("Ended() did not fire for a stalled stream")
	}
	if err := src.Err(); !errors.Is(err, ErrCaptureEnded) {
		t.Errorf("Err() = %v, want ErrCaptureEnded", err)
	}
}

func TestWatchdog_QuietAfterOrderlyStop(t *testing.T) {
	origFloor := watchGraceFloor
	watchGraceFloor = 40 * time.Millisecond
	defer func() { watchGraceFloor = origFloor }()

	stream := &fakeStream{}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case <-src.Ended():
		t.Errorf("Ended() fired after orderly Stop: %v", src.Err())
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCallbackHotPathAllocations(t *testing.T) {
	stream := &fakeStream{}
	_, callback := stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	in := constBlock(0.2, 64*2)
	if allocs := testing.AllocsPerRun(100, func() {
		(*callback)(in)
	}); allocs != 0 {
		t.Errorf("capture callback allocates %v times per call, want 0", allocs)
	}
}

func BenchmarkCaptureCallback(b *testing.B) {
	stream := &fakeStream{}
	var callback func([]float32)
	orig := paOpenStreamFunc
	paOpenStreamFunc = func(p portaudio.StreamParameters, cb func([]float32)) (paStream, error) {
		callback = cb
		return stream, nil
	}
	defer func() { paOpenStreamFunc = orig }()

	cfg := config.AudioConfig{SampleRate: 44100, FramesPerBuffer: 2048, InputChannels: 2, GateThreshold: 0.01}
	src := NewSource(cfg)
	if err := src.Open(testDevice()); err != nil {
		b.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	defer src.Stop()

	in := constBlock(0.2, 2048*2)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		callback(in)
	}
}
