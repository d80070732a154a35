// SPDX-License-Identifier: MIT
package capture

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
)

func TestRecordingStartStop(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_recording.wav")
	rec := NewRecorder(44100, 2, 64)

	if err := rec.Start(filename); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	if !rec.Active() {
		t.Error("Recorder should be in recording state")
	}
	if rec.outputFile == nil {
		t.Error("Output file should be initialized")
	}
	if rec.wavEncoder == nil {
		t.Error("WAV encoder should be initialized")
	}
	if rec.sampleBuf.Format.NumChannels != 2 {
		t.Errorf("Buffer channels mismatch: got %d, want 2", rec.sampleBuf.Format.NumChannels)
	}
	if rec.sampleBuf.Format.SampleRate != 44100 {
		t.Errorf("Buffer sample rate mismatch: got %d, want 44100", rec.sampleBuf.Format.SampleRate)
	}

	rec.Write(constBlock(0.25, 64*2))

	// Store reference to check file closure.
	outputFile := rec.outputFile

	if err := rec.Stop(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}

	if rec.Active() {
		t.Error("Recorder should not be in recording state after stopping")
	}
	if rec.outputFile != nil {
		t.Error("Output file should be nil after stopping")
	}
	if rec.wavEncoder != nil {
		t.Error("WAV encoder should be nil after stopping")
	}
	if err := outputFile.Close(); err == nil {
		t.Error("File should already be closed")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Error("Recording file was not created")
	}
}

func TestRecordingErrorCases(t *testing.T) {
	tmp := t.TempDir()

	t.Run("Already recording", func(t *testing.T) {
		rec := NewRecorder(44100, 2, 64)
		if err := rec.Start(filepath.Join(tmp, "first.wav")); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer rec.Stop()

		err := rec.Start(filepath.Join(tmp, "second.wav"))
		if err == nil || !strings.Contains(err.Error(), "already recording") {
			t.Errorf("second Start() = %v, want already recording error", err)
		}
	})

	t.Run("Invalid path", func(t *testing.T) {
		rec := NewRecorder(44100, 2, 64)
		if err := rec.Start("/nonexistent/path/file.wav"); err == nil {
			t.Error("Start() with invalid path = nil, want error")
		}
		if rec.Active() {
			t.Error("Recorder should not be active after failed Start")
		}
	})

	t.Run("Stop when not recording", func(t *testing.T) {
		rec := NewRecorder(44100, 2, 64)
		if err := rec.Stop(); err != nil {
			t.Errorf("Stop() on idle recorder = %v, want nil", err)
		}
	})

	t.Run("Write when not recording", func(t *testing.T) {
		rec := NewRecorder(44100, 2, 64)
		rec.Write(constBlock(0.5, 128)) // must not panic or create files
	})
}

// TestRecordingRoundTrip writes known samples and decodes the file again,
// checking the float32 to 32-bit integer conversion including clamping.
func TestRecordingRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "roundtrip.wav")
	rec := NewRecorder(44100, 1, 4)

	if err := rec.Start(filename); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec.Write([]float32{2.0, -2.0, 0.5, 0.0})
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("opening recording: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decoding recording: %v", err)
	}
	if dec.BitDepth != 32 {
		t.Errorf("bit depth = %d, want 32", dec.BitDepth)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d, want 1", dec.NumChans)
	}
	if len(buf.Data) != 4 {
		t.Fatalf("decoded %d samples, want 4", len(buf.Data))
	}

	want := []int{math.MaxInt32, -math.MaxInt32, 1073741823, 0}
	for i, w := range want {
		if buf.Data[i] != w {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], w)
		}
	}
}

func TestSourceCloseStopsRecording(t *testing.T) {
	stream := &fakeStream{}
	stubOpenStream(t, stream, nil)

	src := NewSource(testAudioConfig())
	if err := src.Open(testDevice()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.Start(func([]float32) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	filename := filepath.Join(t.TempDir(), "tap.wav")
	if err := src.StartRecording(filename); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if src.recorder.Active() {
		t.Error("Recorder should not be active after Close()")
	}
	if stream.stopped.Load() != 1 {
		t.Errorf("stream stopped %d times after Close, want 1", stream.stopped.Load())
	}
}

func TestRecordingInactiveWriteAllocations(t *testing.T) {
	rec := NewRecorder(44100, 2, 2048)
	block := constBlock(0.1, 2048*2)

	// The common case: recording disabled, Write must stay free.
	if allocs := testing.AllocsPerRun(100, func() {
		rec.Write(block)
	}); allocs != 0 {
		t.Errorf("inactive Write allocates %v times per call, want 0", allocs)
	}
}

func BenchmarkRecordingWrite(b *testing.B) {
	filename := filepath.Join(b.TempDir(), "bench.wav")
	rec := NewRecorder(44100, 2, 2048)
	if err := rec.Start(filename); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop()

	block := constBlock(0.1, 2048*2)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		rec.Write(block)
	}
}
