package capture

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "viztap/internal/log"
)

// Recorder tees captured blocks into a 32-bit PCM WAV file. Write is safe
// to call from the stream callback: when no recording is active it is a
// single atomic load, and while recording it reuses one conversion buffer.
type Recorder struct {
	mu sync.Mutex // guards Start/Stop transitions

	sampleRate float64
	channels   int

	isRecording atomic.Int32
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
}

// NewRecorder prepares a recorder for blocks of framesPerBuffer frames.
func NewRecorder(sampleRate float64, channels, framesPerBuffer int) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		channels:   channels,
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  int(sampleRate),
			},
			Data: make([]int, framesPerBuffer*channels),
		},
	}
}

// Start opens filename and begins encoding subsequent Write calls into it.
func (r *Recorder) Start(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() == 1 {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, int(r.sampleRate), 32, r.channels, 1)

	r.isRecording.Store(1)
	return nil
}

// Write appends one block of interleaved float32 samples to the recording.
// A no-op when no recording is active. Samples are clamped to [-1, 1]
// before scaling to the 32-bit integer range.
func (r *Recorder) Write(block []float32) {
	if r.isRecording.Load() != 1 || r.wavEncoder == nil {
		return
	}
	if len(block) > cap(r.sampleBuf.Data) {
		block = block[:cap(r.sampleBuf.Data)]
	}

	r.sampleBuf.Data = r.sampleBuf.Data[:len(block)]
	for i, sample := range block {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		// The product stays exact in float64; float32(MaxInt32) would
		// round up and overflow the encoder's int32 at full scale.
		r.sampleBuf.Data[i] = int(float64(sample) * math.MaxInt32)
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		applog.Errorf("recording: write failed: %v", err)
	}
}

// Stop finalizes the WAV header and closes the file. Stopping an inactive
// recorder is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() == 0 {
		return nil
	}
	r.isRecording.Store(0)

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}

	return nil
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	return r.isRecording.Load() == 1
}
