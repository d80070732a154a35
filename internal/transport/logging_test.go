package transport

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"viztap/internal/analysis"
	applog "viztap/internal/log"
)

// captureLog redirects the application logger into a buffer at debug level
// for the duration of the test. Tests using it must not run in parallel.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := applog.GetLevel()
	applog.SetOutput(&buf)
	applog.SetLevel(applog.LevelDebug)
	t.Cleanup(func() {
		applog.SetOutput(os.Stderr)
		applog.SetLevel(prev)
	})
	return &buf
}

func TestLogTransport_SendResult(t *testing.T) {
	buf := captureLog(t)
	lt := NewLogTransport()

	res := &analysis.Result{
		Seq:   7,
		RMS:   [2]float64{0.5, 0.25},
		Bands: []float64{0.1, 0.9, 0.3},
	}
	if err := lt.Send(res); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "seq=7") {
		t.Errorf("log output missing sequence number: %q", out)
	}
	if !strings.Contains(out, "peak=0.900") {
		t.Errorf("log output missing peak band: %q", out)
	}
	if !strings.Contains(out, "rms=[0.500 0.250]") {
		t.Errorf("log output missing RMS values: %q", out)
	}
}

func TestLogTransport_SendArbitraryPayload(t *testing.T) {
	buf := captureLog(t)
	lt := NewLogTransport()

	if err := lt.Send("not a result"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "string") {
		t.Errorf("log output missing payload type: %q", out)
	}
}

func TestLogTransport_Close(t *testing.T) {
	captureLog(t)
	lt := NewLogTransport()
	if err := lt.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestPeakBand(t *testing.T) {
	tests := []struct {
		name  string
		bands []float64
		want  float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.4}, 0.4},
		{"middle peak", []float64{0.1, 0.8, 0.2}, 0.8},
		{"all zero", []float64{0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := peakBand(tt.bands); got != tt.want {
				t.Errorf("peakBand(%v) = %v, want %v", tt.bands, got, tt.want)
			}
		})
	}
}
