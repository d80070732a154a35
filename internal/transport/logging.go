package transport

import (
	"viztap/internal/analysis"
	applog "viztap/internal/log"
)

// LogTransport implements the Transport interface by writing a one-line
// summary of each result to the application logger. It is the default sink
// for verbose headless runs.
type LogTransport struct{}

// NewLogTransport creates a new LogTransport instance.
func NewLogTransport() *LogTransport {
	applog.Infof("Transport: Using log transport")
	return &LogTransport{}
}

// Send logs a summary of the received data. It never fails.
func (lt *LogTransport) Send(data any) error {
	res, ok := data.(*analysis.Result)
	if !ok {
		applog.Debugf("LogTransport: Received (%T): %+v", data, data)
		return nil
	}
	applog.Debugf("LogTransport: seq=%d rms=[%.3f %.3f] peak=%.3f (%d bands)",
		res.Seq, res.RMS[0], res.RMS[1], peakBand(res.Bands), len(res.Bands))
	return nil
}

// Close is a no-op for LogTransport.
func (lt *LogTransport) Close() error {
	applog.Debugf("LogTransport: Close called")
	return nil
}

func peakBand(bands []float64) float64 {
	peak := 0.0
	for _, v := range bands {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Ensure LogTransport satisfies the interface at compile time.
var _ Transport = (*LogTransport)(nil)
