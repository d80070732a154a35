package config

import (
	"fmt"
	"time"

	"viztap/pkg/bitint"
)

// Core configuration constants that define the boundaries and defaults
// for the visualization pipeline.
const (
	// Default values for capture and analysis
	DefaultChannels        = 2        // Stereo capture
	DefaultDeviceID        = MinDeviceID
	DefaultSampleRate      = 44100    // CD-quality audio
	DefaultFramesPerBuffer = 2048     // ~46ms blocks at 44.1kHz
	DefaultLowLatency      = false    // Standard latency mode
	DefaultBands           = 20       // Spectrum bands, 20Hz-20kHz
	DefaultIntervalMS      = 100      // Analysis tick cadence
	DefaultRetentionMS     = 1000     // Ring buffer holds ~1s of audio
	DefaultWaveExcerptMS   = 120      // Raw waveform excerpt length
	DefaultDBFloor         = -60.0    // Bottom of the dB display range
	DefaultMode            = "spectrum"

	// Loopback routing defaults
	DefaultSinkName        = "viztap_loop"
	DefaultSinkDescription = "VizTap_Loopback"
	DefaultLoopbackLatency = 1 // milliseconds

	// Transport defaults
	DefaultWebSocketAddr  = ":8080"
	DefaultUDPTarget      = "127.0.0.1:9090"
	DefaultUDPIntervalMS  = 100

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxBands        = 64     // Maximum spectrum band count
)

// Config holds all runtime configuration for the visualization pipeline.
// It is loaded from YAML, then overridden by environment variables and
// command line flags.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Loopback  LoopbackConfig  `yaml:"loopback"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Viz       VizConfig       `yaml:"visualization"`

	// CLI-only state, never persisted.
	Command  string `yaml:"-"` // One-off command ("list", "sinks")
	Run      bool   `yaml:"-"` // False when the CLI already handled the invocation (help, version)
	Headless bool   `yaml:"-"` // Run without the terminal meter
	Verbose  bool   `yaml:"-"` // Force debug logging
}

// AudioConfig holds capture device and stream settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index, -1 for default
	PreferredInput  string  `yaml:"preferred_input"`   // Substring match for the capture device name
	SampleRate      float64 `yaml:"sample_rate"`       // Hz
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Block size delivered by the capture callback
	InputChannels   int     `yaml:"input_channels"`    // 1 or 2
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low latency profile
	GateThreshold   float64 `yaml:"gate_threshold"`    // 0..1 peak threshold, 0 disables the gate
}

// AnalysisConfig holds spectral analysis settings.
type AnalysisConfig struct {
	Bands         int     `yaml:"bands"`           // Spectrum band count
	IntervalMS    int     `yaml:"interval_ms"`     // Tick cadence in milliseconds
	WindowSize    int     `yaml:"window_size"`     // FFT window in frames (power of 2)
	RetentionMS   int     `yaml:"retention_ms"`    // Ring buffer depth in milliseconds
	WaveExcerptMS int     `yaml:"wave_excerpt_ms"` // Raw waveform excerpt length
	DBFloor       float64 `yaml:"db_floor"`        // Bottom of the display range, e.g. -60
}

// LoopbackConfig holds OS audio routing settings.
type LoopbackConfig struct {
	Enabled     bool   `yaml:"enabled"`      // Create the loopback route at startup
	SinkName    string `yaml:"sink_name"`    // Name of the virtual sink
	Description string `yaml:"description"`  // device.description of the virtual sink
	TargetSink  string `yaml:"target_sink"`  // Real output to mirror into; empty = default sink
	LatencyMS   int    `yaml:"latency_msec"` // module-loopback latency
}

// RecordingConfig holds settings for the WAV recording tap.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"` // Empty generates recording-<timestamp>.wav
}

// TransportConfig holds settings for sending results over the network.
type TransportConfig struct {
	WebSocketEnabled  bool   `yaml:"websocket_enabled"`
	WebSocketAddr     string `yaml:"websocket_addr"`
	UDPEnabled        bool   `yaml:"udp_enabled"`
	UDPTargetAddress  string `yaml:"udp_target_address"`
	UDPSendIntervalMS int    `yaml:"udp_send_interval_ms"`
}

// VizConfig selects what the terminal meter renders.
type VizConfig struct {
	Mode string `yaml:"mode"` // none, vu, spectrum, or wave
}

// ValidModes lists the accepted visualization mode names.
var ValidModes = []string{"none", "vu", "spectrum", "wave"}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultChannels,
			LowLatency:      DefaultLowLatency,
		},
		Analysis: AnalysisConfig{
			Bands:         DefaultBands,
			IntervalMS:    DefaultIntervalMS,
			WindowSize:    DefaultFramesPerBuffer,
			RetentionMS:   DefaultRetentionMS,
			WaveExcerptMS: DefaultWaveExcerptMS,
			DBFloor:       DefaultDBFloor,
		},
		Loopback: LoopbackConfig{
			Enabled:     false,
			SinkName:    DefaultSinkName,
			Description: DefaultSinkDescription,
			LatencyMS:   DefaultLoopbackLatency,
		},
		Recording: RecordingConfig{
			Enabled: false,
		},
		Transport: TransportConfig{
			WebSocketEnabled:  false,
			WebSocketAddr:     DefaultWebSocketAddr,
			UDPEnabled:        false,
			UDPTargetAddress:  DefaultUDPTarget,
			UDPSendIntervalMS: DefaultUDPIntervalMS,
		},
		Viz: VizConfig{
			Mode: DefaultMode,
		},
	}
}

// Interval returns the analysis tick cadence.
func (a AnalysisConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMS) * time.Millisecond
}

// Retention returns the ring buffer depth as a duration.
func (a AnalysisConfig) Retention() time.Duration {
	return time.Duration(a.RetentionMS) * time.Millisecond
}

// WaveExcerpt returns the waveform excerpt length as a duration.
func (a AnalysisConfig) WaveExcerpt() time.Duration {
	return time.Duration(a.WaveExcerptMS) * time.Millisecond
}

// RetentionFrames converts the retention window to a frame count at the
// given sample rate.
func (a AnalysisConfig) RetentionFrames(sampleRate float64) int {
	return int(sampleRate * float64(a.RetentionMS) / 1000.0)
}

// WaveExcerptFrames converts the excerpt window to a frame count at the
// given sample rate.
func (a AnalysisConfig) WaveExcerptFrames(sampleRate float64) int {
	return int(sampleRate * float64(a.WaveExcerptMS) / 1000.0)
}

// UDPSendInterval returns the UDP publish cadence.
func (t TransportConfig) UDPSendInterval() time.Duration {
	return time.Duration(t.UDPSendIntervalMS) * time.Millisecond
}

// Validate checks the configuration for values the pipeline cannot run
// with. It is called once after loading; construction code may assume a
// validated config.
func (c *Config) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f outside supported range [%d, %d]",
			c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if !bitint.IsPowerOfTwo(c.Audio.FramesPerBuffer) || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer %d must be a power of 2 no greater than %d",
			c.Audio.FramesPerBuffer, MaxBufferFrames)
	}
	if c.Audio.InputChannels < 1 || c.Audio.InputChannels > 2 {
		return fmt.Errorf("audio.input_channels %d must be 1 or 2", c.Audio.InputChannels)
	}
	if c.Audio.GateThreshold < 0 || c.Audio.GateThreshold > 1 {
		return fmt.Errorf("audio.gate_threshold %f must be within [0, 1]", c.Audio.GateThreshold)
	}
	if c.Analysis.Bands < 1 || c.Analysis.Bands > MaxBands {
		return fmt.Errorf("analysis.bands %d must be within [1, %d]", c.Analysis.Bands, MaxBands)
	}
	if !bitint.IsPowerOfTwo(c.Analysis.WindowSize) {
		return fmt.Errorf("analysis.window_size %d must be a power of 2", c.Analysis.WindowSize)
	}
	if c.Analysis.IntervalMS <= 0 {
		return fmt.Errorf("analysis.interval_ms %d must be positive", c.Analysis.IntervalMS)
	}
	if c.Analysis.RetentionFrames(c.Audio.SampleRate) < c.Analysis.WindowSize {
		return fmt.Errorf("analysis.retention_ms %d holds fewer frames than window_size %d",
			c.Analysis.RetentionMS, c.Analysis.WindowSize)
	}
	if c.Analysis.DBFloor >= 0 {
		return fmt.Errorf("analysis.db_floor %.1f must be negative", c.Analysis.DBFloor)
	}
	modeOK := false
	for _, m := range ValidModes {
		if c.Viz.Mode == m {
			modeOK = true
			break
		}
	}
	if !modeOK {
		return fmt.Errorf("visualization.mode %q must be one of %v", c.Viz.Mode, ValidModes)
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("transport.udp_target_address must be set when UDP is enabled")
		}
		if c.Transport.UDPSendIntervalMS <= 0 {
			return fmt.Errorf("transport.udp_send_interval_ms %d must be positive when UDP is enabled",
				c.Transport.UDPSendIntervalMS)
		}
	}
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddr == "" {
		return fmt.Errorf("transport.websocket_addr must be set when the websocket hub is enabled")
	}
	return nil
}
