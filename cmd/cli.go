package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"viztap/internal/config"
	"viztap/pkg/build"
)

// ParseArgs builds the runtime configuration. Precedence, lowest to
// highest: built-in defaults, config file, VIZTAP_* environment variables,
// explicitly set command line flags. One-off subcommands are reported
// through cfg.Command; help and version leave cfg.Run false.
func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		configPath string
		command    string
		run        bool
	)

	// Flag values land here first; only flags the user actually set are
	// copied over the loaded configuration.
	var opts struct {
		device          int
		input           string
		channels        int
		sampleRate      float64
		framesPerBuffer int
		lowLatency      bool
		loopback        bool
		targetSink      string
		bands           int
		mode            string
		record          bool
		output          string
		headless        bool
		verbose         bool
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Tap system audio and stream visualization data",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			run = true
			return nil
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// One-off commands
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available capture devices",
		Run: func(cmd *cobra.Command, args []string) {
			command = "list"
		},
	}
	rootCmd.AddCommand(listCmd)

	sinksCmd := &cobra.Command{
		Use:   "sinks",
		Short: "List PulseAudio sinks",
		Run: func(cmd *cobra.Command, args []string) {
			command = "sinks"
		},
	}
	rootCmd.AddCommand(sinksCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")

	// Capture device selection
	flags.IntVarP(&opts.device, "device", "d", config.DefaultDeviceID,
		"Capture device ID; see the 'list' command (-1 = default input)")
	flags.StringVarP(&opts.input, "input", "i", "",
		"Preferred input device name (substring match)")
	flags.IntVarP(&opts.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	flags.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Capture sample rate in Hz")
	flags.IntVarP(&opts.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Hardware block size in frames; smaller blocks mean lower latency")
	flags.BoolVarP(&opts.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Request the device's low latency parameters")

	// Routing and analysis
	flags.BoolVarP(&opts.loopback, "loopback", "L", false,
		"Create a loopback route and capture the system output")
	flags.StringVarP(&opts.targetSink, "target-sink", "t", "",
		"Real sink the loopback mirrors into (empty = default sink)")
	flags.IntVarP(&opts.bands, "bands", "n", config.DefaultBands,
		"Number of spectrum bands")
	flags.StringVarP(&opts.mode, "mode", "m", config.DefaultMode,
		"Visualization mode: none, vu, spectrum or wave")

	// Recording
	flags.BoolVarP(&opts.record, "record", "r", false,
		"Write the captured audio to a WAV file")
	flags.StringVarP(&opts.output, "output", "o", "",
		"Recording file name (default recording-DD-MM-YYYY-HHMMSS.wav)")

	// Run mode
	flags.BoolVar(&opts.headless, "headless", false,
		"Run without the terminal meter")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Log at debug level")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Command = command
	cfg.Run = run
	cfg.Headless = opts.headless
	cfg.Verbose = opts.verbose

	if flags.Changed("device") {
		cfg.Audio.InputDevice = opts.device
	}
	if flags.Changed("input") {
		cfg.Audio.PreferredInput = opts.input
	}
	if flags.Changed("channels") {
		cfg.Audio.InputChannels = opts.channels
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = opts.sampleRate
	}
	if flags.Changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = opts.framesPerBuffer
	}
	if flags.Changed("low-latency") {
		cfg.Audio.LowLatency = opts.lowLatency
	}
	if flags.Changed("loopback") {
		cfg.Loopback.Enabled = opts.loopback
	}
	if flags.Changed("target-sink") {
		cfg.Loopback.TargetSink = opts.targetSink
	}
	if flags.Changed("bands") {
		cfg.Analysis.Bands = opts.bands
	}
	if flags.Changed("mode") {
		cfg.Viz.Mode = opts.mode
	}
	if flags.Changed("record") {
		cfg.Recording.Enabled = opts.record
	}
	if flags.Changed("output") {
		cfg.Recording.OutputFile = opts.output
	}

	if cfg.Recording.Enabled && cfg.Recording.OutputFile == "" {
		cfg.Recording.OutputFile = "recording-" +
			time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	}

	// Flags can introduce values the file validation never saw.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
