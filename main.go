package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"viztap/cmd"
	"viztap/internal/analysis"
	"viztap/internal/capture"
	applog "viztap/internal/log"
	"viztap/internal/ring"
	"viztap/internal/route"
	"viztap/internal/transport"
	"viztap/internal/transport/udp"
	"viztap/internal/tui"
	"viztap/pkg/build"
)

// main is the entry point for the visualization pipeline.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Parse command line arguments and load configuration
//   - Configure logging and runtime settings
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Enable the loopback route when configured
//   - Open the capture device and stream blocks into the ring buffer
//   - Run the spectral analyzer and attached transports
//   - Render the terminal meter, or idle headless
//
// 3. Shutdown Phase (Cold Path):
//   - Stop analysis, capture, and recording
//   - Tear down the loopback route
//   - Close transports
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to the capture callback (time-critical)
	// - One thread for analysis, UI, and I/O
	runtime.GOMAXPROCS(2)

	// Parse command line arguments and build configuration
	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}

	if cfg.Verbose {
		applog.SetLevel(applog.LevelDebug)
	} else if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
	applog.Infof("%s", build.GetBuildFlags())

	// Initialize PortAudio subsystem
	if err := capture.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer capture.Terminate()

	// Handle one-off commands (e.g., device listing) that don't require
	// the pipeline to be running
	if cfg.Command != "" {
		if err := executeCommand(cfg.Command); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	// Help or version output was already handled by the CLI
	if !cfg.Run {
		return
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// Setup signal handling for graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	// Routing failures degrade to whatever input the host already offers;
	// the pipeline still runs.
	var loop *route.Route
	preferred := cfg.Audio.PreferredInput
	if cfg.Loopback.Enabled {
		loop = route.New(cfg.Loopback.SinkName, cfg.Loopback.Description, cfg.Loopback.LatencyMS)
		monitor, err := loop.Enable(cfg.Loopback.TargetSink)
		if err != nil {
			applog.Warnf("Loopback routing unavailable, using existing inputs: %v", err)
			loop = nil
		} else {
			applog.Infof("Loopback route active, monitor source: %s", monitor)
			preferred = cfg.Loopback.SinkName
		}
	}

	device, err := capture.PickDevice(preferred, cfg.Audio.InputDevice)
	if err != nil {
		shutdownRoute(loop)
		applog.Fatalf("%v", err)
	}
	applog.Infof("Capturing from device: %s", device.Name)

	source := capture.NewSource(cfg.Audio)
	if err := source.Open(device); err != nil {
		shutdownRoute(loop)
		applog.Fatalf("%v", err)
	}

	buf, err := ring.New(cfg.Analysis.RetentionFrames(cfg.Audio.SampleRate), source.Channels())
	if err != nil {
		shutdownRoute(loop)
		applog.Fatalf("%v", err)
	}

	analyzer, err := analysis.New(analysis.Config{
		Ring:       buf,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   source.Channels(),
		WindowSize: cfg.Analysis.WindowSize,
		Bands:      cfg.Analysis.Bands,
		DBFloor:    cfg.Analysis.DBFloor,
		WaveFrames: cfg.Analysis.WaveExcerptFrames(cfg.Audio.SampleRate),
	})
	if err != nil {
		shutdownRoute(loop)
		applog.Fatalf("%v", err)
	}

	// Transports are best-effort; failures never stop the pipeline.
	var transports []transport.Transport
	if cfg.Transport.WebSocketEnabled {
		hub, err := transport.NewWebSocketHub(cfg.Transport.WebSocketAddr)
		if err != nil {
			applog.Errorf("WebSocket hub unavailable: %v", err)
		} else {
			analyzer.AddTransport(hub)
			transports = append(transports, hub)
		}
	}
	var (
		udpSender    *udp.Sender
		udpPublisher *udp.Publisher
	)
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			applog.Errorf("UDP transport unavailable: %v", err)
		} else if pub, err := udp.NewPublisher(cfg.Transport.UDPSendInterval(), sender, analyzer); err != nil {
			applog.Errorf("UDP publisher unavailable: %v", err)
			sender.Close()
		} else {
			udpSender, udpPublisher = sender, pub
		}
	}
	if cfg.Headless {
		analyzer.AddTransport(transport.NewLogTransport())
	}

	// CRITICAL: Start of real-time audio processing
	// The first callback triggers PortAudio to begin pushing blocks into
	// the ring buffer, marking the start of the hot path
	if err := source.Start(buf.Push); err != nil {
		shutdownRoute(loop)
		applog.Fatalf("%v", err)
	}

	recording := false
	if cfg.Recording.Enabled {
		if err := source.StartRecording(cfg.Recording.OutputFile); err != nil {
			applog.Errorf("Recording unavailable: %v", err)
		} else {
			recording = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go analyzer.Run(ctx, cfg.Analysis.Interval())
	if udpPublisher != nil {
		udpPublisher.Start()
	}

	// done closes when capture dies or a termination signal arrives; the
	// meter also quits on it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-source.Ended():
			applog.Errorf("Capture ended: %v", source.Err())
		case s := <-sig:
			applog.Infof("Received %s, shutting down", s)
		}
	}()

	if cfg.Headless {
		applog.Infof("Running headless, Ctrl+C to stop")
		<-done
	} else {
		if err := tui.StartMeterUI(analyzer, cfg.Viz.Mode, cfg.Analysis.Interval(), done); err != nil {
			applog.Errorf("Meter UI error: %v", err)
		}
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	cancel() // Stop the analysis loop before tearing the pipeline down.

	if udpPublisher != nil {
		udpPublisher.Stop()
	}
	if udpSender != nil {
		udpSender.Close()
	}

	// Close stops recording first so the WAV header is finalized.
	if err := source.Close(); err != nil {
		applog.Errorf("Error stopping capture: %v", err)
	}
	if recording {
		fmt.Printf("Recording saved to: %s\n", cfg.Recording.OutputFile)
	}

	shutdownRoute(loop)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			applog.Errorf("Error closing transport: %v", err)
		}
	}
}

// executeCommand handles one-off commands that don't require the pipeline
// to be running, such as listing available audio devices.
func executeCommand(command string) error {
	switch command {
	case "list":
		return capture.ListDevices()
	case "sinks":
		return printSinks()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printSinks lists the PulseAudio sinks a loopback route could target.
func printSinks() error {
	sinks, err := route.Sinks()
	if err != nil {
		return err
	}

	fmt.Printf("\nPulseAudio Sinks\n\n")
	for _, s := range sinks {
		fmt.Printf("[%d] %s (%s)\n", s.Index, s.Name, s.State)
		fmt.Printf("    %s\n\n", s.Spec)
	}
	return nil
}

// shutdownRoute tears down the loopback modules this process loaded.
// Startup failures after Enable must not leave the route behind.
func shutdownRoute(loop *route.Route) {
	if loop == nil {
		return
	}
	if err := loop.Disable(); err != nil {
		applog.Errorf("Error disabling loopback route: %v", err)
	}
}
