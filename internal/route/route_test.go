// SPDX-License-Identifier: MIT
package route

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

// stubPactl replaces the pactl seam with handler and records every call.
// The original is restored when the test finishes.
func stubPactl(t *testing.T, handler func(args ...string) (string, error)) *[][]string {
	t.Helper()
	calls := &[][]string{}
	prev := runPactl
	runPactl = func(args ...string) (string, error) {
		*calls = append(*calls, args)
		return handler(args...)
	}
	t.Cleanup(func() { runPactl = prev })
	return calls
}

func TestNew_ZeroValuesFallBack(t *testing.T) {
	r := New("", "", 0)
	if r.sinkName != fallbackSinkName {
		t.Errorf("sinkName = %q, want %q", r.sinkName, fallbackSinkName)
	}
	if r.description != fallbackDescription {
		t.Errorf("description = %q, want %q", r.description, fallbackDescription)
	}
	if r.latencyMS != fallbackLatencyMS {
		t.Errorf("latencyMS = %d, want %d", r.latencyMS, fallbackLatencyMS)
	}
	if got := r.Monitor(); got != fallbackSinkName+".monitor" {
		t.Errorf("Monitor() = %q, want %q", got, fallbackSinkName+".monitor")
	}
}

func TestEnable_LoadsSinkThenLoopback(t *testing.T) {
	t.Setenv("PULSE_SINK", "previous_value")

	calls := stubPactl(t, func(args ...string) (string, error) {
		switch args[1] {
		case "module-null-sink":
			return "42", nil
		case "module-loopback":
			return "43", nil
		}
		return "", fmt.Errorf("unexpected pactl call: %v", args)
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	monitor, err := r.Enable("alsa_output.hw0")
	if err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if monitor != "viztap_loop.monitor" {
		t.Errorf("monitor = %q, want %q", monitor, "viztap_loop.monitor")
	}
	if !r.Enabled() {
		t.Error("Enabled() = false after successful Enable")
	}

	if len(*calls) != 2 {
		t.Fatalf("pactl called %d times, want 2: %v", len(*calls), *calls)
	}
	sinkCall := strings.Join((*calls)[0], " ")
	if !strings.Contains(sinkCall, "module-null-sink") ||
		!strings.Contains(sinkCall, "sink_name=viztap_loop") ||
		!strings.Contains(sinkCall, "device.description=VizTap_Loopback") {
		t.Errorf("sink load call = %q, missing expected arguments", sinkCall)
	}
	loopCall := strings.Join((*calls)[1], " ")
	if !strings.Contains(loopCall, "module-loopback") ||
		!strings.Contains(loopCall, "source=viztap_loop.monitor") ||
		!strings.Contains(loopCall, "latency_msec=1") ||
		!strings.Contains(loopCall, "sink=alsa_output.hw0") {
		t.Errorf("loopback load call = %q, missing expected arguments", loopCall)
	}

	if got := os.Getenv("PULSE_SINK"); got != "viztap_loop" {
		t.Errorf("PULSE_SINK = %q, want %q", got, "viztap_loop")
	}
}

func TestEnable_ResolvesDefaultTarget(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	calls := stubPactl(t, func(args ...string) (string, error) {
		switch args[0] {
		case "get-default-sink":
			return "alsa_output.pci.analog-stereo", nil
		case "load-module":
			if args[1] == "module-null-sink" {
				return "10", nil
			}
			return "11", nil
		}
		return "", fmt.Errorf("unexpected pactl call: %v", args)
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	if _, err := r.Enable(""); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	if len(*calls) != 3 {
		t.Fatalf("pactl called %d times, want 3: %v", len(*calls), *calls)
	}
	if (*calls)[0][0] != "get-default-sink" {
		t.Errorf("first call = %v, want default sink query", (*calls)[0])
	}
	loopCall := strings.Join((*calls)[2], " ")
	if !strings.Contains(loopCall, "sink=alsa_output.pci.analog-stereo") {
		t.Errorf("loopback call = %q, want resolved default sink", loopCall)
	}
}

func TestEnable_Idempotent(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	calls := stubPactl(t, func(args ...string) (string, error) {
		if args[1] == "module-null-sink" {
			return "1", nil
		}
		return "2", nil
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	first, err := r.Enable("out")
	if err != nil {
		t.Fatalf("first Enable() error = %v", err)
	}
	second, err := r.Enable("out")
	if err != nil {
		t.Fatalf("second Enable() error = %v", err)
	}
	if first != second {
		t.Errorf("monitor changed across Enable calls: %q then %q", first, second)
	}
	if len(*calls) != 2 {
		t.Errorf("pactl called %d times, want 2 (second Enable must not reload)", len(*calls))
	}
}

func TestEnable_RollbackOnLoopbackFailure(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	calls := stubPactl(t, func(args ...string) (string, error) {
		switch {
		case args[0] == "load-module" && args[1] == "module-null-sink":
			return "77", nil
		case args[0] == "load-module" && args[1] == "module-loopback":
			return "", fmt.Errorf("pactl load-module: Module initialization failed")
		case args[0] == "unload-module":
			return "", nil
		}
		return "", fmt.Errorf("unexpected pactl call: %v", args)
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	if _, err := r.Enable("out"); err == nil {
		t.Fatal("Enable() = nil error, want loopback failure")
	}
	if r.Enabled() {
		t.Error("Enabled() = true after failed Enable")
	}

	last := (*calls)[len(*calls)-1]
	if last[0] != "unload-module" || last[1] != "77" {
		t.Errorf("last call = %v, want rollback unload of module 77", last)
	}
}

func TestEnable_RoutingUnavailable(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	stubPactl(t, func(args ...string) (string, error) {
		return "", fmt.Errorf("%w: exec: \"pactl\": executable file not found in $PATH", ErrRoutingUnavailable)
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	_, err := r.Enable("out")
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Errorf("Enable() error = %v, want ErrRoutingUnavailable", err)
	}
}

func TestDisable_ReverseOrderAndIdempotent(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	calls := stubPactl(t, func(args ...string) (string, error) {
		if args[0] == "load-module" {
			if args[1] == "module-null-sink" {
				return "5", nil
			}
			return "6", nil
		}
		return "", nil
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	if _, err := r.Enable("out"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := r.Disable(); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	// Loopback (6) must come down before the sink (5) it feeds from.
	unloads := [][]string{}
	for _, c := range *calls {
		if c[0] == "unload-module" {
			unloads = append(unloads, c)
		}
	}
	if len(unloads) != 2 || unloads[0][1] != "6" || unloads[1][1] != "5" {
		t.Fatalf("unload sequence = %v, want loopback 6 then sink 5", unloads)
	}
	if r.Enabled() {
		t.Error("Enabled() = true after Disable")
	}
	if got := os.Getenv("PULSE_SINK"); got != "" {
		t.Errorf("PULSE_SINK = %q after Disable, want unset", got)
	}

	before := len(*calls)
	if err := r.Disable(); err != nil {
		t.Fatalf("second Disable() error = %v", err)
	}
	if len(*calls) != before {
		t.Errorf("second Disable issued %d extra pactl calls, want 0", len(*calls)-before)
	}
}

func TestDisable_WithoutEnable(t *testing.T) {
	calls := stubPactl(t, func(args ...string) (string, error) {
		return "", fmt.Errorf("should not be called")
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	if err := r.Disable(); err != nil {
		t.Errorf("Disable() on never-enabled route = %v, want nil", err)
	}
	if len(*calls) != 0 {
		t.Errorf("pactl called %d times, want 0", len(*calls))
	}
}

func TestDisable_ContinuesPastFirstFailure(t *testing.T) {
	t.Setenv("PULSE_SINK", "")

	calls := stubPactl(t, func(args ...string) (string, error) {
		switch {
		case args[0] == "load-module" && args[1] == "module-null-sink":
			return "8", nil
		case args[0] == "load-module":
			return "9", nil
		case args[0] == "unload-module" && args[1] == "9":
			return "", fmt.Errorf("pactl unload-module: Failed to unload module")
		}
		return "", nil
	})

	r := New("viztap_loop", "VizTap_Loopback", 1)
	if _, err := r.Enable("out"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := r.Disable(); err == nil {
		t.Error("Disable() = nil, want error from failed loopback unload")
	}

	last := (*calls)[len(*calls)-1]
	if last[0] != "unload-module" || last[1] != "8" {
		t.Errorf("sink unload still expected after loopback failure, last call = %v", last)
	}
}

func TestSinks(t *testing.T) {
	stubPactl(t, func(args ...string) (string, error) {
		return "0\talsa_output.pci.analog-stereo\tmodule-alsa-card.c\ts16le 2ch 44100Hz\tRUNNING\n" +
			"not-a-sink-line\n" +
			"7\tviztap_loop\tmodule-null-sink.c\tfloat32le 2ch 44100Hz\tIDLE\n", nil
	})

	sinks, err := Sinks()
	if err != nil {
		t.Fatalf("Sinks() error = %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("Sinks() returned %d entries, want 2 (malformed line skipped)", len(sinks))
	}
	if sinks[0].Index != 0 || sinks[0].Name != "alsa_output.pci.analog-stereo" || sinks[0].State != "RUNNING" {
		t.Errorf("sinks[0] = %+v, want alsa output RUNNING", sinks[0])
	}
	if sinks[1].Index != 7 || sinks[1].Name != "viztap_loop" || sinks[1].Spec != "float32le 2ch 44100Hz" {
		t.Errorf("sinks[1] = %+v, want viztap_loop entry", sinks[1])
	}
}

func TestDefaultSink(t *testing.T) {
	stubPactl(t, func(args ...string) (string, error) {
		if args[0] != "get-default-sink" {
			return "", fmt.Errorf("unexpected pactl call: %v", args)
		}
		return "alsa_output.pci.analog-stereo", nil
	})

	name, err := DefaultSink()
	if err != nil {
		t.Fatalf("DefaultSink() error = %v", err)
	}
	if name != "alsa_output.pci.analog-stereo" {
		t.Errorf("DefaultSink() = %q, want alsa output", name)
	}
}

func TestDefaultSink_Empty(t *testing.T) {
	stubPactl(t, func(args ...string) (string, error) {
		return "", nil
	})

	if _, err := DefaultSink(); err == nil {
		t.Error("DefaultSink() with empty output = nil error, want error")
	}
}
