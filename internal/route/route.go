// SPDX-License-Identifier: MIT
/*
Package route manages the PulseAudio plumbing that makes player output
observable. It creates a virtual null sink for the player to write into and
a loopback module that mirrors the sink into a real output, so audio is
heard normally while the sink's monitor source exposes the same samples for
capture.

All server interaction goes through pactl. The package tracks the module
IDs it loads and tears down exactly those on Disable, leaving any routing
the user set up by other means alone.
*/
package route

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	applog "viztap/internal/log"
)

// ErrRoutingUnavailable reports that pactl is missing or the sound server
// refused the routing commands. Callers degrade to plain device capture.
var ErrRoutingUnavailable = errors.New("audio routing unavailable")

// Fallbacks applied by New for zero-valued arguments.
const (
	fallbackSinkName    = "viztap_loop"
	fallbackDescription = "VizTap_Loopback"
	fallbackLatencyMS   = 1
)

// runPactl executes one pactl command and returns its trimmed stdout.
// Swapped out in tests.
var runPactl = func(args ...string) (string, error) {
	cmd := exec.Command("pactl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrRoutingUnavailable, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("pactl %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Route owns one null sink plus one loopback module. The zero value is not
// usable; call New.
type Route struct {
	mu sync.Mutex

	// Identity, fixed at construction.
	sinkName    string
	description string
	latencyMS   int

	// Module IDs as printed by pactl load-module, empty when not loaded.
	sinkModule string
	loopModule string

	enabled bool
}

// New prepares a route that will create a null sink called sinkName. The
// description is what mixers display for it. latencyMS is handed to
// module-loopback; 1 keeps the mirrored output tight enough that the
// heard signal and the analyzed signal stay in step. Zero values fall
// back to the package defaults.
func New(sinkName, description string, latencyMS int) *Route {
	if sinkName == "" {
		sinkName = fallbackSinkName
	}
	if description == "" {
		description = fallbackDescription
	}
	if latencyMS <= 0 {
		latencyMS = fallbackLatencyMS
	}
	return &Route{
		sinkName:    sinkName,
		description: description,
		latencyMS:   latencyMS,
	}
}

// Enable loads the null sink and the loopback into targetSink, then points
// PULSE_SINK at the virtual sink so child player processes write into it.
// An empty targetSink mirrors into the server's current default output.
// Returns the monitor source name to capture from. Calling Enable on an
// already enabled route is a no-op returning the same monitor name.
//
// If the loopback fails to load after the sink was created, the sink is
// unloaded again before returning, so a failed Enable leaves no modules
// behind.
func (r *Route) Enable(targetSink string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return r.monitorLocked(), nil
	}

	if targetSink == "" {
		def, err := DefaultSink()
		if err != nil {
			// The loopback module falls back to the default sink on its
			// own when no sink= argument is given.
			applog.Warnf("route: could not resolve default sink: %v", err)
		} else {
			targetSink = def
		}
	}

	sinkID, err := runPactl("load-module", "module-null-sink",
		"sink_name="+r.sinkName,
		"sink_properties=device.description="+r.description)
	if err != nil {
		return "", fmt.Errorf("loading null sink %q: %w", r.sinkName, err)
	}

	loopArgs := []string{"load-module", "module-loopback",
		"source=" + r.sinkName + ".monitor",
		"latency_msec=" + strconv.Itoa(r.latencyMS)}
	if targetSink != "" {
		loopArgs = append(loopArgs, "sink="+targetSink)
	}
	loopID, err := runPactl(loopArgs...)
	if err != nil {
		if _, uerr := runPactl("unload-module", sinkID); uerr != nil {
			applog.Warnf("route: rollback of sink module %s failed: %v", sinkID, uerr)
		}
		return "", fmt.Errorf("loading loopback into %q: %w", targetSink, err)
	}

	if err := os.Setenv("PULSE_SINK", r.sinkName); err != nil {
		applog.Warnf("route: setting PULSE_SINK: %v", err)
	}

	r.sinkModule = sinkID
	r.loopModule = loopID
	r.enabled = true
	applog.Infof("route: %s -> %s (modules %s, %s)", r.sinkName,
		orDefault(targetSink, "<default>"), sinkID, loopID)
	return r.monitorLocked(), nil
}

// Disable unloads the loopback first and the null sink second, touching
// only the module IDs this route loaded. Disabling a route that is not
// enabled is a no-op. Both unloads are attempted even if the first fails.
func (r *Route) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil
	}

	var firstErr error
	if r.loopModule != "" {
		if _, err := runPactl("unload-module", r.loopModule); err != nil {
			firstErr = fmt.Errorf("unloading loopback module %s: %w", r.loopModule, err)
		}
		r.loopModule = ""
	}
	if r.sinkModule != "" {
		if _, err := runPactl("unload-module", r.sinkModule); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unloading sink module %s: %w", r.sinkModule, err)
		}
		r.sinkModule = ""
	}

	os.Unsetenv("PULSE_SINK")
	r.enabled = false
	applog.Infof("route: %s removed", r.sinkName)
	return firstErr
}

// Monitor returns the monitor source name for the virtual sink. Valid
// whether or not the route is currently enabled.
func (r *Route) Monitor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitorLocked()
}

// Enabled reports whether the modules are currently loaded.
func (r *Route) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Route) monitorLocked() string {
	return r.sinkName + ".monitor"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
