// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	applog "viztap/internal/log"
)

// configCandidates are the paths searched, in order, when no --config flag
// is given.
var configCandidates = []string{"viztap.yaml", "config.yaml"}

// LoadConfig builds the effective configuration in three layers: built-in
// defaults, then the YAML file (the given path, or the first candidate
// found when path is empty), then VIZTAP_* environment overrides. The
// merged result is validated before it is returned. Running with no file
// at all is fine; the defaults describe a working stereo session.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applog.Debugf("configuration: loaded %s", path)
	}

	// Environment overrides apply after the file so deployments can pin
	// individual values.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, candidate := range configCandidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// applyEnvOverrides copies recognized VIZTAP_* environment variables over
// the loaded values. Setting a transport address also enables that
// transport, so a single variable is enough to point a deployment at a
// receiver.
func (cfg *Config) applyEnvOverrides() {
	overrideString("VIZTAP_LOG_LEVEL", &cfg.LogLevel)
	overrideString("VIZTAP_MODE", &cfg.Viz.Mode)
	overrideBool("VIZTAP_LOOPBACK", &cfg.Loopback.Enabled)
	overrideString("VIZTAP_TARGET_SINK", &cfg.Loopback.TargetSink)
	if overrideString("VIZTAP_WEBSOCKET_ADDR", &cfg.Transport.WebSocketAddr) {
		cfg.Transport.WebSocketEnabled = true
	}
	if overrideString("VIZTAP_UDP_TARGET_ADDRESS", &cfg.Transport.UDPTargetAddress) {
		cfg.Transport.UDPEnabled = true
	}
}

func overrideString(name string, dst *string) bool {
	val, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	*dst = val
	applog.Debugf("configuration: %s overrides %q", name, val)
	return true
}

func overrideBool(name string, dst *bool) bool {
	val, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		applog.Warnf("configuration: %s=%q is not a boolean, ignoring", name, val)
		return false
	}
	*dst = parsed
	applog.Debugf("configuration: %s overrides %v", name, parsed)
	return true
}
