// SPDX-License-Identifier: MIT
//
// Package build carries build metadata injected at compile time via
// -ldflags, e.g.:
//
//	go build -ldflags "-X viztap/pkg/build.buildVersion=0.2.0 \
//	  -X viztap/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X viztap/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unset flags fall back to development defaults so plain `go run` works.
package build

import "fmt"

// Flags holds the resolved build metadata.
type Flags struct {
	Name    string
	Version string
	Commit  string
	Time    string
}

// Populated by -ldflags during release builds.
var (
	buildName    string
	buildVersion string
	buildCommit  string
	buildTime    string
)

// GetBuildFlags resolves the linker-injected values, substituting
// development defaults for anything left unset.
func GetBuildFlags() *Flags {
	f := &Flags{
		Name:    buildName,
		Version: buildVersion,
		Commit:  buildCommit,
		Time:    buildTime,
	}
	if f.Name == "" {
		f.Name = "viztap"
	}
	if f.Version == "" {
		f.Version = "dev"
	}
	if f.Commit == "" {
		f.Commit = "unknown"
	}
	if f.Time == "" {
		f.Time = "unknown"
	}
	return f
}

// String renders the metadata in the form used by --version output.
func (f *Flags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
