// Package log provides the leveled logger shared by the capture, routing,
// and analysis packages. The level is stored atomically so hot paths can
// check it without locking.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel orders message severities from verbose to fatal.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelTags = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if int(l) < len(levelTags) {
		return levelTags[l]
	}
	return "UNKNOWN"
}

var levelNames = map[string]LogLevel{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarn,
	"WARNING": LevelWarn,
	"ERROR":   LevelError,
	"FATAL":   LevelFatal,
}

// ParseLevel maps a config or flag string to a level, case-insensitively.
// Unrecognized input reports false and falls back to LevelInfo.
func ParseLevel(s string) (LogLevel, bool) {
	level, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return LevelInfo, false
	}
	return level, true
}

// minLevel is the threshold below which emit drops messages.
var minLevel atomic.Uint32

// sink carries timestamps down to microseconds so capture callbacks and
// analysis ticks can be lined up when reading a trace.
var sink = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel replaces the global threshold.
func SetLevel(level LogLevel) {
	minLevel.Store(uint32(level))
}

// GetLevel returns the current threshold.
func GetLevel() LogLevel {
	return LogLevel(minLevel.Load())
}

// SetOutput redirects log output, primarily so tests can capture it.
func SetOutput(w io.Writer) {
	sink.SetOutput(w)
}

// emit writes one line with an aligned level tag, or drops it when the
// message is below the threshold.
func emit(level LogLevel, format string, v ...any) {
	if level < GetLevel() {
		return
	}
	sink.Printf("%-7s %s", "["+level.String()+"]", fmt.Sprintf(format, v...))
}

// Debugf logs high-volume diagnostics: device parameters, per-module IDs,
// tick timings. Off by default.
func Debugf(format string, v ...any) { emit(LevelDebug, format, v...) }

// Infof logs lifecycle events.
func Infof(format string, v ...any) { emit(LevelInfo, format, v...) }

// Warnf logs recoverable problems the program works around.
func Warnf(format string, v ...any) { emit(LevelWarn, format, v...) }

// Errorf logs failures that degrade the session without ending it.
func Errorf(format string, v ...any) { emit(LevelError, format, v...) }

// Fatalf logs regardless of level and exits the process.
func Fatalf(format string, v ...any) {
	sink.Fatalf("%-7s %s", "["+LevelFatal.String()+"]", fmt.Sprintf(format, v...))
}
